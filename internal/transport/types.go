package transport

import "context"

// Action is a single inline button. Exactly one of URL or Data is set:
// URL buttons open a link, Data buttons come back as a callback.
type Action struct {
	Text string
	URL  string
	Data string
}

type Message struct {
	Text           string
	ParseMode      string
	DisablePreview bool
	// Actions is a keyboard: one slice per row.
	Actions [][]Action
}

// Messenger delivers messages to chat destinations.
type Messenger interface {
	Send(ctx context.Context, chatID int64, msg Message) error
}

// MembershipChecker resolves whether a user belongs to a chat.
// Lookup failures are reported as MemberUnknown, never as an error.
type MembershipChecker interface {
	Membership(ctx context.Context, chatID, userID int64) MembershipStatus
}

type MembershipStatus int

const (
	MemberUnknown MembershipStatus = iota
	MemberNone
	MemberLeft
	MemberBanned
	MemberRestricted
	Member
	MemberAdmin
	MemberCreator
)

func (s MembershipStatus) IsMember() bool {
	switch s {
	case Member, MemberAdmin, MemberCreator, MemberRestricted:
		return true
	default:
		return false
	}
}

func (s MembershipStatus) String() string {
	switch s {
	case MemberNone:
		return "none"
	case MemberLeft:
		return "left"
	case MemberBanned:
		return "banned"
	case MemberRestricted:
		return "restricted"
	case Member:
		return "member"
	case MemberAdmin:
		return "administrator"
	case MemberCreator:
		return "creator"
	default:
		return "unknown"
	}
}

// Registration is emitted when the bot's own rights in a chat change.
// CanPost=false means the bot was removed or demoted.
type Registration struct {
	ChatID  int64
	Title   string
	Kind    string
	ActorID int64
	CanPost bool
}

type UpdateKind string

const (
	UpdateCommand  UpdateKind = "command"
	UpdateCallback UpdateKind = "callback"
)

// Update is an inbound user interaction forwarded by an adapter.
type Update struct {
	Kind UpdateKind

	ChatID       int64
	FromID       int64
	FromUsername string
	FromName     string
	Private      bool

	// Text holds the command message text for UpdateCommand.
	Text string

	// CallbackID and Data are set for UpdateCallback.
	CallbackID string
	Data       string
}

// Responder answers inbound updates.
type Responder interface {
	Messenger
	AnswerCallback(ctx context.Context, callbackID, text string) error
}
