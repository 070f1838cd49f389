package telegram

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	"jobbot/internal/transport"
)

const textLimit = 4000

func commandUpdate(m *tele.Message) (transport.Update, bool) {
	if m == nil || m.Sender == nil || m.Chat == nil || !strings.HasPrefix(m.Text, "/") {
		return transport.Update{}, false
	}
	return transport.Update{
		Kind:         transport.UpdateCommand,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		FromName:     displayName(m.Sender),
		Private:      m.Chat.Type == tele.ChatPrivate,
		Text:         m.Text,
	}, true
}

func callbackUpdate(cb *tele.Callback) (transport.Update, bool) {
	if cb == nil || cb.Sender == nil {
		return transport.Update{}, false
	}
	up := transport.Update{
		Kind:         transport.UpdateCallback,
		FromID:       cb.Sender.ID,
		FromUsername: cb.Sender.Username,
		FromName:     displayName(cb.Sender),
		CallbackID:   cb.ID,
		Data:         strings.TrimPrefix(cb.Data, "\f"),
	}
	if cb.Message != nil && cb.Message.Chat != nil {
		up.ChatID = cb.Message.Chat.ID
		up.Private = cb.Message.Chat.Type == tele.ChatPrivate
	} else {
		up.ChatID = cb.Sender.ID
		up.Private = true
	}
	return up, true
}

func displayName(u *tele.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

// registrationFrom turns a my_chat_member update into a Registration.
// Private chats are ignored.
func registrationFrom(u *tele.ChatMemberUpdate) (transport.Registration, bool) {
	if u == nil || u.Chat == nil || u.NewChatMember == nil || u.Chat.Type == tele.ChatPrivate {
		return transport.Registration{}, false
	}
	title := u.Chat.Title
	if title == "" && u.Chat.Username != "" {
		title = "@" + u.Chat.Username
	}
	reg := transport.Registration{
		ChatID:  u.Chat.ID,
		Title:   title,
		Kind:    kindOf(u.Chat.Type),
		CanPost: canPost(u.Chat.Type, u.NewChatMember),
	}
	if u.Sender != nil {
		reg.ActorID = u.Sender.ID
	}
	return reg, true
}

func kindOf(t tele.ChatType) string {
	switch t {
	case tele.ChatChannel, tele.ChatChannelPrivate:
		return "channel"
	case tele.ChatSuperGroup:
		return "supergroup"
	case tele.ChatGroup:
		return "group"
	default:
		return string(t)
	}
}

// canPost reports whether the bot may send to the chat in its new role.
// Channels need admin with post rights; groups only need membership.
func canPost(t tele.ChatType, m *tele.ChatMember) bool {
	switch m.Role {
	case tele.Creator:
		return true
	case tele.Administrator:
		if t == tele.ChatChannel || t == tele.ChatChannelPrivate {
			return m.CanPostMessages
		}
		return true
	case tele.Member:
		return t != tele.ChatChannel && t != tele.ChatChannelPrivate
	case tele.Restricted:
		return m.Member && m.CanSendMessages && t != tele.ChatChannel && t != tele.ChatChannelPrivate
	default:
		return false
	}
}

func memberStatus(m *tele.ChatMember) transport.MembershipStatus {
	if m == nil {
		return transport.MemberUnknown
	}
	switch m.Role {
	case tele.Creator:
		return transport.MemberCreator
	case tele.Administrator:
		return transport.MemberAdmin
	case tele.Member:
		return transport.Member
	case tele.Restricted:
		if m.Member {
			return transport.MemberRestricted
		}
		return transport.MemberNone
	case tele.Left:
		return transport.MemberLeft
	case tele.Kicked:
		return transport.MemberBanned
	default:
		return transport.MemberUnknown
	}
}

// keyboard builds an inline keyboard. Buttons carry raw callback data.
func keyboard(rows [][]transport.Action) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, act := range row {
			if act.Text == "" || (act.URL == "" && act.Data == "") {
				continue
			}
			r = append(r, tele.InlineButton{Text: act.Text, URL: act.URL, Data: act.Data})
		}
		if len(r) > 0 {
			kb = append(kb, r)
		}
	}
	if len(kb) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: kb}
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries and, for HTML, never cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, tele.ModeHTML)

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if html && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start {
				end = open
			}
		}
		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
