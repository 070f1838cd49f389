// Package bot is the interactive side of the service: user commands, inline
// buttons and the channel-membership gate.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"jobbot/internal/broadcast"
	"jobbot/internal/lock"
	"jobbot/internal/posting"
	"jobbot/internal/storage"
	"jobbot/internal/transport"
	logx "jobbot/pkg/logx"
)

// Store is the read side of the posting store plus user registration.
type Store interface {
	ListUndelivered(ctx context.Context, limit int) ([]posting.Posting, error)
	ListLatest(ctx context.Context, limit int) ([]posting.Posting, error)
	Get(ctx context.Context, id int64) (posting.Posting, error)
	Search(ctx context.Context, keyword string, limit int) ([]posting.Posting, error)
	UpsertUser(ctx context.Context, u posting.User) error
	Stats(ctx context.Context) (storage.Stats, error)
}

// Cycler is the broadcast scheduler as seen from commands.
type Cycler interface {
	RunNow(ctx context.Context) (broadcast.CycleResult, error)
	State() broadcast.State
	Last() broadcast.CycleResult
	Next() time.Time
}

type Config struct {
	Owners []int64
	// ChannelID is checked for membership; ChannelUsername builds the join link.
	ChannelID         int64
	ChannelUsername   string
	RequireMembership bool
	// FetchTimeout bounds /fetchnow.
	FetchTimeout time.Duration
}

const (
	latestLimit = 5
	searchLimit = 10
)

type Bot struct {
	store   Store
	cycler  Cycler
	resp    transport.Responder
	members transport.MembershipChecker
	log     logx.Logger
	router  *Router
	now     func() time.Time

	mu  sync.RWMutex
	cfg Config
}

func New(cfg Config, store Store, cycler Cycler, resp transport.Responder, members transport.MembershipChecker, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		store:   store,
		cycler:  cycler,
		resp:    resp,
		members: members,
		log:     log,
		router:  NewRouter(resp, log),
		now:     time.Now,
	}
	b.Apply(cfg)
	b.register()
	return b
}

func (b *Bot) Router() *Router { return b.router }

// Apply swaps owners and gate settings.
func (b *Bot) Apply(cfg Config) {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Minute
	}
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
	b.router.SetOwners(cfg.Owners)
}

func (b *Bot) config() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *Bot) register() {
	b.router.Register(
		Command{Name: "start", Description: "Start the bot and verify", Handle: b.cmdStart},
		Command{Name: "latest", Description: "Latest 5 jobs", Access: AccessMembers, Handle: b.cmdLatest},
		Command{Name: "search", Description: "Search jobs by keyword", Usage: "/search SSC", Access: AccessMembers, Handle: b.cmdSearch},
		Command{Name: "help", Aliases: []string{"h"}, Description: "Show commands", Handle: b.cmdHelp},
		Command{Name: "fetchnow", Description: "Run a fetch and broadcast cycle now", Access: AccessOwnerOnly, Hidden: true, Timeout: -1, Handle: b.cmdFetchNow},
		Command{Name: "status", Description: "Pipeline status", Access: AccessOwnerOnly, Hidden: true, Handle: b.cmdStatus},
	)
	b.router.RegisterCallbacks(
		CallbackRoute{Prefix: "verify", Handle: b.cbVerify},
		CallbackRoute{Prefix: "details", Access: AccessMembers, Handle: b.cbDetails},
		CallbackRoute{Prefix: "dates", Access: AccessMembers, Handle: b.cbDates},
		CallbackRoute{Prefix: "help", Handle: b.cbHelp},
	)
	b.router.SetGate(b.membershipGate)
}

func (b *Bot) reply(ctx context.Context, req *Request, text string) error {
	return b.resp.Send(ctx, req.Update.ChatID, transport.Message{Text: text, ParseMode: "HTML", DisablePreview: true})
}

// isMember checks the user against the configured channel. It reports
// true when the gate is off.
func (b *Bot) isMember(ctx context.Context, userID int64) (bool, transport.MembershipStatus) {
	cfg := b.config()
	if !cfg.RequireMembership || cfg.ChannelID == 0 || b.members == nil {
		return true, transport.Member
	}
	st := b.members.Membership(ctx, cfg.ChannelID, userID)
	return st.IsMember(), st
}

func (b *Bot) membershipGate(ctx context.Context, req *Request) bool {
	ok, st := b.isMember(ctx, req.Update.FromID)
	if ok {
		return true
	}
	req.Log.Debug("membership gate refused", logx.String("status", st.String()))
	if req.Update.Kind == transport.UpdateCallback {
		_ = b.resp.AnswerCallback(ctx, req.Update.CallbackID, "Join the channel first")
	}
	_ = b.sendJoinPrompt(ctx, req.Update.ChatID, st)
	return false
}

func (b *Bot) sendJoinPrompt(ctx context.Context, chatID int64, st transport.MembershipStatus) error {
	cfg := b.config()
	text := "⚠️ <b>Please join our channel first to use this bot!</b>"
	if st == transport.MemberUnknown {
		text = "⚠️ <b>Could not check your channel membership.</b> Join the channel, then press Verify."
	}
	var rows [][]transport.Action
	if u := strings.TrimPrefix(cfg.ChannelUsername, "@"); u != "" {
		rows = append(rows, []transport.Action{{Text: "📢 Join Channel", URL: "https://t.me/" + u}})
	}
	rows = append(rows, []transport.Action{{Text: "✅ Verify", Data: "verify"}})
	return b.resp.Send(ctx, chatID, transport.Message{Text: text, ParseMode: "HTML", Actions: rows})
}

func (b *Bot) saveUser(ctx context.Context, up transport.Update, verified bool) {
	err := b.store.UpsertUser(ctx, posting.User{
		ID:       up.FromID,
		Username: up.FromUsername,
		Name:     up.FromName,
		JoinedAt: b.now(),
		Verified: verified,
	})
	if err != nil {
		b.log.Warn("save user failed", logx.Int64("user", up.FromID), logx.Err(err))
	}
}

func (b *Bot) cmdStart(ctx context.Context, req *Request) error {
	ok, st := b.isMember(ctx, req.Update.FromID)
	b.saveUser(ctx, req.Update, ok)
	if !ok {
		return b.sendJoinPrompt(ctx, req.Update.ChatID, st)
	}
	name := req.Update.FromName
	if name == "" {
		name = "there"
	}
	return b.reply(ctx, req, fmt.Sprintf(
		"👋 Welcome <b>%s</b>!\n\n✅ You are verified!\n\n🚀 Use /latest to see recent jobs\n🔍 Use /search [keyword] to find jobs\n❓ Use /help for all commands",
		esc(name)))
}

func (b *Bot) cbVerify(ctx context.Context, req *Request) error {
	ok, st := b.isMember(ctx, req.Update.FromID)
	if !ok {
		msg := "❌ Not joined yet! Join the channel first."
		if st == transport.MemberUnknown {
			msg = "❌ Error verifying. Try again."
		}
		_ = b.resp.AnswerCallback(ctx, req.Update.CallbackID, msg)
		return nil
	}
	b.saveUser(ctx, req.Update, true)
	_ = b.resp.AnswerCallback(ctx, req.Update.CallbackID, "✅ Verified!")
	return b.reply(ctx, req, "✅ <b>Verified!</b> Use /latest to see jobs")
}

func (b *Bot) sendPostings(ctx context.Context, req *Request, ps []posting.Posting) error {
	channel := b.config().ChannelUsername
	for _, p := range ps {
		if err := b.resp.Send(ctx, req.Update.ChatID, PostingMessage(p, channel)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) cmdLatest(ctx context.Context, req *Request) error {
	ps, err := b.store.ListUndelivered(ctx, latestLimit)
	if err == nil && len(ps) == 0 {
		ps, err = b.store.ListLatest(ctx, latestLimit)
	}
	if err != nil {
		_ = b.reply(ctx, req, "⚠️ Could not load jobs right now.")
		return err
	}
	if len(ps) == 0 {
		return b.reply(ctx, req, "🔄 No new jobs right now. Check back later!")
	}
	return b.sendPostings(ctx, req, ps)
}

func (b *Bot) cmdSearch(ctx context.Context, req *Request) error {
	kw := strings.TrimSpace(strings.Join(req.Args, " "))
	if kw == "" {
		return b.reply(ctx, req, "Usage: /search SSC\nUsage: /search Railway")
	}
	ps, err := b.store.Search(ctx, kw, searchLimit)
	if err != nil {
		_ = b.reply(ctx, req, "⚠️ Search failed, try again later.")
		return err
	}
	if len(ps) == 0 {
		return b.reply(ctx, req, fmt.Sprintf("❌ No jobs found for '%s'", esc(strings.ToUpper(kw))))
	}
	return b.sendPostings(ctx, req, ps)
}

func (b *Bot) helpText(owner bool) string {
	var sb strings.Builder
	sb.WriteString("🤖 <b>Commands</b>\n\n")
	for _, c := range b.router.Commands() {
		if c.Hidden && !owner {
			continue
		}
		usage := "/" + c.Name
		if c.Usage != "" {
			usage = c.Usage
		}
		fmt.Fprintf(&sb, "%s - %s\n", esc(usage), esc(c.Description))
	}
	if ch := b.config().ChannelUsername; ch != "" {
		fmt.Fprintf(&sb, "\n📢 Channel: %s", esc(ch))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	return b.reply(ctx, req, b.helpText(b.router.isOwner(req.Update.FromID)))
}

func (b *Bot) cbHelp(ctx context.Context, req *Request) error {
	_ = b.resp.AnswerCallback(ctx, req.Update.CallbackID, "")
	return b.reply(ctx, req, b.helpText(b.router.isOwner(req.Update.FromID)))
}

func (b *Bot) lookup(ctx context.Context, req *Request) (posting.Posting, bool) {
	id, err := strconv.ParseInt(req.Payload, 10, 64)
	if err != nil || id <= 0 {
		_ = b.resp.AnswerCallback(ctx, req.Update.CallbackID, "Unknown job")
		return posting.Posting{}, false
	}
	p, err := b.store.Get(ctx, id)
	if err != nil {
		msg := "Could not load job"
		if errors.Is(err, storage.ErrNotFound) {
			msg = "This job is no longer available"
		}
		_ = b.resp.AnswerCallback(ctx, req.Update.CallbackID, msg)
		return posting.Posting{}, false
	}
	_ = b.resp.AnswerCallback(ctx, req.Update.CallbackID, "")
	return p, true
}

// Button presses in a channel are answered privately, since bots cannot
// post replies under a channel message on a user's behalf.
func (b *Bot) callbackTarget(req *Request) int64 {
	if req.Update.Private || req.Update.ChatID == 0 {
		return req.Update.FromID
	}
	if req.Update.ChatID == b.config().ChannelID {
		return req.Update.FromID
	}
	return req.Update.ChatID
}

func (b *Bot) cbDetails(ctx context.Context, req *Request) error {
	p, ok := b.lookup(ctx, req)
	if !ok {
		return nil
	}
	return b.resp.Send(ctx, b.callbackTarget(req), transport.Message{Text: DetailsText(p), ParseMode: "HTML", DisablePreview: true})
}

func (b *Bot) cbDates(ctx context.Context, req *Request) error {
	p, ok := b.lookup(ctx, req)
	if !ok {
		return nil
	}
	return b.resp.Send(ctx, b.callbackTarget(req), transport.Message{Text: DatesText(p), ParseMode: "HTML"})
}

func (b *Bot) cmdFetchNow(ctx context.Context, req *Request) error {
	_ = b.reply(ctx, req, "⏳ Fetching…")
	runCtx, cancel := context.WithTimeout(ctx, b.config().FetchTimeout)
	res, err := b.cycler.RunNow(runCtx)
	cancel()
	switch {
	case errors.Is(err, broadcast.ErrCycleInProgress):
		return b.reply(ctx, req, "⏳ A cycle is already running. Try again shortly.")
	case errors.Is(err, lock.ErrNotAcquired):
		return b.reply(ctx, req, "⏳ Another instance is running a cycle. Try again shortly.")
	case err != nil:
		_ = b.reply(ctx, req, "⚠️ Cycle failed: "+esc(err.Error()))
		return err
	}
	text := fmt.Sprintf("✅ Cycle done\n• Found: %d\n• New: %d\n• Dispatched: %d", res.Found, res.NewCount, res.DispatchedCount)
	if res.FallbackUsed {
		text += "\n• HTML fallback used"
	}
	return b.reply(ctx, req, text)
}

func (b *Bot) cmdStatus(ctx context.Context, req *Request) error {
	st, err := b.store.Stats(ctx)
	if err != nil {
		_ = b.reply(ctx, req, "⚠️ Could not read store stats.")
		return err
	}
	var sb strings.Builder
	sb.WriteString("📊 <b>Status</b>\n\n")
	fmt.Fprintf(&sb, "• Postings: %d (undelivered %d)\n", st.Postings, st.Undelivered)
	fmt.Fprintf(&sb, "• Destinations: %d\n• Users: %d\n", st.ActiveDestinations, st.Users)
	fmt.Fprintf(&sb, "• Cycle: %s\n", b.cycler.State())
	if last := b.cycler.Last(); !last.StartedAt.IsZero() {
		fmt.Fprintf(&sb, "• Last cycle: %s (%s) new %d, dispatched %d\n",
			last.StartedAt.Format("02-01-2006 15:04"), last.Duration.Round(time.Second), last.NewCount, last.DispatchedCount)
		if last.Err != nil {
			fmt.Fprintf(&sb, "• Last error: %s\n", esc(last.Err.Error()))
		}
	}
	if next := b.cycler.Next(); !next.IsZero() {
		fmt.Fprintf(&sb, "• Next cycle: %s\n", next.Format("02-01-2006 15:04"))
	}
	return b.reply(ctx, req, strings.TrimRight(sb.String(), "\n"))
}
