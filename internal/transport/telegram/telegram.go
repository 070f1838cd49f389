// Package telegram implements the transport interfaces on top of telebot.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"jobbot/internal/runtime/supervisor"
	"jobbot/internal/transport"
	logx "jobbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe handshake. Tests only.
	Offline bool
}

// Adapter is a telebot long-poll client. It forwards commands and button
// presses as transport.Update and bot membership changes as
// transport.Registration.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	updates atomic.Pointer[chan<- transport.Update]
	regs    atomic.Pointer[chan<- transport.Registration]
	dropped atomic.Uint64

	runMu sync.Mutex
	sup   *supervisor.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout, AllowedUpdates: []string{"message", "callback_query", "my_chat_member"}},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	a.registerHandlers()
	return a, nil
}

// Username is the bot's own @username, empty when offline.
func (a *Adapter) Username() string {
	if a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := commandUpdate(c.Message()); ok {
			a.emitUpdate(up)
		}
		return nil
	})
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		if up, ok := callbackUpdate(c.Callback()); ok {
			a.emitUpdate(up)
		}
		return nil
	})
	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		if reg, ok := registrationFrom(c.ChatMember()); ok {
			a.emitRegistration(reg)
		}
		return nil
	})
}

func (a *Adapter) emitUpdate(up transport.Update) {
	p := a.updates.Load()
	if p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) emitRegistration(reg transport.Registration) {
	p := a.regs.Load()
	if p == nil {
		return
	}
	select {
	case *p <- reg:
	default:
		a.log.Warn("registration dropped (consumer busy)", logx.Int64("chat", reg.ChatID))
	}
}

// Start begins long polling. Updates that do not fit in the channels are
// dropped and counted.
func (a *Adapter) Start(ctx context.Context, updates chan<- transport.Update, regs chan<- transport.Registration) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.updates.Store(&updates)
	a.regs.Store(&regs)
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "telegram"))))
	sup := a.sup

	sup.Go("drop_report", func(c context.Context) error {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				if n := a.dropped.Swap(0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n))
				}
			}
		}
	})
	sup.Go("stop_on_cancel", func(c context.Context) error {
		<-c.Done()
		a.bot.Stop()
		return nil
	})
	// Start returns only after Stop; an early return is treated as a crash
	sup.GoRestart("poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, supervisor.WithBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.runMu.Unlock()
	a.updates.Store(nil)
	a.regs.Store(nil)
	if sup == nil {
		return nil
	}
	// long-poll may hold getUpdates open; keep shutdown snappy
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Stop(wctx); err != nil {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

// Send delivers msg, splitting long text. The keyboard rides on the last chunk.
func (a *Adapter) Send(ctx context.Context, chatID int64, msg transport.Message) error {
	chunks := splitText(msg.Text, textLimit, msg.ParseMode)
	chat := &tele.Chat{ID: chatID}
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{ParseMode: msg.ParseMode, DisableWebPagePreview: msg.DisablePreview}
		if i == len(chunks)-1 {
			opt.ReplyMarkup = keyboard(msg.Actions)
		}
		if err := a.sendCtx(ctx, chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// sendCtx lets ctx bound a send; telebot itself has no per-call context.
func (a *Adapter) sendCtx(ctx context.Context, chat *tele.Chat, text string, opt *tele.SendOptions) error {
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(chat, text, opt)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// Membership looks up userID in chatID. Any API failure is MemberUnknown.
func (a *Adapter) Membership(ctx context.Context, chatID, userID int64) transport.MembershipStatus {
	if ctx.Err() != nil {
		return transport.MemberUnknown
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		a.log.Debug("membership lookup failed", logx.Int64("chat", chatID), logx.Int64("user", userID), logx.Err(err))
		return transport.MemberUnknown
	}
	return memberStatus(m)
}

// ChatTitle resolves a chat's title, falling back to its @username.
func (a *Adapter) ChatTitle(ctx context.Context, chatID int64) (title, kind string, err error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	ch, err := a.bot.ChatByID(chatID)
	if err != nil {
		return "", "", err
	}
	title = ch.Title
	if title == "" && ch.Username != "" {
		title = "@" + ch.Username
	}
	return title, string(ch.Type), nil
}

// Command is one entry in the client-side command menu.
type Command struct {
	Name        string
	Description string
}

// SetCommands publishes the command menu.
func (a *Adapter) SetCommands(ctx context.Context, cmds []Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, tele.Command{Text: c.Name, Description: c.Description})
	}
	return a.bot.SetCommands(out)
}
