package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"jobbot/internal/runtime/supervisor"
	"jobbot/internal/transport"
	logx "jobbot/pkg/logx"
)

// Access controls who may run a command or press a button.
type Access int

const (
	AccessEveryone Access = iota
	// AccessMembers requires channel membership when the gate is enabled.
	AccessMembers
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Timeout overrides the router default; negative disables it.
	Timeout time.Duration
	Hidden  bool
	Handle  HandlerFunc
}

// CallbackRoute handles button data equal to Prefix or starting with Prefix+"_".
type CallbackRoute struct {
	Prefix string
	Access Access
	Handle HandlerFunc
}

// Request is one routed update.
type Request struct {
	Update  transport.Update
	Command string
	Args    []string
	// Payload is the callback data after the route prefix.
	Payload string
	Log     logx.Logger
}

// Gate decides AccessMembers. It returns false after replying to the user.
type Gate func(ctx context.Context, req *Request) bool

type Router struct {
	log     logx.Logger
	resp    transport.Responder
	timeout time.Duration
	workers int

	mu        sync.RWMutex
	commands  map[string]*Command
	ordered   []*Command
	callbacks []CallbackRoute
	owners    []int64
	gate      Gate
}

func NewRouter(resp transport.Responder, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:      log,
		resp:     resp,
		timeout:  30 * time.Second,
		workers:  4,
		commands: map[string]*Command{},
	}
}

func (r *Router) SetOwners(ids []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(ids)
	r.mu.Unlock()
}

func (r *Router) SetGate(g Gate) {
	r.mu.Lock()
	r.gate = g
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// Register adds commands; later registrations win on name clashes.
func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range cmds {
		c := cmds[i]
		if c.Name == "" || c.Handle == nil {
			continue
		}
		r.ordered = append(r.ordered, &c)
		r.commands[c.Name] = &c
		for _, a := range c.Aliases {
			r.commands[a] = &c
		}
	}
}

func (r *Router) RegisterCallbacks(routes ...CallbackRoute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, routes...)
}

// Commands lists registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.ordered))
	for _, c := range r.ordered {
		out = append(out, *c)
	}
	return out
}

// parseCommand splits "/search@jobbot ssc cgl" into ("search", ["ssc", "cgl"]).
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:]
}

// Run consumes updates with a bounded worker pool until ctx ends.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log))
	jobs := make(chan transport.Update, 64)
	for i := 0; i < r.workers; i++ {
		sup.GoRestart(fmt.Sprintf("command.worker.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up := <-jobs:
					r.Handle(c, up)
				}
			}
		})
	}
	r.log.Info("command router started", logx.Int("workers", r.workers))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Stop(stopCtx)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case jobs <- up:
			default:
				r.log.Warn("command queue full; update dropped", logx.Int64("from", up.FromID))
			}
		}
	}
}

// Handle routes one update synchronously.
func (r *Router) Handle(ctx context.Context, up transport.Update) {
	req := &Request{Update: up}
	var (
		h       HandlerFunc
		access  Access
		timeout = r.timeout
	)

	switch up.Kind {
	case transport.UpdateCommand:
		name, args := parseCommand(up.Text)
		r.mu.RLock()
		cmd := r.commands[name]
		r.mu.RUnlock()
		if cmd == nil {
			return
		}
		req.Command, req.Args = cmd.Name, args
		h, access = cmd.Handle, cmd.Access
		if cmd.Timeout != 0 {
			timeout = cmd.Timeout
		}
	case transport.UpdateCallback:
		route, payload, ok := r.matchCallback(up.Data)
		if !ok {
			_ = r.resp.AnswerCallback(ctx, up.CallbackID, "")
			return
		}
		req.Command, req.Payload = route.Prefix, payload
		h, access = route.Handle, route.Access
	default:
		return
	}

	req.Log = r.log.With(logx.String("cmd", req.Command), logx.Int64("from", up.FromID))
	h = Chain(h, r.mwAccess(access), mwTimeout(timeout), mwRecover(), mwRequestLog())
	_ = h(ctx, req)
}

func (r *Router) matchCallback(data string) (CallbackRoute, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.callbacks {
		if data == cb.Prefix {
			return cb, "", true
		}
		if rest, ok := strings.CutPrefix(data, cb.Prefix+"_"); ok {
			return cb, rest, true
		}
	}
	return CallbackRoute{}, "", false
}

func (r *Router) mwAccess(a Access) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			switch a {
			case AccessOwnerOnly:
				if !r.isOwner(req.Update.FromID) {
					req.Log.Debug("owner-only command refused")
					if req.Update.Kind == transport.UpdateCallback {
						return r.resp.AnswerCallback(ctx, req.Update.CallbackID, "Not allowed")
					}
					return nil
				}
			case AccessMembers:
				r.mu.RLock()
				gate := r.gate
				r.mu.RUnlock()
				if gate != nil && !r.isOwner(req.Update.FromID) && !gate(ctx, req) {
					return nil
				}
			}
			return next(ctx, req)
		}
	}
}

func mwTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func mwRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if p := recover(); p != nil {
					req.Log.Error("handler panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", p)
				}
			}()
			return next(ctx, req)
		}
	}
}

func mwRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Int64("chat", req.Update.ChatID),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				req.Log.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				req.Log.Info("request ok", fields...)
			default:
				req.Log.Debug("request ok", fields...)
			}
			return err
		}
	}
}
