// Package app wires config, storage, the broadcast pipeline and the
// Telegram front end into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"jobbot/internal/aggregator"
	"jobbot/internal/bot"
	"jobbot/internal/broadcast"
	"jobbot/internal/config"
	"jobbot/internal/dispatch"
	"jobbot/internal/lock"
	"jobbot/internal/metrics"
	"jobbot/internal/posting"
	"jobbot/internal/runtime/supervisor"
	"jobbot/internal/storage"
	"jobbot/internal/transport"
	"jobbot/internal/transport/telegram"
	logx "jobbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store  storage.Store
	tg     *telegram.Adapter
	locker lock.Locker

	sink       metrics.Sink
	metricsSrv *metrics.Server

	agg   *aggregator.Aggregator
	disp  *dispatch.Dispatcher
	sched *broadcast.Scheduler
	bot   *bot.Bot

	updates chan transport.Update
	regs    chan transport.Registration
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (_ *App, err error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		updates: make(chan transport.Update, 256),
		regs:    make(chan transport.Registration, 32),
	}
	defer func() {
		if err != nil {
			a.closeResources()
			if a.logs != nil {
				_ = a.logs.Close()
			}
		}
	}()

	// The adapter exists before the log service, which needs it as a sender.
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	a.tg, err = telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	// Enable the Telegram sink only after its target is set, so Apply does
	// not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	boot := logCfg
	boot.Telegram.Enabled = false
	var log logx.Logger
	a.logs, log = logx.New(boot, a.tg)
	a.logs.SetTelegramTarget(logTarget(cfg))
	a.logs.Apply(logCfg)
	a.log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	a.locker, err = openLocker(ctx, cfg, log.With(logx.String("comp", "lock")))
	if err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}

	a.sink = metrics.Noop{}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		mlog := log.With(logx.String("comp", "metrics"))
		a.sink = metrics.NewPrometheusSink(reg, mlog)
		a.metricsSrv = metrics.NewServer(cfg.Metrics.Addr, reg, mlog)
	}

	aggCfg, err := mapAggregatorConfig(cfg, log.With(logx.String("comp", "source")))
	if err != nil {
		return nil, err
	}
	a.agg = aggregator.New(aggCfg, a.store, log.With(logx.String("comp", "aggregator")))

	dispCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	format := func(p posting.Posting) transport.Message {
		return bot.PostingMessage(p, a.cfgm.Get().Telegram.ChannelUsername)
	}
	a.disp = dispatch.New(dispCfg, a.tg, a.store, format, log.With(logx.String("comp", "dispatch")), a.sink)

	bcCfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = broadcast.New(bcCfg, a.agg, a.store, a.disp, a.locker, a.sink, log.With(logx.String("comp", "broadcast")))

	a.bot = bot.New(mapBotConfig(cfg, bcCfg.CycleTimeout), a.store, a.sched, a.tg, a.tg, log.With(logx.String("comp", "bot")))

	a.log.Info("app built",
		logx.String("storage", sc.Driver),
		logx.Int("rss_sources", len(aggCfg.RSS)),
		logx.Int("html_sources", len(aggCfg.HTML)),
		logx.Bool("broadcast", bcCfg.Enabled),
		logx.Bool("metrics", cfg.Metrics.Enabled),
		logx.Bool("redis_lock", strings.TrimSpace(cfg.Lock.RedisURL) != ""))
	return a, nil
}

// Scheduler exposes the broadcast scheduler.
func (a *App) Scheduler() *broadcast.Scheduler { return a.sched }

// Done is closed once the app context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first task failure that was not recovered by a restart.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.cfgm.SetValidator(validateReload)
	runCtx := a.sup.Context()

	if err := a.tg.Start(runCtx, a.updates, a.regs); err != nil {
		return err
	}

	cfg := a.cfgm.Get()
	regCtx, cancel := context.WithTimeout(runCtx, 15*time.Second)
	err := registerChannel(regCtx, a.store, a.tg, cfg.Telegram.ChannelID, cfg.Telegram.ChannelUsername, a.log)
	cancel()
	if err != nil {
		a.log.Warn("channel registration failed", logx.Err(err))
	}
	a.publishCommands(runCtx)

	router := a.bot.Router()
	a.sup.Go("commands", func(c context.Context) error { return router.Run(c, a.updates) })
	a.sup.GoRestart("registrations", func(c context.Context) error {
		return consumeRegistrations(c, a.store, a.regs, a.log.With(logx.String("comp", "destinations")))
	})
	if a.metricsSrv != nil {
		srv := a.metricsSrv
		a.sup.GoRestart("metrics.server", srv.Run, supervisor.WithBackoff(time.Second, time.Minute))
	}
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if err := a.sched.Start(runCtx); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	a.log.Info("app started", logx.String("bot", a.tg.Username()))
	return nil
}

func (a *App) publishCommands(ctx context.Context) {
	var cmds []telegram.Command
	for _, c := range a.bot.Router().Commands() {
		if c.Hidden {
			continue
		}
		cmds = append(cmds, telegram.Command{Name: c.Name, Description: c.Description})
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.tg.SetCommands(cctx, cmds); err != nil {
		a.log.Warn("publishing command menu failed", logx.Err(err))
	}
}

// Stop shuts components down in dependency order, each step bounded so one
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("step", name), logx.Err(err))
			}
			a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("step", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// triggers first, then in-flight work, then transports and storage
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 5*time.Second, a.sup.Stop)
	step("telegram", 3*time.Second, a.tg.Stop)
	step("resources", 3*time.Second, func(context.Context) error { a.closeResources(); return nil })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeResources() {
	if a.locker != nil {
		if err := a.locker.Close(); err != nil {
			a.log.Warn("lock close failed", logx.Err(err))
		}
		a.locker = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
}
