package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"jobbot/internal/lock"
	"jobbot/internal/metrics"
	logx "jobbot/pkg/logx"
)

type Scheduler struct {
	agg    Aggregator
	disp   Dispatcher
	store  Store
	locker lock.Locker
	sink   metrics.Sink
	log    logx.Logger
	now    func() time.Time

	gate  runGate
	state atomic.Int32

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entry   cron.EntryID
	baseCtx context.Context
	last    CycleResult
	started bool
}

// New builds a Scheduler. locker and sink may be nil.
func New(cfg Config, agg Aggregator, store Store, disp Dispatcher, locker lock.Locker, sink metrics.Sink, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if locker == nil {
		locker = lock.Local{}
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Scheduler{
		agg:    agg,
		disp:   disp,
		store:  store,
		locker: locker,
		sink:   sink,
		log:    log,
		now:    time.Now,
		cfg:    cfg.withDefaults(),
	}
}

// State reports the current cycle phase.
func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(st State) { s.state.Store(int32(st)) }

// Last returns the most recent cycle that actually ran.
func (s *Scheduler) Last() CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Next returns the next scheduled trigger, or zero when not scheduled.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil || s.entry == 0 {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

func (s *Scheduler) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start begins scheduled triggering. Scheduled cycles derive from ctx.
// When the broadcast is disabled only RunNow works.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.baseCtx = ctx
	s.started = true
	return s.scheduleLocked(s.cfg.InitialDelay)
}

// scheduleLocked (re)creates the cron runner. firstIn > 0 overrides the
// first trigger time.
func (s *Scheduler) scheduleLocked(firstIn time.Duration) error {
	s.stopCronLocked()
	cfg := s.cfg
	if !cfg.Enabled {
		s.log.Info("scheduled broadcast disabled")
		return nil
	}
	sch, err := ParseSchedule(cfg.Interval)
	if err != nil {
		return err
	}
	base, err := cronSpec(sch)
	if err != nil {
		return err
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", cfg.Timezone), logx.Err(err))
		loc = time.Local
	}

	var spec cron.Schedule = base
	if firstIn > 0 {
		spec = &firstRunSchedule{base: base, first: s.now().Add(firstIn)}
	}
	c := cron.New(cron.WithLocation(loc))
	s.entry = c.Schedule(spec, cron.FuncJob(s.scheduledRun))
	s.c = c
	c.Start()
	s.log.Info("broadcast scheduled",
		logx.String("schedule", sch.String()),
		logx.Duration("first_in", firstIn),
		logx.String("tz", loc.String()))
	return nil
}

func (s *Scheduler) stopCronLocked() {
	if s.c == nil {
		return
	}
	// running cycles keep going; only triggering stops
	s.c.Stop()
	s.c = nil
	s.entry = 0
}

func (s *Scheduler) scheduledRun() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	res, err := s.run(ctx, TriggerSchedule)
	if errors.Is(err, ErrCycleInProgress) || errors.Is(err, lock.ErrNotAcquired) {
		s.log.Debug("scheduled cycle skipped", logx.Err(err))
		return
	}
	if err != nil {
		s.log.Warn("scheduled cycle failed", logx.String("cycle", res.ID), logx.Err(err))
	}
}

// Apply swaps config. Schedule changes take effect immediately without a
// new startup delay.
func (s *Scheduler) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	if cfg.Enabled {
		if _, err := ParseSchedule(cfg.Interval); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if !s.started {
		return nil
	}
	if old.Enabled != cfg.Enabled || old.Interval != cfg.Interval || old.Timezone != cfg.Timezone {
		return s.scheduleLocked(0)
	}
	return nil
}

// Stop halts triggering and waits for a running scheduled cycle, bounded
// by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entry = 0
	s.started = false
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// RunNow runs a cycle immediately on the caller's goroutine. It returns
// ErrCycleInProgress, with Skipped set, when a cycle is already running.
func (s *Scheduler) RunNow(ctx context.Context) (CycleResult, error) {
	return s.run(ctx, TriggerManual)
}

func (s *Scheduler) run(ctx context.Context, trigger string) (res CycleResult, err error) {
	res = CycleResult{Trigger: trigger}
	if !s.gate.tryAcquire() {
		s.sink.CycleSkipped(metrics.SkipInProgress)
		res.Skipped = true
		return res, ErrCycleInProgress
	}
	defer s.gate.release()

	cfg := s.config()
	ctx, cancel := context.WithTimeout(ctx, cfg.CycleTimeout)
	defer cancel()

	lease, err := s.locker.Acquire(ctx)
	if err != nil {
		res.Skipped = true
		s.sink.CycleSkipped(metrics.SkipLocked)
		if errors.Is(err, lock.ErrNotAcquired) {
			return res, err
		}
		return res, fmt.Errorf("acquire cycle lock: %w", err)
	}
	defer func() {
		rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer rcancel()
		if rerr := lease.Release(rctx); rerr != nil {
			s.log.Warn("cycle lock release failed", logx.Err(rerr))
		}
	}()

	res.ID = uuid.NewString()
	res.StartedAt = s.now()
	log := s.log.With(logx.String("cycle", res.ID), logx.String("trigger", trigger))
	s.sink.CycleStarted(trigger)
	log.Info("cycle started")

	defer func() {
		s.setState(StateIdle)
		res.Duration = s.now().Sub(res.StartedAt)
		res.Err = err
		outcome := cycleOutcome(res, err)
		s.sink.CycleCompleted(res.Duration, outcome)
		s.mu.Lock()
		s.last = res
		s.mu.Unlock()
		log.Info("cycle finished",
			logx.String("outcome", outcome),
			logx.Int("found", res.Found),
			logx.Int("new", res.NewCount),
			logx.Int("dispatched", res.DispatchedCount),
			logx.Bool("fallback", res.FallbackUsed),
			logx.Duration("took", res.Duration))
	}()

	s.setState(StateFetching)
	pass := s.agg.RunPass(ctx)
	res.Pass = pass
	res.Found = pass.TotalFetched
	res.NewCount = pass.NewlyInserted
	res.FallbackUsed = pass.FallbackUsed
	for _, sr := range pass.Sources {
		s.sink.SourceFetched(sr.Name, sr.Fetched, sr.Fallback)
	}
	s.sink.PostingsInserted(pass.NewlyInserted)
	s.sink.StoreErrors(pass.StoreErrors)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if pass.NewlyInserted == 0 {
		return res, nil
	}

	s.setState(StateDispatching)
	batch, err := s.store.ListUndelivered(ctx, cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list undelivered: %w", err)
	}
	if len(batch) == 0 {
		return res, nil
	}
	dests, err := s.store.ListActiveDestinations(ctx)
	if err != nil {
		return res, fmt.Errorf("list destinations: %w", err)
	}
	rep := s.disp.Dispatch(ctx, batch, dests)
	res.Report = rep
	res.DispatchedCount = rep.Marked
	if rep.Cancelled {
		return res, ctx.Err()
	}
	return res, nil
}

func cycleOutcome(res CycleResult, err error) string {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	case err != nil:
		return metrics.OutcomeError
	case res.NewCount == 0:
		return metrics.OutcomeEmpty
	default:
		return metrics.OutcomeOK
	}
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}
