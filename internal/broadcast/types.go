package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"jobbot/internal/aggregator"
	"jobbot/internal/dispatch"
	"jobbot/internal/posting"
)

// ErrCycleInProgress is returned by RunNow while another cycle holds the gate.
var ErrCycleInProgress = errors.New("broadcast: cycle already in progress")

// State is the cycle phase.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateDispatching:
		return "dispatching"
	default:
		return "idle"
	}
}

// Trigger names what started a cycle.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

type Config struct {
	Enabled bool
	// Interval accepts anything ParseSchedule does.
	Interval     string
	InitialDelay time.Duration
	BatchSize    int
	CycleTimeout time.Duration
	Timezone     string
}

func (c Config) withDefaults() Config {
	if c.Interval == "" {
		c.Interval = "30m"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 3
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 10 * time.Minute
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	return c
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	ID      string
	Trigger string
	// Found is the number of raw postings the sources returned.
	Found           int
	NewCount        int
	DispatchedCount int
	FallbackUsed    bool
	// Skipped is set when the cycle did not run at all.
	Skipped bool

	StartedAt time.Time
	Duration  time.Duration
	Pass      aggregator.PassResult
	Report    dispatch.Report
	Err       error
}

// Aggregator runs one polling pass.
type Aggregator interface {
	RunPass(ctx context.Context) aggregator.PassResult
}

// Dispatcher delivers one batch.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch []posting.Posting, dests []posting.Destination) dispatch.Report
}

// Store is what a cycle reads between the two phases.
type Store interface {
	ListUndelivered(ctx context.Context, limit int) ([]posting.Posting, error)
	ListActiveDestinations(ctx context.Context) ([]posting.Destination, error)
}

// runGate allows one holder at a time and never blocks.
type runGate struct {
	mu      sync.Mutex
	running bool
}

func (g *runGate) tryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return false
	}
	g.running = true
	return true
}

func (g *runGate) release() {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}
