// Package aggregator runs one polling pass over every source and stores
// the new postings.
package aggregator

import (
	"context"
	"sync"
	"time"

	"jobbot/internal/extract"
	"jobbot/internal/posting"
	"jobbot/internal/source"
	logx "jobbot/pkg/logx"
)

// Inserter is the slice of the posting store a pass needs.
type Inserter interface {
	InsertIfAbsent(ctx context.Context, p *posting.Posting) (bool, error)
}

type Config struct {
	RSS  []source.Source
	HTML []source.Source
	// FallbackThreshold: HTML sources run when the RSS yield is below it.
	FallbackThreshold int
	// Delay is the pause between consecutive source calls.
	Delay  time.Duration
	Policy posting.FingerprintPolicy
}

// SourceResult is the outcome for one source in a pass.
type SourceResult struct {
	Name     string
	Fallback bool
	Fetched  int
	Inserted int
	Dupes    int
	Errors   int
}

// PassResult summarizes a pass.
type PassResult struct {
	TotalFetched  int
	NewlyInserted int
	Duplicates    int
	StoreErrors   int
	FallbackUsed  bool
	Sources       []SourceResult
}

type Aggregator struct {
	store Inserter
	log   logx.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	cfg Config
}

func New(cfg Config, store Inserter, log logx.Logger) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Aggregator{store: store, log: log, now: time.Now, sleep: sleepCtx}
	a.Apply(cfg)
	return a
}

// Apply swaps the source list and knobs. A running pass keeps its snapshot.
func (a *Aggregator) Apply(cfg Config) {
	if cfg.Policy == "" {
		cfg.Policy = posting.FingerprintTitleOrg
	}
	if cfg.FallbackThreshold < 0 {
		cfg.FallbackThreshold = 0
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

func (a *Aggregator) config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// RunPass polls RSS sources in order, falls back to HTML sources when the RSS
// yield is below the threshold, and inserts every posting independently.
// Store errors skip that posting only. Cancellation stops the pass between
// sources; rows inserted so far stay.
func (a *Aggregator) RunPass(ctx context.Context) PassResult {
	cfg := a.config()
	var res PassResult
	calls := 0

	run := func(srcs []source.Source, fallback bool) int {
		fetched := 0
		for _, src := range srcs {
			if ctx.Err() != nil {
				return fetched
			}
			if calls > 0 && cfg.Delay > 0 {
				if err := a.sleep(ctx, cfg.Delay); err != nil {
					return fetched
				}
			}
			calls++
			sr := a.runSource(ctx, src, cfg.Policy)
			sr.Fallback = fallback
			fetched += sr.Fetched
			res.Sources = append(res.Sources, sr)
			res.TotalFetched += sr.Fetched
			res.NewlyInserted += sr.Inserted
			res.Duplicates += sr.Dupes
			res.StoreErrors += sr.Errors
		}
		return fetched
	}

	rssYield := run(cfg.RSS, false)
	if rssYield < cfg.FallbackThreshold && len(cfg.HTML) > 0 && ctx.Err() == nil {
		a.log.Info("rss yield below threshold; using html fallback",
			logx.Int("rss_yield", rssYield), logx.Int("threshold", cfg.FallbackThreshold))
		res.FallbackUsed = true
		run(cfg.HTML, true)
	}

	a.log.Info("aggregation pass finished",
		logx.Int("fetched", res.TotalFetched),
		logx.Int("new", res.NewlyInserted),
		logx.Int("dupes", res.Duplicates),
		logx.Int("store_errors", res.StoreErrors),
		logx.Bool("fallback", res.FallbackUsed))
	return res
}

func (a *Aggregator) runSource(ctx context.Context, src source.Source, policy posting.FingerprintPolicy) SourceResult {
	sr := SourceResult{Name: src.Name()}
	raws := src.Fetch(ctx)
	sr.Fetched = len(raws)
	now := a.now()

	for _, raw := range raws {
		if raw.Source == "" {
			raw.Source = src.Name()
		}
		p := extract.Normalize(raw, now)
		if p.Title == "" {
			continue
		}
		p.Fingerprint = policy.Fingerprint(p)

		ok, err := a.store.InsertIfAbsent(ctx, &p)
		switch {
		case err != nil:
			sr.Errors++
			a.log.Warn("store insert failed; skipping posting",
				logx.String("source", sr.Name), logx.String("title", p.Title), logx.Err(err))
		case ok:
			sr.Inserted++
			a.log.Debug("new posting", logx.String("source", sr.Name), logx.Int64("id", p.ID), logx.String("title", p.Title))
		default:
			sr.Dupes++
		}
	}
	return sr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
