// Package dispatch delivers a batch of postings to every active destination.
//
// Sends are paced by a token bucket and bounded by a per-send timeout. A
// failing destination never stops the loop; it is recorded and, after enough
// consecutive failures, deactivated. Once the loop completes, each posting
// in the batch is marked delivered exactly once, whether or not any send
// succeeded. Delivery is therefore at-least-once per cycle attempt and a
// posting is never re-sent by a later cycle after a completed loop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jobbot/internal/metrics"
	"jobbot/internal/posting"
	"jobbot/internal/transport"
	logx "jobbot/pkg/logx"
)

// Store is the part of the posting store the dispatcher writes to.
type Store interface {
	MarkDelivered(ctx context.Context, id int64) error
	RecordDelivery(ctx context.Context, destID int64, ok bool, deactivateAfter int) (bool, error)
}

// Formatter renders one posting as a message.
type Formatter func(p posting.Posting) transport.Message

type Config struct {
	// SendDelay is the minimum spacing between two sends.
	SendDelay   time.Duration
	SendTimeout time.Duration
	// DeactivateAfter consecutive failures switch a destination off; <=0 never.
	DeactivateAfter int
}

func (c Config) withDefaults() Config {
	if c.SendDelay < 0 {
		c.SendDelay = 0
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	return c
}

// Report summarizes one Dispatch call.
type Report struct {
	Attempted   int
	Succeeded   int
	Failed      int
	Marked      int
	Deactivated int
	// Cancelled is set when ctx ended before the loop finished; nothing was
	// marked in that case.
	Cancelled bool
}

type Dispatcher struct {
	msgr    transport.Messenger
	store   Store
	format  Formatter
	log     logx.Logger
	metrics metrics.Sink

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, msgr transport.Messenger, store Store, format Formatter, log logx.Logger, sink metrics.Sink) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	if format == nil {
		format = PlainText
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		msgr:    msgr,
		store:   store,
		format:  format,
		log:     log,
		metrics: sink,
		cfg:     cfg,
		limiter: rate.NewLimiter(limitFor(cfg.SendDelay), 1),
	}
}

func limitFor(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Apply updates pacing and thresholds for subsequent sends.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	d.limiter.SetLimit(limitFor(cfg.SendDelay))
}

func (d *Dispatcher) config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Dispatch sends every posting in batch to every destination in dests, in
// order, then marks the batch delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []posting.Posting, dests []posting.Destination) Report {
	cfg := d.config()
	var rep Report
	d.metrics.ActiveDestinations(len(dests))

	msgs := make([]transport.Message, len(batch))
	for i, p := range batch {
		msgs[i] = d.format(p)
	}

loop:
	for _, dest := range dests {
		dlog := d.log.With(logx.Int64("dest", dest.ID), logx.String("dest_name", dest.Name))
		for i, p := range batch {
			if err := d.limiter.Wait(ctx); err != nil {
				rep.Cancelled = true
				break loop
			}
			rep.Attempted++
			err := d.send(ctx, cfg, dest.ID, msgs[i])
			if err != nil && ctx.Err() != nil {
				rep.Cancelled = true
				break loop
			}

			if err != nil {
				rep.Failed++
				dlog.Warn("send failed", logx.Int64("posting", p.ID), logx.Err(err))
			} else {
				rep.Succeeded++
			}
			deactivated, rerr := d.store.RecordDelivery(ctx, dest.ID, err == nil, cfg.DeactivateAfter)
			if rerr != nil {
				dlog.Warn("record delivery failed", logx.Err(rerr))
			}
			if deactivated {
				rep.Deactivated++
				d.metrics.DestinationDeactivated()
				dlog.Warn("destination deactivated after repeated failures",
					logx.Int("threshold", cfg.DeactivateAfter))
				// remaining postings for this destination are skipped
				continue loop
			}
		}
	}

	if rep.Cancelled {
		d.log.Info("dispatch cancelled; batch left undelivered",
			logx.Int("attempted", rep.Attempted), logx.Int("batch", len(batch)))
		return rep
	}

	for _, p := range batch {
		if err := d.store.MarkDelivered(ctx, p.ID); err != nil {
			d.log.Warn("mark delivered failed", logx.Int64("posting", p.ID), logx.Err(err))
			continue
		}
		rep.Marked++
	}

	d.log.Info("dispatch finished",
		logx.Int("destinations", len(dests)),
		logx.Int("batch", len(batch)),
		logx.Int("sent", rep.Succeeded),
		logx.Int("failed", rep.Failed),
		logx.Int("marked", rep.Marked))
	return rep
}

func (d *Dispatcher) send(ctx context.Context, cfg Config, chatID int64, msg transport.Message) error {
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	err := d.msgr.Send(sctx, chatID, msg)
	outcome := metrics.DeliverySent
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded):
		outcome = metrics.DeliveryTimeout
		if ctx.Err() == nil {
			err = fmt.Errorf("send timed out after %s: %w", cfg.SendTimeout, err)
		}
	default:
		outcome = metrics.DeliveryFailed
	}
	if ctx.Err() == nil {
		d.metrics.DeliveryAttempt(outcome, time.Since(start))
	}
	return err
}

// PlainText is the fallback formatter: title, organization and link.
func PlainText(p posting.Posting) transport.Message {
	text := p.Title
	if p.Organization != "" {
		text += "\n" + p.Organization
	}
	if p.ApplyLink != "" {
		text += "\n" + p.ApplyLink
	}
	return transport.Message{Text: text, DisablePreview: true}
}
