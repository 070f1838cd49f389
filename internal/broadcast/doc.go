// Package broadcast owns the fetch-then-dispatch cycle.
//
// A cycle runs the aggregator, and when it stored anything new, hands the
// oldest undelivered batch to the dispatcher. Cycles are triggered by a cron
// schedule (with a first run shortly after start) or on demand via RunNow.
// At most one cycle runs at a time in a process; an optional lock.Locker
// extends that across processes sharing a store.
package broadcast
