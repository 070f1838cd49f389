package metrics

import "time"

// Noop discards everything. Used when metrics are disabled to avoid nil checks.
type Noop struct{}

func (Noop) CycleStarted(string)                   {}
func (Noop) CycleCompleted(time.Duration, string)  {}
func (Noop) CycleSkipped(string)                   {}
func (Noop) SourceFetched(string, int, bool)       {}
func (Noop) PostingsInserted(int)                  {}
func (Noop) StoreErrors(int)                       {}
func (Noop) DeliveryAttempt(string, time.Duration) {}
func (Noop) DestinationDeactivated()               {}
func (Noop) ActiveDestinations(int)                {}
