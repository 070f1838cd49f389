package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "jobbot/pkg/logx"
)

const namespace = "jobbot"

// PrometheusSink implements Sink with client_golang collectors. Registration
// errors are logged and never propagated.
type PrometheusSink struct {
	log logx.Logger

	cyclesStarted *prometheus.CounterVec
	cyclesTotal   *prometheus.CounterVec
	cycleSkips    *prometheus.CounterVec
	cycleDuration prometheus.Histogram

	fetchedTotal  *prometheus.CounterVec
	insertedTotal prometheus.Counter
	storeErrors   prometheus.Counter

	deliveries       *prometheus.CounterVec
	deliveryDuration prometheus.Histogram
	deactivated      prometheus.Counter
	destinations     prometheus.Gauge
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &PrometheusSink{log: log}
	s.initScheduler(reg)
	s.initAggregator(reg)
	s.initDispatcher(reg)
	return s
}

func (s *PrometheusSink) initScheduler(reg prometheus.Registerer) {
	s.cyclesStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broadcast", Name: "cycles_started_total",
		Help: "Broadcast cycles started, by trigger.",
	}, []string{"trigger"})
	s.cyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broadcast", Name: "cycles_total",
		Help: "Finished broadcast cycles by outcome.",
	}, []string{"outcome"})
	s.cycleSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broadcast", Name: "cycle_skips_total",
		Help: "Cycle triggers that did not run.",
	}, []string{"reason"})
	s.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "broadcast", Name: "cycle_duration_seconds",
		Help:    "Wall time of a full fetch and dispatch cycle.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
	s.register(reg, s.cyclesStarted, "cycles_started_total")
	s.register(reg, s.cyclesTotal, "cycles_total")
	s.register(reg, s.cycleSkips, "cycle_skips_total")
	s.register(reg, s.cycleDuration, "cycle_duration_seconds")
}

func (s *PrometheusSink) initAggregator(reg prometheus.Registerer) {
	s.fetchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "aggregator", Name: "fetched_total",
		Help: "Raw postings returned by each source.",
	}, []string{"source", "fallback"})
	s.insertedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "aggregator", Name: "inserted_total",
		Help: "Postings stored for the first time.",
	})
	s.storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "aggregator", Name: "store_errors_total",
		Help: "Postings skipped because the store rejected them.",
	})
	s.register(reg, s.fetchedTotal, "fetched_total")
	s.register(reg, s.insertedTotal, "inserted_total")
	s.register(reg, s.storeErrors, "store_errors_total")
}

func (s *PrometheusSink) initDispatcher(reg prometheus.Registerer) {
	s.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "dispatch", Name: "deliveries_total",
		Help: "Send attempts by outcome.",
	}, []string{"outcome"})
	s.deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "dispatch", Name: "send_duration_seconds",
		Help:    "Latency of one send, excluding pacing waits.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.deactivated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "dispatch", Name: "destinations_deactivated_total",
		Help: "Destinations switched off after repeated failures.",
	})
	s.destinations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "dispatch", Name: "active_destinations",
		Help: "Active destinations seen by the last dispatch.",
	})
	s.register(reg, s.deliveries, "deliveries_total")
	s.register(reg, s.deliveryDuration, "send_duration_seconds")
	s.register(reg, s.deactivated, "destinations_deactivated_total")
	s.register(reg, s.destinations, "active_destinations")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn("metrics: register failed", logx.String("metric", name), logx.Err(err))
	}
}

func (s *PrometheusSink) CycleStarted(trigger string) {
	s.cyclesStarted.WithLabelValues(trigger).Inc()
}

func (s *PrometheusSink) CycleCompleted(d time.Duration, outcome string) {
	s.cycleDuration.Observe(d.Seconds())
	s.cyclesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) CycleSkipped(reason string) {
	s.cycleSkips.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) SourceFetched(source string, fetched int, fallback bool) {
	s.fetchedTotal.WithLabelValues(source, strconv.FormatBool(fallback)).Add(float64(fetched))
}

func (s *PrometheusSink) PostingsInserted(n int) { s.insertedTotal.Add(float64(n)) }
func (s *PrometheusSink) StoreErrors(n int)      { s.storeErrors.Add(float64(n)) }

func (s *PrometheusSink) DeliveryAttempt(outcome string, d time.Duration) {
	s.deliveries.WithLabelValues(outcome).Inc()
	s.deliveryDuration.Observe(d.Seconds())
}

func (s *PrometheusSink) DestinationDeactivated()  { s.deactivated.Inc() }
func (s *PrometheusSink) ActiveDestinations(n int) { s.destinations.Set(float64(n)) }
