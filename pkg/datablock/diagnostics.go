package datablock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Diagnostics bundles the Prometheus collectors and structured logger for
// one Producer/Consumer pair, per SPEC_FULL.md §4.8. A nil *Diagnostics
// behaves as a no-op everywhere it is consulted in this package; the zero
// value of [Diagnostics] itself is not meant to be used directly, call
// [NewDiagnostics].
type Diagnostics struct {
	logger zerolog.Logger

	orphanWriterReclaimed prometheus.Counter
	checksumFailures      prometheus.Counter
	staleConsumerReaped   prometheus.Counter
	commitsTotal          prometheus.Counter
	activeConsumers       prometheus.Gauge
}

// NewDiagnostics constructs a Diagnostics bound to name, registering its
// collectors on reg. Pass prometheus.NewRegistry() in tests to avoid
// colliding with the global default registry across parallel test
// segments.
func NewDiagnostics(name string, logger zerolog.Logger, reg prometheus.Registerer) (*Diagnostics, error) {
	d := &Diagnostics{
		logger: logger.With().Str("segment", name).Logger(),
		orphanWriterReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datablock",
			Name:      "orphan_writer_reclaimed_total",
			Help:      "Slots whose writer_pid was reclaimed from a dead writer.",
			ConstLabels: prometheus.Labels{"segment": name},
		}),
		checksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datablock",
			Name:      "checksum_failures_total",
			Help:      "Slot or flexzone checksum verification failures.",
			ConstLabels: prometheus.Labels{"segment": name},
		}),
		staleConsumerReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datablock",
			Name:      "stale_consumer_reaped_total",
			Help:      "Consumer heartbeat entries reaped as dead.",
			ConstLabels: prometheus.Labels{"segment": name},
		}),
		commitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datablock",
			Name:      "commits_total",
			Help:      "Slot commits published by the producer.",
			ConstLabels: prometheus.Labels{"segment": name},
		}),
		activeConsumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "datablock",
			Name:      "active_consumers",
			Help:      "Currently registered consumer heartbeat entries.",
			ConstLabels: prometheus.Labels{"segment": name},
		}),
	}

	collectors := []prometheus.Collector{
		d.orphanWriterReclaimed,
		d.checksumFailures,
		d.staleConsumerReaped,
		d.commitsTotal,
		d.activeConsumers,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// recordChecksumFailure increments the checksum-failure counter and emits
// a structured log event, called from both producer and consumer paths.
func (d *Diagnostics) recordChecksumFailure(slot uint32, context string) {
	if d == nil {
		return
	}

	d.checksumFailures.Inc()
	d.logger.Warn().
		Str("event", "checksum_failed").
		Uint32("slot", slot).
		Str("context", context).
		Msg("checksum verification failed")
}
