// Package metrics exposes Prometheus instruments for the auction engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "auction"

type Metrics struct {
	bidsAccepted   prometheus.Counter
	bidsRejected   *prometheus.CounterVec
	extensions     prometheus.Counter
	closures       *prometheus.CounterVec
	orderFailures  prometheus.Counter
	sweepRuns      *prometheus.CounterVec
	sweepDuration  *prometheus.HistogramVec
	roomMembers    prometheus.Gauge
	broadcastDrops prometheus.Counter
}

// New registers the engine's instruments with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		bidsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_accepted_total",
			Help:      "Bids committed to an auction.",
		}),
		bidsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_rejected_total",
			Help:      "Bids refused, by reason.",
		}, []string{"reason"}),
		extensions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extensions_total",
			Help:      "End time extensions triggered by late bids.",
		}),
		closures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closures_total",
			Help:      "Auctions moved to a terminal status, by outcome.",
		}, []string{"outcome"}),
		orderFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_creation_failures_total",
			Help:      "Failed calls to the order collaborator.",
		}),
		sweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Sweeper job executions, by job and result.",
		}, []string{"job", "result"}),
		sweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Sweeper job duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		roomMembers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_members",
			Help:      "Connections currently observing an auction.",
		}),
		broadcastDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Members dropped because their outbound queue was full.",
		}),
	}
}

func (m *Metrics) BidAccepted(extended bool) {
	if m == nil {
		return
	}
	m.bidsAccepted.Inc()
	if extended {
		m.extensions.Inc()
	}
}

func (m *Metrics) BidRejected(reason string) {
	if m == nil {
		return
	}
	m.bidsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) AuctionClosed(outcome string) {
	if m == nil {
		return
	}
	m.closures.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OrderFailed() {
	if m == nil {
		return
	}
	m.orderFailures.Inc()
}

func (m *Metrics) SweepRun(job string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(job, result).Inc()
	m.sweepDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

func (m *Metrics) MemberJoined() {
	if m == nil {
		return
	}
	m.roomMembers.Inc()
}

func (m *Metrics) MemberLeft() {
	if m == nil {
		return
	}
	m.roomMembers.Dec()
}

func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}
