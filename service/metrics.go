package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"zvote/voteerr"
)

type serviceMetrics struct {
	votesCast        *prometheus.CounterVec
	voteDuration     prometheus.Histogram
	votesInFlight    prometheus.Gauge
	decryptions      *prometheus.CounterVec
	decryptDuration  prometheus.Histogram
	proposalsCreated *prometheus.CounterVec
	activeProposals  prometheus.Gauge
	closedProposals  prometheus.Gauge
	voteEvents       prometheus.Counter
}

// initMetrics registers with registry; a nil registry yields working but
// unregistered collectors.
func initMetrics(registry prometheus.Registerer) *serviceMetrics {
	factory := promauto.With(registry)
	return &serviceMetrics{
		votesCast: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zvote_votes_cast_total",
			Help: "vote attempts by result",
		}, []string{"result"}),
		voteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "zvote_vote_duration_seconds",
			Help:    "time from encryption to confirmed submission",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		votesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zvote_votes_in_flight",
			Help: "vote attempts currently in progress",
		}),
		decryptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zvote_decryptions_total",
			Help: "result decryptions by result",
		}, []string{"result"}),
		decryptDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "zvote_decrypt_duration_seconds",
			Help:    "time taken by the decryption handshake",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		proposalsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zvote_proposals_created_total",
			Help: "proposal creations by result",
		}, []string{"result"}),
		activeProposals: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zvote_proposals_active",
			Help: "active proposals at the last listing",
		}),
		closedProposals: factory.NewGauge(prometheus.GaugeOpts{
			Name: "zvote_proposals_closed",
			Help: "closed proposals at the last listing",
		}),
		voteEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "zvote_vote_events_total",
			Help: "VoteCast events observed by the watcher",
		}),
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(voteerr.KindOf(err))
}
