package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sabinanfranz/slack-data-ai/internal/ingest"
)

const namespace = "slackdata"

// Metrics are the ingest counters exported on /metrics.
type Metrics struct {
	MessagesFetched prometheus.Counter
	MessagesSaved   prometheus.Counter
	MessagesNew     prometheus.Counter
	ThreadsPolled   prometheus.Counter
	ThreadsFailed   prometheus.Counter
	ChannelRuns     *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
}

// NewMetrics creates the ingest metrics and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_fetched_total",
			Help:      "Messages returned by history and replies listings.",
		}),
		MessagesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_saved_total",
			Help:      "Normal messages submitted to the store.",
		}),
		MessagesNew: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_new_total",
			Help:      "Messages inserted for the first time.",
		}),
		ThreadsPolled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_polled_total",
			Help:      "Threads polled for new replies.",
		}),
		ThreadsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_failed_total",
			Help:      "Threads whose reply sync failed.",
		}),
		ChannelRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_runs_total",
			Help:      "Channel ingest runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "channel_run_duration_seconds",
			Help:      "Wall time of one channel ingest run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.MessagesFetched,
			m.MessagesSaved,
			m.MessagesNew,
			m.ThreadsPolled,
			m.ThreadsFailed,
			m.ChannelRuns,
			m.RunDuration,
		)
	}
	return m
}

func (m *Metrics) observeHistory(res *ingest.HistoryResult) {
	if m == nil || res == nil {
		return
	}
	m.MessagesFetched.Add(float64(res.Fetched))
	m.MessagesSaved.Add(float64(res.Saved))
	m.MessagesNew.Add(float64(res.New))
}

func (m *Metrics) observeReplies(res *ingest.RepliesResult) {
	if m == nil || res == nil {
		return
	}
	m.MessagesFetched.Add(float64(res.Fetched))
	m.MessagesSaved.Add(float64(res.Saved))
	m.MessagesNew.Add(float64(res.New))
	m.ThreadsPolled.Add(float64(res.ThreadsPolled))
	m.ThreadsFailed.Add(float64(res.ThreadsFailed))
}

func (m *Metrics) observeRun(mode Mode, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ChannelRuns.WithLabelValues(string(mode), outcome).Inc()
	m.RunDuration.WithLabelValues(string(mode)).Observe(seconds)
}
