package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	EnqueuedJobs  prometheus.Counter
	ProcessedJobs prometheus.Counter
	FailedJobs    prometheus.Counter
	UpdatesTotal  prometheus.Counter
	ScheduledRuns *prometheus.CounterVec
	CheckinsTotal *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			EnqueuedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "checkinbot",
				Name:      "queue_enqueued_total",
				Help:      "Total jobs enqueued to redis stream",
			}),
			ProcessedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "checkinbot",
				Name:      "queue_processed_total",
				Help:      "Total jobs successfully processed",
			}),
			FailedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "checkinbot",
				Name:      "queue_failed_total",
				Help:      "Total jobs failed during processing",
			}),
			UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "checkinbot",
				Name:      "telegram_updates_total",
				Help:      "Total telegram updates received",
			}),
			ScheduledRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "checkinbot",
				Name:      "scheduled_dispatch_total",
				Help:      "Total scheduled check-ins dispatched",
			}, []string{"site"}),
			CheckinsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "checkinbot",
				Name:      "checkins_total",
				Help:      "Total check-in runs by site and outcome",
			}, []string{"site", "outcome"}),
		}
		prometheus.MustRegister(
			global.EnqueuedJobs,
			global.ProcessedJobs,
			global.FailedJobs,
			global.UpdatesTotal,
			global.ScheduledRuns,
			global.CheckinsTotal,
		)
	})
	return global
}
