package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trawler_jobs_started_total",
		Help: "Total number of jobs admitted and started.",
	})

	eventsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trawler_events_published_total",
		Help: "Total number of events recorded and fanned out to rooms.",
	})

	jobsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trawler_jobs_reaped_total",
		Help: "Total number of terminal jobs deleted by the retention reaper.",
	})
)

func init() {
	prometheus.MustRegister(jobsStarted)
	prometheus.MustRegister(eventsPublished)
	prometheus.MustRegister(jobsReaped)
}
