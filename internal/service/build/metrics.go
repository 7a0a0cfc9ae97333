package build

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	buildsFinished *prometheus.CounterVec
	repairRounds   prometheus.Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		buildsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitesmith",
			Subsystem: "build",
			Name:      "finished_total",
			Help:      "Finished builds by status and verification result",
		}, []string{"status", "verified"})

		repairRounds = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sitesmith",
			Subsystem: "build",
			Name:      "repair_rounds_total",
			Help:      "Number of model fix calls made during repair",
		})

		if err := prometheus.Register(buildsFinished); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				buildsFinished = are.ExistingCollector.(*prometheus.CounterVec)
			}
		}
		if err := prometheus.Register(repairRounds); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				repairRounds = are.ExistingCollector.(prometheus.Counter)
			}
		}
	})
}

func recordBuildFinished(status string, verified bool) {
	initMetrics()
	label := "false"
	if verified {
		label = "true"
	}
	buildsFinished.With(prometheus.Labels{"status": status, "verified": label}).Inc()
}

func recordRepairRound() {
	initMetrics()
	repairRounds.Inc()
}
