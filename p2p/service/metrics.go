package service

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsOpened prometheus.Counter
	sessionsClosed prometheus.Counter
	tasksHandled   *prometheus.CounterVec
	initMetricsOnce sync.Once
)

func initMetrics() {
	sessionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "service_sessions_opened_total",
		Help: "Sessions opened by this Service",
	})
	prometheus.MustRegister(sessionsOpened)

	sessionsClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "service_sessions_closed_total",
		Help: "Sessions closed by this Service",
	})
	prometheus.MustRegister(sessionsClosed)

	tasksHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "service_tasks_handled_total",
		Help: "ServiceTask entries drained by the scheduler, by kind",
	}, []string{"kind"})
	prometheus.MustRegister(tasksHandled)
}

func ensureMetrics() {
	initMetricsOnce.Do(initMetrics)
}
