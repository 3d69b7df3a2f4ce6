package tcp

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	newConns    *prometheus.CounterVec
	initOnce    sync.Once
)

func initMetrics() {
	newConns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcp_connections_new_total",
			Help: "TCP connections opened, by direction",
		},
		[]string{"direction"},
	)
	prometheus.MustRegister(newConns)
}

func trackNewConn(direction string) {
	initOnce.Do(initMetrics)
	newConns.WithLabelValues(direction).Inc()
}
