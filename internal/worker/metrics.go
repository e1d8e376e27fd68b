package worker

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	fetches       *prometheus.CounterVec
	installs      *prometheus.CounterVec
	storeErrors   prometheus.Counter
	deletedStores prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shellcache",
			Subsystem: "worker",
			Name:      "fetch_total",
			Help:      "Intercepted requests by strategy and cache outcome.",
		}, []string{"strategy", "outcome"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shellcache",
			Subsystem: "worker",
			Name:      "install_total",
			Help:      "Install attempts by result.",
		}, []string{"result"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shellcache",
			Subsystem: "worker",
			Name:      "store_write_errors_total",
			Help:      "Best-effort store writes that failed and were discarded.",
		}),
		deletedStores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shellcache",
			Subsystem: "worker",
			Name:      "deleted_stores_total",
			Help:      "Stores deleted on activation.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.fetches, m.installs, m.storeErrors, m.deletedStores} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}
