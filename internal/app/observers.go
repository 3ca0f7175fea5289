package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"freshcheck/internal/engine"
	"freshcheck/internal/metrics"
)

func metricsObserver(reg prometheus.Registerer, e *engine.Engine) error {
	if err := metrics.Register(reg); err != nil {
		return err
	}
	e.Observers = append(e.Observers, metrics.Recorder{})
	return nil
}
