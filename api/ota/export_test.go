package ota

import "github.com/prometheus/client_golang/prometheus"

func ResultsCounter(strategy string, r Result) prometheus.Counter {
	return opsResults.WithLabelValues(strategy, r.String())
}
