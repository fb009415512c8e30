package internal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/txsvc/stdlib/v2"
)

const (
	PROMETHEUS_HOST         = "prometheus_host"
	PROMETHEUS_METRICS_PATH = "prometheus_metrics_path"
)

func StartPrometheusListener() {
	// prometheus endpoint setup
	promHost := stdlib.GetString(PROMETHEUS_HOST, "0.0.0.0:2112")
	promMetricsPath := stdlib.GetString(PROMETHEUS_METRICS_PATH, "/metrics")

	// start the metrics listener
	go func() {
		log.Debug().Str("host", promHost).Str("path", promMetricsPath).Msg("start metrics")

		mux := http.NewServeMux()
		mux.Handle(promMetricsPath, promhttp.Handler())
		if err := http.ListenAndServe(promHost, mux); err != nil {
			log.Error().Err(err).Msg("metrics listener stopped")
		}
	}()
}
