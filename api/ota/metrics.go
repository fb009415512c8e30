package ota

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ota_update_results_total",
		Help: "The number of finished update attempts",
	}, []string{"strategy", "result"})

	opsBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ota_bytes_written_total",
		Help: "The number of image bytes written to the spare partition",
	})

	opsChunkRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ota_chunk_requests_total",
		Help: "The number of chunk requests sent over the cellular bridge",
	}, []string{"status"})
)
