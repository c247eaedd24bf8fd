package sga

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lazyReadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sga_lazy_reads_total",
		Help: "Payload blocks read from archive streams.",
	})

	bytesInflatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sga_bytes_inflated_total",
		Help: "Bytes produced by decompressing archive payloads.",
	})
)
