package sgav2

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("sga-v2")

var (
	archivesReadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sga_v2_archives_read_total",
		Help: "Archives read, by result.",
	}, []string{"result"})

	archivesWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sga_v2_archives_written_total",
		Help: "Archives written, by result.",
	}, []string{"result"})

	bytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sga_v2_bytes_written_total",
		Help: "Bytes of archive output produced.",
	})

	filesAssembledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sga_v2_files_assembled_total",
		Help: "Files attached to a filesystem while reading, by storage type.",
	}, []string{"storage"})

	crcFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sga_v2_crc_fallbacks_total",
		Help: "Files whose per-file header was missing or unusable and had a CRC regenerated.",
	})

	checksumMismatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sga_v2_checksum_mismatches_total",
		Help: "Stored checksums that disagreed with recomputed ones.",
	}, []string{"what"})

	contentCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sga_v2_content_cache_total",
		Help: "Decompressed payload cache lookups, by result.",
	}, []string{"result"})

	compressDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sga_v2_compress_duration_seconds",
		Help:    "Time spent compressing one file on write.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
