// Package metrics holds the prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ExportsTotal counts finished exports by result (success, error).
	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapestry_exports_total",
		Help: "Total exports by result",
	}, []string{"result"})

	// ExportAssetFailures counts assets that could not be fetched, by the
	// manifest field they belong to and the recovery applied.
	ExportAssetFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapestry_export_asset_failures_total",
		Help: "Export asset fetch failures by field and recovery",
	}, []string{"field", "recovery"})

	// ExportBytes tracks archive sizes.
	ExportBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tapestry_export_archive_bytes",
		Help:    "Size of produced archives in bytes",
		Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10), // 1KiB to ~256GiB
	})

	// ImportsTotal counts finished imports by result (complete or a failure code).
	ImportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapestry_imports_total",
		Help: "Total imports by result",
	}, []string{"result"})

	// ImportDuration tracks how long reconstructions take.
	ImportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tapestry_import_duration_seconds",
		Help:    "Import reconstruction duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 16), // 50ms to ~27min
	})

	// ImportUploads counts assets uploaded during reconstruction.
	ImportUploads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapestry_import_uploads_total",
		Help: "Assets uploaded while reconstructing tapestries",
	})

	// CompensationDeletes counts blobs deleted to undo failed imports, by result.
	CompensationDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapestry_import_compensation_deletes_total",
		Help: "Uploaded blobs deleted after a failed import, by result",
	}, []string{"result"})

	// MigrationsTotal counts manifests migrated, by the version they were recognized as.
	MigrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapestry_manifest_migrations_total",
		Help: "Manifests migrated to the current schema, by source version",
	}, []string{"from"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
