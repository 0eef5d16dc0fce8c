package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// ObserveOperation records one vault operation that started at start.
func ObserveOperation(operation string, start time.Time, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	VaultOperations.WithLabelValues(operation, result).Inc()
	VaultOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// SetKnownVaults replaces the known-vault gauges with counts per kind.
func SetKnownVaults(byKind map[string]int) {
	KnownVaults.Reset()
	for kind, n := range byKind {
		KnownVaults.WithLabelValues(kind).Set(float64(n))
	}
}

// WriteTextfile writes every registered metric to path in the text
// exposition format read by node_exporter's textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		slog.Debug("failed to write metrics textfile", "path", path, "error", err)
		return err
	}
	return nil
}
