// Package metrics provides Prometheus metrics for opvault.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VaultOperations counts vault operations by operation and result.
	VaultOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opvault",
			Name:      "vault_operations_total",
			Help:      "Total number of vault operations",
		},
		[]string{"operation", "result"},
	)

	// VaultOperationDuration tracks vault operation duration, key derivation included.
	VaultOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opvault",
			Name:      "vault_operation_duration_seconds",
			Help:      "Vault operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// EncryptionOperations counts encryption operations.
	EncryptionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opvault",
			Name:      "encryption_operations_total",
			Help:      "Total number of seal/open operations",
		},
		[]string{"operation"}, // "seal" or "open"
	)

	// SavesCoalesced counts save requests folded into a later save.
	SavesCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opvault",
			Name:      "saves_coalesced_total",
			Help:      "Save requests superseded by a newer payload before being written",
		},
	)

	// UnlockThrottled counts open attempts rejected by the failed-unlock limiter.
	UnlockThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opvault",
			Name:      "unlock_throttled_total",
			Help:      "Open attempts rejected after repeated failures",
		},
	)

	// RegistryRecoveries counts registry files that could not be read and were reset.
	RegistryRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opvault",
			Name:      "registry_recoveries_total",
			Help:      "Registry files that were unreadable and treated as empty",
		},
	)

	// OpenSessions tracks unlocked vault sessions.
	OpenSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opvault",
			Name:      "open_sessions",
			Help:      "Number of unlocked vault sessions",
		},
	)

	// KnownVaults tracks registry entries by kind.
	KnownVaults = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "opvault",
			Name:      "known_vaults",
			Help:      "Vaults listed in the registry",
		},
		[]string{"kind"},
	)
)
