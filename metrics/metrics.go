// Package metrics exposes Prometheus instrumentation for the accounting
// engines. Collectors are process-global and registered on the default
// registry; cmd/server mounts them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StepSyncs counts sync requests by outcome: "earned", "noop", "error".
	StepSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stride",
		Name:      "step_syncs_total",
		Help:      "Step sync requests processed, by outcome.",
	}, []string{"outcome"})

	// CoinsMinted accumulates coins credited by the step engine.
	CoinsMinted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stride",
		Name:      "coins_minted_total",
		Help:      "Total coins credited from step conversion.",
	})

	// Redemptions counts redemption attempts by outcome:
	// "ok", "out_of_stock", "insufficient_balance", "error".
	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stride",
		Name:      "redemptions_total",
		Help:      "Reward redemption attempts, by outcome.",
	}, []string{"outcome"})

	// TxConflicts counts optimistic transaction conflicts that forced a retry.
	TxConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stride",
		Name:      "tx_conflicts_total",
		Help:      "Optimistic concurrency conflicts detected at commit.",
	})
)
