package gorawrcache

import (
	"time"

	"github.com/Keksclan/goRawrCache/reconcile"
	"github.com/Keksclan/goRawrCache/sweep"
)

// Defaults applied by New before any Option.
const (
	DefaultSweepInterval     = sweep.DefaultInterval
	DefaultReconcileInterval = reconcile.DefaultInterval
	DefaultMaxEntries        = 100_000
	DefaultNamespace         = "gorawrcache:versions"
	DefaultVersion           = "1"
)

func defaultConfig() config {
	return config{
		sweepInterval:     DefaultSweepInterval,
		reconcileInterval: DefaultReconcileInterval,
		maxEntries:        DefaultMaxEntries,
		namespace:         DefaultNamespace,
		defaultVersion:    DefaultVersion,
	}
}

// startupTimeout bounds the initial version load in Start.
const startupTimeout = 10 * time.Second
