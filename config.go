package gorawrcache

import (
	"log/slog"
	"time"

	"github.com/Keksclan/goRawrCache/authority"
	"github.com/Keksclan/goRawrCache/notify"
	"github.com/Keksclan/goRawrCache/tracing"
	"github.com/prometheus/client_golang/prometheus"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	sweepInterval     time.Duration
	reconcileInterval time.Duration
	maxEntries        int
	namespace         string
	defaultVersion    string

	notifier    notify.Notifier
	notifyRPS   float64
	notifyBurst int
	recordKey   func(string) string

	guard    *authority.GuardConfig
	logger   *slog.Logger
	registry prometheus.Registerer
	tracing  *tracing.Config
}
