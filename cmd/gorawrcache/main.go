// Command gorawrcache runs a versioned cache node backed by Redis and talks
// to a running node through its admin service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gorawrcache "github.com/Keksclan/goRawrCache"
	"github.com/Keksclan/goRawrCache/admin"
	"github.com/Keksclan/goRawrCache/authority"
	"github.com/Keksclan/goRawrCache/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

var rootCmd = &cobra.Command{
	Use:   "gorawrcache",
	Short: "Versioned process-local cache kept consistent through Redis",
	PersistentPreRun: func(*cobra.Command, []string) {
		slog.SetDefault(newLogger(viper.GetString("log-level")))
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a cache node with the admin gRPC service and /metrics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

var evictCmd = &cobra.Command{
	Use:   "evict KEY",
	Short: "Invalidate KEY in every process sharing the namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *admin.Client) error {
			resp, err := c.Evict(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> version %d\n", resp.Key, resp.Version)
			return nil
		})
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup KEY",
	Short: "Show a node's local version, handler and cache state for KEY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *admin.Client) error {
			resp, err := c.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:     %s\n", resp.Key)
			fmt.Fprintf(out, "version: %s\n", orDash(resp.Version))
			fmt.Fprintf(out, "handler: %s\n", orDash(resp.Handler))
			fmt.Fprintf(out, "cached:  %t\n", resp.Cached)
			return nil
		})
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("admin-addr", "127.0.0.1:7070", "admin gRPC address")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")

	f := serveCmd.Flags()
	f.String("redis-addr", "127.0.0.1:6379", "Redis address")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database")
	f.String("record-prefix", "", "prefix of backing records checked for existence")
	f.String("namespace", gorawrcache.DefaultNamespace, "name of the version hash")
	f.String("default-version", gorawrcache.DefaultVersion, "version seeded for new keys")
	f.Int("max-entries", gorawrcache.DefaultMaxEntries, "maximum local entries (0 for no limit)")
	f.Duration("sweep-interval", gorawrcache.DefaultSweepInterval, "expiry sweep interval")
	f.Duration("reconcile-interval", gorawrcache.DefaultReconcileInterval, "version reconcile interval")
	f.Float64("notify-rps", 0, "refresh notifications per second (0 for unlimited)")
	f.Int("notify-burst", 10, "refresh notification burst")
	f.String("metrics-addr", "127.0.0.1:9090", "Prometheus /metrics address (empty to disable)")
	f.Bool("trace-stdout", false, "print OpenTelemetry spans to stdout")

	if err := viper.BindPFlags(pf); err != nil {
		panic(err)
	}
	if err := viper.BindPFlags(f); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("gorawrcache")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, evictCmd, lookupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	logger := slog.Default()

	src := authority.NewRedis(
		viper.GetString("redis-addr"),
		viper.GetString("redis-password"),
		viper.GetInt("redis-db"),
	)
	defer src.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := src.Ping(pingCtx)
	cancel()
	if err != nil {
		logger.Warn("redis not reachable at startup", "addr", viper.GetString("redis-addr"), "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []gorawrcache.Option{
		gorawrcache.WithLogger(logger),
		gorawrcache.WithMetrics(reg),
		gorawrcache.WithGuard(authority.DefaultGuardConfig()),
		gorawrcache.WithNamespace(viper.GetString("namespace")),
		gorawrcache.WithDefaultVersion(viper.GetString("default-version")),
		gorawrcache.WithMaxEntries(viper.GetInt("max-entries")),
		gorawrcache.WithSweepInterval(viper.GetDuration("sweep-interval")),
		gorawrcache.WithReconcileInterval(viper.GetDuration("reconcile-interval")),
		gorawrcache.WithNotifier(notify.NotifierFunc(func(_ context.Context, handlerID string) {
			logger.Info("refresh requested", "handler", handlerID)
		})),
	}
	if p := viper.GetString("record-prefix"); p != "" {
		opts = append(opts, gorawrcache.WithRecordKey(func(k string) string { return p + k }))
	}
	if rps := viper.GetFloat64("notify-rps"); rps > 0 {
		opts = append(opts, gorawrcache.WithNotifyRateLimit(rps, viper.GetInt("notify-burst")))
	}
	if viper.GetBool("trace-stdout") {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("create stdout exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		opts = append(opts, gorawrcache.WithTracerProvider(tp))
	}

	cache, err := gorawrcache.New(src, opts...)
	if err != nil {
		return err
	}
	if err := cache.Start(ctx); err != nil {
		return err
	}
	defer cache.Stop()

	lis, err := net.Listen("tcp", viper.GetString("admin-addr"))
	if err != nil {
		return fmt.Errorf("listen admin: %w", err)
	}
	srv := admin.NewServer(cache, admin.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(lis) })
	g.Go(func() error {
		<-gctx.Done()
		srv.Stop()
		return nil
	})

	if addr := viper.GetString("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", admin.MetricsHandler(reg))
		hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics server listening", "addr", addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

func withClient(ctx context.Context, fn func(context.Context, *admin.Client) error) error {
	client, closeConn, err := admin.Dial(viper.GetString("admin-addr"))
	if err != nil {
		return err
	}
	defer closeConn()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return fn(ctx, client)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
