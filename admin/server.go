package admin

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
)

type serverConfig struct {
	logger *slog.Logger
	unary  []grpc.UnaryServerInterceptor
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

// WithLogger sets the logger for call logs and recovered panics.
func WithLogger(l *slog.Logger) ServerOption {
	return func(c *serverConfig) { c.logger = l }
}

// WithUnaryInterceptor appends i after the built-in recovery and logging
// interceptors.
func WithUnaryInterceptor(i grpc.UnaryServerInterceptor) ServerOption {
	return func(c *serverConfig) { c.unary = append(c.unary, i) }
}

// Server is a gRPC server with the admin service registered.
type Server struct {
	grpcServer *grpc.Server
	logger     *slog.Logger
}

// NewServer creates a Server serving b. Recovery runs outermost so that a
// panic in any later interceptor is caught too.
func NewServer(b Backend, opts ...ServerOption) *Server {
	cfg := serverConfig{logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	chain := append([]grpc.UnaryServerInterceptor{
		recoveryUnary(cfg.logger),
		loggingUnary(cfg.logger),
	}, cfg.unary...)

	s := &Server{
		grpcServer: grpc.NewServer(grpc.ChainUnaryInterceptor(chain...)),
		logger:     cfg.logger,
	}
	Register(s.grpcServer, NewHandler(b))
	return s
}

// GRPC returns the underlying *grpc.Server so callers can register more
// services.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("admin server listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// Stop waits for in-flight calls and stops the server.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// MetricsHandler serves the metrics gathered by g in the Prometheus text
// format. A nil g serves the default registry.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
