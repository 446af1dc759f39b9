// Package admin exposes a running cache over gRPC so operators can evict
// keys, inspect them and force a sweep or reconciliation cycle.
//
// The service is registered through a hand-written [grpc.ServiceDesc]; its
// messages are plain Go structs carried as JSON by a codec wrapper that
// delegates every other message to protobuf. No code generation is needed.
package admin

import (
	"context"
	"strings"

	"github.com/Keksclan/goRawrCache/reconcile"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "rawr.cache.Admin"

// Backend is the cache surface the service drives. *gorawrcache.Cache
// satisfies it.
type Backend interface {
	Evict(ctx context.Context, key string) (int64, error)
	Get(key string) (any, bool)
	Version(key string) (string, bool)
	Handler(key string) (string, bool)
	Reconcile(ctx context.Context) (reconcile.Report, error)
	Sweep() int
}

// Handler is the interface the registered service implements.
type Handler interface {
	Evict(ctx context.Context, req *EvictRequest) (*EvictResponse, error)
	Lookup(ctx context.Context, req *LookupRequest) (*LookupResponse, error)
	Reconcile(ctx context.Context, req *ReconcileRequest) (*ReconcileResponse, error)
	Sweep(ctx context.Context, req *SweepRequest) (*SweepResponse, error)
}

// NewHandler returns a Handler backed by b.
func NewHandler(b Backend) Handler { return service{b: b} }

type service struct {
	b Backend
}

func (s service) Evict(ctx context.Context, req *EvictRequest) (*EvictResponse, error) {
	key, err := requireKey(req.Key)
	if err != nil {
		return nil, err
	}
	v, err := s.b.Evict(ctx, key)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "evict %s: %v", key, err)
	}
	return &EvictResponse{Key: key, Version: v}, nil
}

func (s service) Lookup(_ context.Context, req *LookupRequest) (*LookupResponse, error) {
	key, err := requireKey(req.Key)
	if err != nil {
		return nil, err
	}
	resp := &LookupResponse{Key: key}
	resp.Version, _ = s.b.Version(key)
	resp.Handler, _ = s.b.Handler(key)
	_, resp.Cached = s.b.Get(key)
	return resp, nil
}

func (s service) Reconcile(ctx context.Context, _ *ReconcileRequest) (*ReconcileResponse, error) {
	rep, err := s.b.Reconcile(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "reconcile: %v", err)
	}
	return &ReconcileResponse{
		Busy:     rep.Busy,
		Skipped:  rep.Skipped,
		Stale:    rep.Stale,
		Evicted:  rep.Evicted,
		Missing:  rep.Missing,
		Notified: rep.Notified,
	}, nil
}

func (s service) Sweep(context.Context, *SweepRequest) (*SweepResponse, error) {
	return &SweepResponse{Removed: s.b.Sweep()}, nil
}

func requireKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", status.Error(codes.InvalidArgument, "key is required")
	}
	return key, nil
}

// ServiceDesc is the grpc.ServiceDesc for the rawr.cache.Admin service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evict", Handler: unary("Evict", func(h Handler, ctx context.Context, r *EvictRequest) (any, error) { return h.Evict(ctx, r) })},
		{MethodName: "Lookup", Handler: unary("Lookup", func(h Handler, ctx context.Context, r *LookupRequest) (any, error) { return h.Lookup(ctx, r) })},
		{MethodName: "Reconcile", Handler: unary("Reconcile", func(h Handler, ctx context.Context, r *ReconcileRequest) (any, error) { return h.Reconcile(ctx, r) })},
		{MethodName: "Sweep", Handler: unary("Sweep", func(h Handler, ctx context.Context, r *SweepRequest) (any, error) { return h.Sweep(ctx, r) })},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rawr/cache/admin.proto",
}

// unary builds a grpc method handler that decodes a *Req and calls fn,
// passing through the server's interceptor when one is installed.
func unary[Req any](method string, fn func(Handler, context.Context, *Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		h := srv.(Handler)
		if interceptor == nil {
			return fn(h, ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, r any) (any, error) {
			return fn(h, ctx, r.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// Register registers an admin service implementation on s.
func Register(s *grpc.Server, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}
