package admin

import (
	"encoding/json"
	"fmt"

	grpcEncoding "google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/proto" // ensure default proto codec is registered first
	"google.golang.org/protobuf/proto"
)

// EvictRequest names the logical key to invalidate everywhere.
type EvictRequest struct {
	Key string `json:"key"`
}

// EvictResponse carries the authoritative version after the bump.
type EvictResponse struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
}

// LookupRequest names the logical key to inspect.
type LookupRequest struct {
	Key string `json:"key"`
}

// LookupResponse describes the local state of a key. Version and Handler
// are empty when unknown.
type LookupResponse struct {
	Key     string `json:"key"`
	Version string `json:"version,omitempty"`
	Handler string `json:"handler,omitempty"`
	Cached  bool   `json:"cached"`
}

// ReconcileRequest triggers one reconciliation cycle.
type ReconcileRequest struct{}

// ReconcileResponse mirrors the cycle report.
type ReconcileResponse struct {
	Busy     bool `json:"busy,omitempty"`
	Skipped  bool `json:"skipped,omitempty"`
	Stale    int  `json:"stale"`
	Evicted  int  `json:"evicted"`
	Missing  int  `json:"missing"`
	Notified int  `json:"notified"`
}

// SweepRequest triggers one expiry sweep.
type SweepRequest struct{}

// SweepResponse reports how many entries the sweep removed.
type SweepResponse struct {
	Removed int `json:"removed"`
}

type adminMsg interface {
	isAdminMsg()
}

func (*EvictRequest) isAdminMsg()      {}
func (*EvictResponse) isAdminMsg()     {}
func (*LookupRequest) isAdminMsg()     {}
func (*LookupResponse) isAdminMsg()    {}
func (*ReconcileRequest) isAdminMsg()  {}
func (*ReconcileResponse) isAdminMsg() {}
func (*SweepRequest) isAdminMsg()      {}
func (*SweepResponse) isAdminMsg()     {}

func init() {
	grpcEncoding.RegisterCodec(codec{})
}

// codec replaces the default proto codec. Admin messages travel as JSON;
// everything else is delegated to protobuf.
type codec struct{}

func (codec) Name() string { return "proto" }

func (codec) Marshal(v any) ([]byte, error) {
	if _, ok := v.(adminMsg); ok {
		return json.Marshal(v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("admin codec: unsupported message type %T", v)
}

func (codec) Unmarshal(data []byte, v any) error {
	if _, ok := v.(adminMsg); ok {
		return json.Unmarshal(data, v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("admin codec: unsupported message type %T", v)
}
