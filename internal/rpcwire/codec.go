// Copyright 2025 James Ross
// Package rpcwire provides the gRPC transport glue for the Channel and
// Interceptor services: a JSON codec registered with grpc so
// ComputeInput/ComputeOutput values can travel over a unary RPC without
// generated protobuf stubs.
package rpcwire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const Name = "json"

// JSONCodec implements grpc/encoding.Codec over encoding/json.
type JSONCodec struct{}

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

// Envelope is the wire-level request/response frame: a oneof-style tag
// plus raw JSON payload. Op names the ComputeInput/ComputeOutput variant
// the payload decodes as.
type Envelope struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// Pack serializes v into an Envelope tagged op.
func Pack(op string, v interface{}) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("rpcwire: pack %s: %w", op, err)
	}
	return Envelope{Op: op, Payload: raw}, nil
}

// Unpack decodes an Envelope's payload into v.
func Unpack(e Envelope, v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("rpcwire: unpack %s: %w", e.Op, err)
	}
	return nil
}
