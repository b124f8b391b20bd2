// Copyright 2025 James Ross
package wasmexec

import (
	"context"
	"testing"

	"github.com/flyingrobots/mitsuha/internal/compute"
	"go.uber.org/zap"
)

func TestWasmerSandboxRejectsInvalidModule(t *testing.T) {
	s := NewWasmerSandbox(zap.NewNop())
	sym := compute.Symbol{Name: "transform"}

	_, err := s.Execute(context.Background(), []byte("not a wasm module"), sym, nil)
	if err == nil {
		t.Fatal("expected compile error for invalid module bytes")
	}
}
