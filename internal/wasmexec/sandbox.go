package wasmexec

import (
	"context"
	"sync"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

// Sandbox executes a resolved WASM module's exported symbol against input.
// WasmerSandbox is the shipped implementation; deployments that need
// instance pooling or epoch-based interruption under heavier load can
// substitute their own.
type Sandbox interface {
	Execute(ctx context.Context, moduleBytes []byte, symbol compute.Symbol, input []byte) ([]byte, error)
}

// ServiceRegistry holds natively registered SERVICE-module symbols: host
// functions that run in-process rather than through Sandbox. This is the Go
// side of the original's ModuleType::SERVICE case.
type ServiceRegistry struct {
	mu      sync.RWMutex
	symbols map[string]SymbolFunc
}

// NewServiceRegistry constructs an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{symbols: make(map[string]SymbolFunc)}
}

// Register binds sym to fn, overwriting any previous registration.
func (r *ServiceRegistry) Register(sym compute.Symbol, fn SymbolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.symbols[symbolKey(sym)] = fn
}

// Lookup finds a previously registered SERVICE symbol.
func (r *ServiceRegistry) Lookup(sym compute.Symbol) (SymbolFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.symbols[symbolKey(sym)]
	return fn, ok
}
