package wasmexec

import (
	"context"
	"sync"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

// SymbolFunc is a resolved, callable export: either a host-provided
// capability or a guest function produced by linking a module. The actual
// sandboxing (wasm instantiation, async/epoch configuration) lives behind
// Sandbox; this signature is what the controller's Task ultimately calls.
type SymbolFunc func(ctx context.Context, input []byte) ([]byte, error)

// Kernel is the set of host capabilities a linked module may import,
// analogous to the original runtime's kernel binding. It is deliberately
// tiny: callers extend it by wrapping NewExecutorContext with additional
// AddSymbol calls for the symbols their deployment wants to expose.
type Kernel interface {
	// Symbols returns the host-provided symbols this kernel exposes,
	// keyed by fully-qualified symbol key (see symbolKey).
	Symbols() map[string]SymbolFunc
}

// ExecutorContext holds the symbol table produced by linking one module: a
// mix of host (kernel) symbols and the module's own exported symbol. It is
// scoped to a single job invocation.
type ExecutorContext struct {
	mu      sync.RWMutex
	symbols map[string]SymbolFunc
	kernel  Kernel
}

// NewExecutorContext seeds an ExecutorContext with kernel's host symbols.
func NewExecutorContext(kernel Kernel) *ExecutorContext {
	ec := &ExecutorContext{symbols: make(map[string]SymbolFunc), kernel: kernel}
	if kernel != nil {
		for k, fn := range kernel.Symbols() {
			ec.symbols[k] = fn
		}
	}
	return ec
}

// symbolKey returns the fully-qualified key a Symbol is stored/looked up
// under in the executor's symbol table.
func symbolKey(sym compute.Symbol) string {
	return sym.ModuleInfo.Handle() + "#" + sym.Name
}

// AddSymbol registers a module's exported function. Registering the same
// symbol twice is a contract violation (AmbiguousSymbol), mirroring the
// original linker's duplicate-export check.
func (ec *ExecutorContext) AddSymbol(sym compute.Symbol, fn SymbolFunc) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	key := symbolKey(sym)
	if _, exists := ec.symbols[key]; exists {
		return compute.ErrAmbiguousSymbol
	}
	ec.symbols[key] = fn
	return nil
}

// Call invokes sym with input, failing with NotFoundSymbol if it was never
// linked.
func (ec *ExecutorContext) Call(ctx context.Context, sym compute.Symbol, input []byte) ([]byte, error) {
	ec.mu.RLock()
	fn, ok := ec.symbols[symbolKey(sym)]
	ec.mu.RUnlock()
	if !ok {
		return nil, compute.ErrNotFoundSymbol
	}
	return fn(ctx, input)
}

// GetKernel returns the kernel this context was linked against.
func (ec *ExecutorContext) GetKernel() Kernel { return ec.kernel }
