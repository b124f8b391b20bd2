package wasmexec

import (
	"context"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

// Linker produces an ExecutorContext for a single symbol invocation: it
// resolves the symbol's module (unless it is a natively registered SERVICE
// module) and wires it behind a single callable export, plus whatever host
// symbols the kernel exposes.
type Linker struct {
	resolver *BlobResolver
	sandbox  Sandbox
	services *ServiceRegistry
}

// NewLinker constructs a Linker over resolver (module bytes), sandbox
// (WASM execution), and services (host-native modules).
func NewLinker(resolver *BlobResolver, sandbox Sandbox, services *ServiceRegistry) *Linker {
	return &Linker{resolver: resolver, sandbox: sandbox, services: services}
}

// Link resolves and links sym, returning an ExecutorContext whose Call
// invokes it.
func (l *Linker) Link(ctx context.Context, cctx *channel.Context, kernel Kernel, sym compute.Symbol, ext compute.Extensions) (*ExecutorContext, error) {
	ec := NewExecutorContext(kernel)

	if sym.ModuleInfo.ModType == compute.ModuleTypeService {
		fn, ok := l.services.Lookup(sym)
		if !ok {
			return nil, compute.ErrLinkerLoadFailed
		}
		if err := ec.AddSymbol(sym, fn); err != nil {
			return nil, compute.ErrLinkerLinkFailed
		}
		return ec, nil
	}

	moduleBytes, err := l.resolver.Resolve(ctx, cctx, sym.ModuleInfo, ext)
	if err != nil {
		return nil, compute.ErrLinkerLoadFailed
	}

	sandbox := l.sandbox
	fn := func(ctx context.Context, input []byte) ([]byte, error) {
		out, err := sandbox.Execute(ctx, moduleBytes, sym, input)
		if err != nil {
			return nil, compute.ErrWasmError
		}
		return out, nil
	}
	if err := ec.AddSymbol(sym, fn); err != nil {
		return nil, compute.ErrLinkerLinkFailed
	}
	return ec, nil
}
