package wasmexec

// EmptyKernel exposes no host symbols, for deployments that only run
// self-contained WASM modules.
type EmptyKernel struct{}

func (EmptyKernel) Symbols() map[string]SymbolFunc { return nil }
