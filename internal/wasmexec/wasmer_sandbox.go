// Copyright 2025 James Ross
package wasmexec

import (
	"fmt"

	"context"

	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/wasmerio/wasmer-go/wasmer"
	"go.uber.org/zap"
)

// WasmerSandbox executes resolved modules with the wasmer runtime. Modules
// executed here expose a flat byte-in/byte-out calling convention rather
// than a host-function surface: a module exports "alloc" (i32 size -> i32 ptr), "dealloc" (i32
// ptr, i32 size), a "memory" export, and the requested symbol itself taking
// (ptr, len) and returning a single i64 packing the result pointer in the
// high 32 bits and its length in the low 32 bits.
type WasmerSandbox struct {
	engine *wasmer.Engine
	log    *zap.Logger
}

// NewWasmerSandbox constructs a sandbox backed by a fresh wasmer engine.
func NewWasmerSandbox(log *zap.Logger) *WasmerSandbox {
	return &WasmerSandbox{engine: wasmer.NewEngine(), log: log}
}

// Execute compiles moduleBytes, instantiates it with no host imports, and
// calls symbol.Name with input. If ctx ends before the call returns,
// Execute returns ctx.Err() at once, but the exported call itself is not
// preempted: wasmer's engine does not expose epoch-based interruption the
// way wasmtime does, so a module that loops keeps running on its own
// goroutine.
func (s *WasmerSandbox) Execute(ctx context.Context, moduleBytes []byte, symbol compute.Symbol, input []byte) ([]byte, error) {
	store := wasmer.NewStore(s.engine)

	module, err := wasmer.NewModule(store, moduleBytes)
	if err != nil {
		return nil, fmt.Errorf("wasmexec: compile %s: %w", symbol.Name, err)
	}

	importObject := wasmer.NewImportObject()
	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return nil, fmt.Errorf("wasmexec: instantiate %s: %w", symbol.Name, err)
	}
	defer instance.Close()

	memory, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, fmt.Errorf("wasmexec: module has no exported memory: %w", err)
	}

	alloc, err := instance.Exports.GetFunction("alloc")
	if err != nil {
		return nil, fmt.Errorf("wasmexec: module has no exported alloc: %w", err)
	}

	fn, err := instance.Exports.GetFunction(symbol.Name)
	if err != nil {
		return nil, fmt.Errorf("wasmexec: symbol %s not exported: %w", symbol.Name, err)
	}

	inPtr, err := alloc(int32(len(input)))
	if err != nil {
		return nil, fmt.Errorf("wasmexec: alloc input: %w", err)
	}
	ptr, ok := inPtr.(int32)
	if !ok {
		return nil, fmt.Errorf("wasmexec: alloc returned non-i32 result")
	}

	if len(input) > 0 {
		if err := writeMemory(memory, ptr, input); err != nil {
			return nil, err
		}
	}

	type callResult struct {
		val int64
		err error
	}
	done := make(chan callResult, 1)
	go func() {
		raw, callErr := fn(ptr, int32(len(input)))
		if callErr != nil {
			done <- callResult{err: callErr}
			return
		}
		packed, ok := raw.(int64)
		if !ok {
			done <- callResult{err: fmt.Errorf("wasmexec: symbol %s did not return a packed i64", symbol.Name)}
			return
		}
		done <- callResult{val: packed}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("wasmexec: call %s: %w", symbol.Name, res.err)
		}
		outPtr := int32(res.val >> 32)
		outLen := int32(res.val & 0xffffffff)
		out, err := readMemory(memory, outPtr, outLen)
		if err != nil {
			return nil, err
		}

		if dealloc, derr := instance.Exports.GetFunction("dealloc"); derr == nil {
			_, _ = dealloc(outPtr, outLen)
		}
		return out, nil
	}
}

func writeMemory(memory *wasmer.Memory, ptr int32, data []byte) error {
	buf := memory.Data()
	if int(ptr)+len(data) > len(buf) {
		return fmt.Errorf("wasmexec: write out of bounds at %d len %d (memory size %d)", ptr, len(data), len(buf))
	}
	copy(buf[ptr:], data)
	return nil
}

func readMemory(memory *wasmer.Memory, ptr, length int32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	buf := memory.Data()
	if int(ptr)+int(length) > len(buf) {
		return nil, fmt.Errorf("wasmexec: read out of bounds at %d len %d (memory size %d)", ptr, length, len(buf))
	}
	out := make([]byte, length)
	copy(out, buf[ptr:int(ptr)+int(length)])
	return out, nil
}
