package wasmexec

import (
	"bytes"
	"context"
	"testing"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/jobmanager"
	"go.uber.org/zap"
)

// memHead is a minimal in-memory Store/Load backend standing in for the
// real storage channel chain.
type memHead struct {
	channel.Base
	blobs map[string][]byte
}

func newMemHead() *memHead { return &memHead{Base: channel.NewBase("mem"), blobs: make(map[string][]byte)} }

func (m *memHead) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	switch input.Op {
	case compute.OpStore:
		m.blobs[input.Store.Handle] = input.Store.Data
		return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
	case compute.OpLoad:
		data, ok := m.blobs[input.Handle]
		if !ok {
			return nil, compute.ErrStorageLoadFailed
		}
		return &compute.ComputeOutput{Kind: compute.OutLoaded, Data: data}, nil
	default:
		return nil, compute.ErrUnsupportedOperation
	}
}

type echoSandbox struct{ calls int }

func (s *echoSandbox) Execute(ctx context.Context, moduleBytes []byte, symbol compute.Symbol, input []byte) ([]byte, error) {
	s.calls++
	out := append([]byte{}, moduleBytes...)
	out = append(out, input...)
	return out, nil
}

func TestBlobResolverRoundTrip(t *testing.T) {
	head := newMemHead()
	cctx := channel.NewContext(head)
	r := NewBlobResolver(head)

	info := compute.ModuleInfo{Name: "adder", Version: "1", ModType: compute.ModuleTypeWASM}
	if err := r.Register(context.Background(), cctx, info, nil, []byte("module-bytes")); err != nil {
		t.Fatalf("register: %v", err)
	}

	data, err := r.Resolve(context.Background(), cctx, info, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if string(data) != "module-bytes" {
		t.Fatalf("expected module-bytes, got %q", data)
	}
}

func TestBlobResolverMissingModule(t *testing.T) {
	head := newMemHead()
	cctx := channel.NewContext(head)
	r := NewBlobResolver(head)

	_, err := r.Resolve(context.Background(), cctx, compute.ModuleInfo{Name: "missing"}, nil)
	if err != compute.ErrModuleLoadFailed {
		t.Fatalf("expected ErrModuleLoadFailed, got %v", err)
	}
}

func TestExecutorContextAmbiguousSymbol(t *testing.T) {
	ec := NewExecutorContext(EmptyKernel{})
	sym := compute.Symbol{ModuleInfo: compute.ModuleInfo{Name: "m"}, Name: "fn"}
	noop := func(ctx context.Context, input []byte) ([]byte, error) { return input, nil }

	if err := ec.AddSymbol(sym, noop); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := ec.AddSymbol(sym, noop); err != compute.ErrAmbiguousSymbol {
		t.Fatalf("expected ErrAmbiguousSymbol, got %v", err)
	}
}

func TestExecutorContextNotFoundSymbol(t *testing.T) {
	ec := NewExecutorContext(EmptyKernel{})
	_, err := ec.Call(context.Background(), compute.Symbol{Name: "missing"}, nil)
	if err != compute.ErrNotFoundSymbol {
		t.Fatalf("expected ErrNotFoundSymbol, got %v", err)
	}
}

func TestLinkerServiceModule(t *testing.T) {
	services := NewServiceRegistry()
	sym := compute.Symbol{ModuleInfo: compute.ModuleInfo{Name: "svc", ModType: compute.ModuleTypeService}, Name: "greet"}
	services.Register(sym, func(ctx context.Context, input []byte) ([]byte, error) {
		return append([]byte("hello "), input...), nil
	})

	head := newMemHead()
	cctx := channel.NewContext(head)
	l := NewLinker(NewBlobResolver(head), &echoSandbox{}, services)

	ec, err := l.Link(context.Background(), cctx, EmptyKernel{}, sym, nil)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	out, err := ec.Call(context.Background(), sym, []byte("world"))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestLinkerWasmModuleMissing(t *testing.T) {
	head := newMemHead()
	cctx := channel.NewContext(head)
	l := NewLinker(NewBlobResolver(head), &echoSandbox{}, NewServiceRegistry())

	sym := compute.Symbol{ModuleInfo: compute.ModuleInfo{Name: "missing", ModType: compute.ModuleTypeWASM}, Name: "run"}
	_, err := l.Link(context.Background(), cctx, EmptyKernel{}, sym, nil)
	if err != compute.ErrLinkerLoadFailed {
		t.Fatalf("expected ErrLinkerLoadFailed, got %v", err)
	}
}

func TestChannelRunsJobAndStoresOutput(t *testing.T) {
	head := newMemHead()
	cctx := channel.NewContext(head)

	info := compute.ModuleInfo{Name: "adder", Version: "1", ModType: compute.ModuleTypeWASM}
	r := NewBlobResolver(head)
	if err := r.Register(context.Background(), cctx, info, nil, []byte("MOD:")); err != nil {
		t.Fatalf("register module: %v", err)
	}
	head.blobs["input/1"] = []byte("PAYLOAD")

	sandbox := &echoSandbox{}
	linker := NewLinker(r, sandbox, NewServiceRegistry())
	manager := jobmanager.New("inst-1", compute.JobCost{"compute": 100}, jobmanager.StandardCostEvaluator{}, zap.NewNop())

	ch := New("wasmexec", manager, linker, EmptyKernel{}, zap.NewNop())
	cctx.RegisterChannel(ch)

	spec := compute.JobSpec{
		Handle:       "job/1",
		Symbol:       compute.Symbol{ModuleInfo: info, Name: "run"},
		InputHandle:  "input/1",
		OutputHandle: "output/1",
		TTL:          10,
	}

	out, err := ch.Compute(context.Background(), cctx, &compute.ComputeInput{Op: compute.OpRun, Run: spec})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if out.Kind != compute.OutCompleted {
		t.Fatalf("expected OutCompleted, got %+v", out)
	}
	if sandbox.calls != 1 {
		t.Fatalf("expected sandbox invoked once, got %d", sandbox.calls)
	}
	stored, ok := head.blobs["output/1"]
	if !ok {
		t.Fatal("expected output stored")
	}
	if !bytes.Equal(stored, []byte("MOD:PAYLOAD")) {
		t.Fatalf("unexpected output: %q", stored)
	}
	if _, tracked := cctx.JobStatus(spec.Handle); tracked {
		t.Fatal("expected job untracked after completion")
	}
}

func TestChannelRejectsOverBudget(t *testing.T) {
	head := newMemHead()
	cctx := channel.NewContext(head)
	linker := NewLinker(NewBlobResolver(head), &echoSandbox{}, NewServiceRegistry())
	manager := jobmanager.New("inst-1", compute.JobCost{"compute": 1}, jobmanager.StandardCostEvaluator{}, zap.NewNop())

	ch := New("wasmexec", manager, linker, EmptyKernel{}, zap.NewNop())

	spec := compute.JobSpec{Handle: "job/over", TTL: 100}
	out, err := ch.Compute(context.Background(), cctx, &compute.ComputeInput{Op: compute.OpRun, Run: spec})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if out.Kind != compute.OutSubmitted {
		t.Fatalf("expected OutSubmitted on budget rejection, got %+v", out)
	}
}
