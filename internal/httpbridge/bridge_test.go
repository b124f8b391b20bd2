// Copyright 2025 James Ross
package httpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type echoTerminal struct {
	channel.Base
}

func (e *echoTerminal) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	return &compute.ComputeOutput{Kind: compute.OutLoaded, Data: []byte(input.Handle)}, nil
}

type failingTerminal struct {
	channel.Base
}

func (f *failingTerminal) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	return nil, compute.ErrUnsupportedOperation
}

func newRouter(head channel.Channel) *mux.Router {
	cctx := channel.NewContext(head)
	b := NewBridge(head, cctx, zap.NewNop())
	router := mux.NewRouter()
	b.Routes(router)
	return router
}

func TestHandleComputeRoundTrips(t *testing.T) {
	head := &echoTerminal{Base: channel.NewBase("echo")}
	router := newRouter(head)

	body, _ := json.Marshal(compute.ComputeInput{Op: compute.OpLoad, Handle: "job/1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/compute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var out compute.ComputeOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if string(out.Data) != "job/1" {
		t.Fatalf("expected echoed handle, got %q", out.Data)
	}
}

func TestHandleComputeRejectsBadBody(t *testing.T) {
	head := &echoTerminal{Base: channel.NewBase("echo")}
	router := newRouter(head)

	req := httptest.NewRequest(http.MethodPost, "/v1/compute", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleComputeSurfacesChainError(t *testing.T) {
	head := &failingTerminal{Base: channel.NewBase("fail")}
	router := newRouter(head)

	body, _ := json.Marshal(compute.ComputeInput{Op: compute.OpRun, Handle: "job/1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/compute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}
