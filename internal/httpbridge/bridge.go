// Copyright 2025 James Ross
// Package httpbridge is the gorilla/mux-fronted REST convenience wrapper
// over the gRPC Channel.Compute call, for callers that would rather not
// carry a gRPC client.
package httpbridge

import (
	"encoding/json"
	"net/http"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Bridge answers POST /v1/compute by decoding a ComputeInput body, running
// it through head/cctx, and encoding the resulting ComputeOutput.
type Bridge struct {
	head channel.Channel
	cctx *channel.Context
	log  *zap.Logger
}

// NewBridge binds the bridge to a process-wide chain head and context.
func NewBridge(head channel.Channel, cctx *channel.Context, log *zap.Logger) *Bridge {
	return &Bridge{head: head, cctx: cctx, log: log}
}

// Routes registers the bridge's handlers onto router.
func (b *Bridge) Routes(router *mux.Router) {
	router.HandleFunc("/v1/compute", b.handleCompute).Methods(http.MethodPost)
}

func (b *Bridge) handleCompute(w http.ResponseWriter, r *http.Request) {
	var input compute.ComputeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	out, err := b.head.Compute(r.Context(), b.cctx, &input)
	if err != nil {
		b.log.Warn("compute request failed", zap.String("op", input.Op.String()), zap.Error(err))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		b.log.Error("failed to encode compute response", zap.Error(err))
	}
}
