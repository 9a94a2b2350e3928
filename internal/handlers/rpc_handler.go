package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/services/rpcproxy"
)

// RPCHandler exposes the restricted JSON-RPC proxy over HTTP
type RPCHandler struct {
	proxy  *rpcproxy.Service
	logger arbor.ILogger
}

// NewRPCHandler creates a new RPC proxy handler
func NewRPCHandler(proxy *rpcproxy.Service, logger arbor.ILogger) *RPCHandler {
	return &RPCHandler{
		proxy:  proxy,
		logger: logger,
	}
}

// ProxyHandler forwards one allow-listed JSON-RPC request to the chain's
// configured endpoint.
// POST /api/rpc/{chainId}
func (h *RPCHandler) ProxyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	chainID, ok := chainIDFromPath(r.URL.Path)
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid chain ID")
		return
	}

	var req rpcproxy.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON-RPC request: "+err.Error())
		return
	}

	payload, err := h.proxy.Forward(r.Context(), chainID, &req)
	if err != nil {
		switch {
		case errors.Is(err, rpcproxy.ErrMethodNotAllowed):
			WriteError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, rpcproxy.ErrUnsupportedChain):
			WriteError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Warn().Err(err).Int64("chain_id", chainID).Msg("RPC proxy upstream failure")
			WriteError(w, http.StatusBadGateway, "upstream request failed")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// chainIDFromPath extracts the chain ID from paths like /api/rpc/{chainId}.
func chainIDFromPath(path string) (int64, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 {
		return 0, false
	}
	chainID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || chainID <= 0 {
		return 0, false
	}
	return chainID, true
}
