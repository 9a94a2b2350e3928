// Package rpcproxy forwards read-only JSON-RPC calls to allow-listed chain
// endpoints. The allowlist fails closed: any method not explicitly listed is
// rejected before a byte leaves the process.
package rpcproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/chainwright/forge/internal/common"
)

var (
	// ErrMethodNotAllowed reports a method outside the read-only allowlist.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrUnsupportedChain reports a chain with no configured endpoint.
	ErrUnsupportedChain = errors.New("unsupported chain")
)

// Request is one JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Service proxies allow-listed JSON-RPC methods to upstream chain endpoints,
// applying a per-chain rate limit.
type Service struct {
	cfg        *common.RPCProxyConfig
	chains     *common.ChainsConfig
	allowed    map[string]struct{}
	httpClient *http.Client
	logger     arbor.ILogger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewService creates the JSON-RPC proxy.
func NewService(cfg *common.RPCProxyConfig, chains *common.ChainsConfig, logger arbor.ILogger) *Service {
	allowed := make(map[string]struct{}, len(cfg.AllowedMethods))
	for _, m := range cfg.AllowedMethods {
		allowed[m] = struct{}{}
	}
	return &Service{
		cfg:     cfg,
		chains:  chains,
		allowed: allowed,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger:   logger,
		limiters: make(map[int64]*rate.Limiter),
	}
}

// MethodAllowed reports whether the method is on the read-only allowlist.
// Unknown methods are rejected; there is no permissive fallback.
func (s *Service) MethodAllowed(method string) bool {
	_, ok := s.allowed[method]
	return ok
}

// Forward validates and forwards one JSON-RPC request to the chain's
// configured endpoint, returning the upstream response body verbatim.
// Upstream JSON-RPC error objects pass through untouched; the proxy never
// rewrites them.
func (s *Service) Forward(ctx context.Context, chainID int64, req *Request) (json.RawMessage, error) {
	if !s.MethodAllowed(req.Method) {
		s.logger.Warn().
			Str("method", req.Method).
			Int64("chain_id", chainID).
			Msg("Rejected non-allowlisted RPC method")
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, req.Method)
	}

	endpoint, ok := s.chains.EndpointFor(chainID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}

	if err := s.limiterFor(chainID).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	s.logger.Debug().
		Str("method", req.Method).
		Int64("chain_id", chainID).
		Msg("RPC request forwarded")

	return payload, nil
}

func (s *Service) limiterFor(chainID int64) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.limiters[chainID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.cfg.RateLimit), 1)
		s.limiters[chainID] = limiter
	}
	return limiter
}
