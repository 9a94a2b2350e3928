package rpcproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/common"
)

func newTestProxy(upstreamURL string) *Service {
	cfg := &common.RPCProxyConfig{
		AllowedMethods: []string{"eth_call", "eth_getBalance", "eth_blockNumber"},
		RequestTimeout: 5 * time.Second,
		RateLimit:      time.Millisecond,
	}
	chains := &common.ChainsConfig{
		Endpoints: map[string]string{"1": upstreamURL},
	}
	return NewService(cfg, chains, arbor.NewLogger())
}

func rpcRequest(method string) *Request {
	return &Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  method,
		Params:  json.RawMessage(`[]`),
	}
}

func TestForwardAllowedMethod(t *testing.T) {
	var gotMethod string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotMethod = req.Method
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
	}))
	defer upstream.Close()

	proxy := newTestProxy(upstream.URL)

	payload, err := proxy.Forward(context.Background(), 1, rpcRequest("eth_blockNumber"))
	require.NoError(t, err)
	assert.Equal(t, "eth_blockNumber", gotMethod)
	assert.Contains(t, string(payload), `"result":"0x10"`)
}

func TestForwardRejectsDisallowedMethods(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("disallowed method must never reach upstream")
	}))
	defer upstream.Close()

	proxy := newTestProxy(upstream.URL)

	for _, method := range []string{
		"eth_sendTransaction",
		"eth_sendRawTransaction",
		"personal_sign",
		"eth_accounts",
		"made_up_method",
	} {
		t.Run(method, func(t *testing.T) {
			_, err := proxy.Forward(context.Background(), 1, rpcRequest(method))
			assert.ErrorIs(t, err, ErrMethodNotAllowed)
		})
	}
}

func TestForwardUnsupportedChain(t *testing.T) {
	proxy := newTestProxy("http://unused.invalid")

	_, err := proxy.Forward(context.Background(), 999999, rpcRequest("eth_call"))
	assert.ErrorIs(t, err, ErrUnsupportedChain)
}

func TestForwardUpstreamErrorPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"execution reverted"}}`))
	}))
	defer upstream.Close()

	proxy := newTestProxy(upstream.URL)

	// JSON-RPC error objects ride a 200 response and pass through verbatim.
	payload, err := proxy.Forward(context.Background(), 1, rpcRequest("eth_call"))
	require.NoError(t, err)
	assert.Contains(t, string(payload), "execution reverted")
}

func TestForwardUpstreamHTTPFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer upstream.Close()

	proxy := newTestProxy(upstream.URL)

	_, err := proxy.Forward(context.Background(), 1, rpcRequest("eth_call"))
	assert.Error(t, err)
}

func TestMethodAllowedFailsClosed(t *testing.T) {
	proxy := newTestProxy("http://unused.invalid")

	assert.True(t, proxy.MethodAllowed("eth_call"))
	assert.False(t, proxy.MethodAllowed("eth_sendTransaction"))
	assert.False(t, proxy.MethodAllowed(""))
	assert.False(t, proxy.MethodAllowed("ETH_CALL"), "matching is exact, not case-folded")
}
