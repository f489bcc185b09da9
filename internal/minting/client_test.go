package minting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/chessdao/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bridge struct {
	tokenCalls atomic.Int32
	mintCalls  atomic.Int32
	failFirst  int32
	mintStatus int
}

func (b *bridge) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		b.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "id" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/api/v1/mint", func(w http.ResponseWriter, r *http.Request) {
		n := b.mintCalls.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		if n <= b.failFirst {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		status := b.mintStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(MintResponse{Status: "delivered", TxID: "0xabc", Message: "ok"})
	})
	return mux
}

func newTestClient(t *testing.T, b *bridge) *Client {
	t.Helper()
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)
	c := NewClient(&config.Config{
		MintBaseURL:      srv.URL,
		MintTokenURL:     "/oauth/token",
		MintClientID:     "id",
		MintClientSecret: "secret",
	}, nil)
	require.NotNil(t, c)
	return c
}

func TestNewClientRequiresConfig(t *testing.T) {
	assert.Nil(t, NewClient(&config.Config{}, nil))
	assert.Nil(t, NewClient(nil, nil))
}

func TestMintSuccess(t *testing.T) {
	b := &bridge{}
	c := newTestClient(t, b)

	resp, err := c.Mint(context.Background(), MintRequest{Account: "alice", AmountMicro: 9_900_000, Reference: "ex-1"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", resp.TxID)
	assert.Equal(t, int32(1), b.mintCalls.Load())
}

func TestMintRetriesServerErrors(t *testing.T) {
	b := &bridge{failFirst: 2}
	c := newTestClient(t, b)

	resp, err := c.Mint(context.Background(), MintRequest{Account: "alice", AmountMicro: 1, Reference: "ex-2"})
	require.NoError(t, err)
	assert.Equal(t, "delivered", resp.Status)
	assert.Equal(t, int32(3), b.mintCalls.Load())
}

func TestMintGivesUpAfterRetries(t *testing.T) {
	b := &bridge{failFirst: 10}
	c := newTestClient(t, b)

	_, err := c.Mint(context.Background(), MintRequest{Account: "alice", AmountMicro: 1, Reference: "ex-3"})
	require.Error(t, err)
	assert.Equal(t, int32(maxAttempts), b.mintCalls.Load())
}

func TestMintDoesNotRetryClientErrors(t *testing.T) {
	b := &bridge{mintStatus: http.StatusUnprocessableEntity}
	c := newTestClient(t, b)

	_, err := c.Mint(context.Background(), MintRequest{Account: "alice", AmountMicro: 1, Reference: "ex-4"})
	require.Error(t, err)
	assert.Equal(t, int32(1), b.mintCalls.Load())
}

func TestMintOnNilClient(t *testing.T) {
	var c *Client
	_, err := c.Mint(context.Background(), MintRequest{})
	assert.Error(t, err)
}
