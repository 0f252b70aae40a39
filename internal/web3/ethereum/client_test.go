package ethereum

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

func newRPCServer(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		result, ok := results[req.Method]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

func TestFetchChainSnapshot(t *testing.T) {
	t.Parallel()

	srv := newRPCServer(t, map[string]string{
		"eth_chainId":     "0x539",
		"eth_blockNumber": "0x10",
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, Config{RPCURL: srv.URL, Notes: "local devnet"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x539" || snapshot.BlockNumber != "0x10" || snapshot.Notes != "local devnet" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestFetchChainSnapshotPropagatesRPCError(t *testing.T) {
	t.Parallel()

	srv := newRPCServer(t, map[string]string{"eth_chainId": "0x1"})
	defer srv.Close()

	client, err := NewClient(context.Background(), Config{RPCURL: srv.URL, CallTimeout: time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	if _, err := client.FetchChainSnapshot(context.Background()); err == nil {
		t.Fatalf("expected error when eth_blockNumber fails")
	}
}

func TestClosedClient(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without rpc url")
	}

	srv := newRPCServer(t, nil)
	defer srv.Close()
	client, err := NewClient(context.Background(), Config{RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.Close()
	if _, err := client.FetchChainSnapshot(context.Background()); err == nil {
		t.Fatalf("expected error after close")
	}
}
