package upstream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"perp-gateway/internal/gatewayerr"
	"perp-gateway/internal/signer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMetaParsesUniverse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"universe":[{"name":"BTC","szDecimals":5,"pxDecimals":1,"maxLeverage":40}]}`))
	}))
	defer server.Close()

	s, err := signer.New("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d")
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}
	transport := NewHTTPTransport(Config{BaseURL: server.URL, Timeout: 5 * time.Second}, s, testLogger())

	meta, err := transport.Meta(context.Background())
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if len(meta.Universe) != 1 || meta.Universe[0].Name != "BTC" {
		t.Errorf("unexpected meta: %+v", meta)
	}
}

func TestOrderDryRunSuppressesRequest(t *testing.T) {
	t.Parallel()

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	s, err := signer.New("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d")
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}
	transport := NewHTTPTransport(Config{BaseURL: server.URL, Timeout: 5 * time.Second, DryRun: true}, s, testLogger())

	_, err = transport.Order(context.Background(), OrderRequest{Orders: []OrderWire{{A: 0, B: true, P: "100", S: "1"}}})
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if called {
		t.Error("dry run must not reach the upstream server")
	}
}

func TestOrderSubmitsSignedEnvelope(t *testing.T) {
	t.Parallel()

	bodies := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"statuses":[{"status":"ok"}]}`))
	}))
	defer server.Close()

	s, err := signer.New("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d")
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}
	vault := common.HexToAddress("0x1111111111111111111111111111111111111111")
	transport := NewHTTPTransport(Config{BaseURL: server.URL, Timeout: 5 * time.Second, VaultAddress: &vault}, s, testLogger())

	result, err := transport.Order(context.Background(), OrderRequest{Orders: []OrderWire{{A: 0, B: true, P: "100", S: "1"}}})
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if len(result.Statuses) != 1 || result.Statuses[0].Status != "ok" {
		t.Errorf("unexpected result: %+v", result)
	}

	gotBody := <-bodies
	if _, ok := gotBody["signature"].(map[string]any); !ok {
		t.Errorf("envelope missing signature object: %v", gotBody)
	}
	if _, ok := gotBody["nonce"]; !ok {
		t.Errorf("envelope missing nonce: %v", gotBody)
	}
	if gotBody["vaultAddress"] != vault.Hex() {
		t.Errorf("vaultAddress = %v, want %s", gotBody["vaultAddress"], vault.Hex())
	}
}

func TestOrderMapsUpstreamErrorTaxonomy(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`insufficient balance for order`))
	}))
	defer server.Close()

	s, err := signer.New("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d")
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}
	transport := NewHTTPTransport(Config{BaseURL: server.URL, Timeout: 5 * time.Second}, s, testLogger())

	_, err = transport.Order(context.Background(), OrderRequest{Orders: []OrderWire{{A: 0, B: true, P: "100", S: "1"}}})
	if err == nil {
		t.Fatal("expected an error")
	}
	gwErr, ok := err.(*gatewayerr.Error)
	if !ok || gwErr.Kind != gatewayerr.KindInsufficientBalance {
		t.Errorf("expected InsufficientBalance error, got %v", err)
	}
}
