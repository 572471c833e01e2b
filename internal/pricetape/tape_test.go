package pricetape

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perp-gateway/internal/precision"
	"perp-gateway/internal/upstream"
	"perp-gateway/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeInfoTransport struct {
	meta upstream.MetaResponse
	mids map[string]string
}

func (f *fakeInfoTransport) Meta(ctx context.Context) (upstream.MetaResponse, error) {
	return f.meta, nil
}

func (f *fakeInfoTransport) AllMids(ctx context.Context) (map[string]string, error) {
	return f.mids, nil
}

func (f *fakeInfoTransport) ClearinghouseState(ctx context.Context, user string) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeInfoTransport) SpotClearinghouseState(ctx context.Context, user string) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeInfoTransport) OpenOrders(ctx context.Context, user string) (json.RawMessage, error) {
	return nil, nil
}

func newTestTape(t *testing.T) (*Tape, *fakeInfoTransport) {
	t.Helper()
	transport := &fakeInfoTransport{
		meta: upstream.MetaResponse{Universe: []upstream.MetaAsset{
			{Name: "BTC", SzDecimals: 5, PxDecimals: 1, MaxLeverage: 40},
			{Name: "ETH", SzDecimals: 4, PxDecimals: 2, MaxLeverage: 25},
		}},
		mids: map[string]string{"BTC": "100000.5", "ETH": "3500.25"},
	}
	assetIds := NewAssetIdMap(5*time.Minute, "", testLogger())
	tape := New(transport, precision.NewTable(), assetIds, types.Mainnet, time.Hour, testLogger())
	return tape, transport
}

func TestStartPopulatesSnapshot(t *testing.T) {
	t.Parallel()

	tape, _ := newTestTape(t)
	tape.Start(context.Background())
	defer tape.Stop()

	snap := tape.Snapshot()
	mid, ok := snap.Mid("BTC-PERP")
	if !ok {
		t.Fatal("expected BTC-PERP to be present in snapshot")
	}
	if mid.StringFixed(1) != "100000.5" {
		t.Errorf("mid = %s, want 100000.5", mid.String())
	}
}

func TestStartRefreshesAssetIdMap(t *testing.T) {
	t.Parallel()

	tape, _ := newTestTape(t)
	tape.Start(context.Background())
	defer tape.Stop()

	id, err := tape.assetIds.Lookup("ETH-PERP")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
}

func TestServeSSEBroadcastsPriceUpdate(t *testing.T) {
	t.Parallel()

	tape, transport := newTestTape(t)
	tape.pollInterval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tape.Start(ctx)
	defer tape.Stop()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = tape.ServeSSE(w, r)
	}))
	defer server.Close()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()
	req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, server.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	transport.mids["BTC"] = "101000"

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil && n == 0 {
		t.Fatalf("Read: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one SSE event")
	}
}

func TestSwitchNetworkClearsSnapshot(t *testing.T) {
	t.Parallel()

	tape, _ := newTestTape(t)
	tape.Start(context.Background())
	defer tape.Stop()

	newTransport := &fakeInfoTransport{
		meta: upstream.MetaResponse{Universe: []upstream.MetaAsset{{Name: "SOL", SzDecimals: 2, PxDecimals: 3}}},
		mids: map[string]string{"SOL": "150"},
	}
	if err := tape.SwitchNetwork(context.Background(), newTransport, types.Testnet); err != nil {
		t.Fatalf("SwitchNetwork: %v", err)
	}

	snap := tape.Snapshot()
	if snap.Network != types.Testnet {
		t.Errorf("network = %s, want testnet", snap.Network)
	}
	if _, ok := snap.Mid("BTC-PERP"); ok {
		t.Error("expected old snapshot entries to be cleared")
	}
	if _, ok := snap.Mid("SOL-PERP"); !ok {
		t.Error("expected new snapshot entry for SOL-PERP")
	}
}
