package pricetape

import (
	"path/filepath"
	"testing"
	"time"

	"perp-gateway/internal/gatewayerr"
	"perp-gateway/internal/upstream"
)

func TestLookupFailsClosedForUnknownSymbol(t *testing.T) {
	t.Parallel()

	m := NewAssetIdMap(5*time.Minute, "", testLogger())
	_, err := m.Lookup("NOPE-PERP")
	if err == nil {
		t.Fatal("expected error for unknown symbol")
	}
	var gwErr *gatewayerr.Error
	if ge, ok := err.(*gatewayerr.Error); ok {
		gwErr = ge
	} else {
		t.Fatalf("expected *gatewayerr.Error, got %T", err)
	}
	if gwErr.Kind != gatewayerr.KindAssetIdNotFound {
		t.Errorf("kind = %s, want %s", gwErr.Kind, gatewayerr.KindAssetIdNotFound)
	}
}

func TestLookupFallsBackToBuiltinTable(t *testing.T) {
	t.Parallel()

	m := NewAssetIdMap(5*time.Minute, "", testLogger())
	id, err := m.Lookup("BTC-PERP")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if id != 0 {
		t.Errorf("id = %d, want 0", id)
	}
}

func TestRefreshPersistsAndWarmStartLoadsWithoutCountingAsRefresh(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cacheFile := filepath.Join(dir, "asset-ids.json")

	m1 := NewAssetIdMap(5*time.Minute, cacheFile, testLogger())
	m1.Refresh(upstream.MetaResponse{Universe: []upstream.MetaAsset{
		{Name: "BTC"}, {Name: "ETH"}, {Name: "SOL"},
	}})
	if m1.NeedsRefresh() {
		t.Error("expected NeedsRefresh to be false immediately after Refresh")
	}

	m2 := NewAssetIdMap(5*time.Minute, cacheFile, testLogger())
	if !m2.NeedsRefresh() {
		t.Error("a fresh map with no refresh should need one")
	}
	if err := m2.LoadWarmCache(); err != nil {
		t.Fatalf("LoadWarmCache: %v", err)
	}
	if !m2.NeedsRefresh() {
		t.Error("loading the warm cache must not count as a refresh")
	}
	id, err := m2.Lookup("SOL-PERP")
	if err != nil {
		t.Fatalf("Lookup after warm load: %v", err)
	}
	if id != 2 {
		t.Errorf("id = %d, want 2", id)
	}
}

func TestLoadWarmCacheMissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	m := NewAssetIdMap(5*time.Minute, filepath.Join(t.TempDir(), "missing.json"), testLogger())
	if err := m.LoadWarmCache(); err != nil {
		t.Fatalf("LoadWarmCache: %v", err)
	}
}

func TestRefreshSkipsDelistedAssets(t *testing.T) {
	t.Parallel()

	m := NewAssetIdMap(5*time.Minute, "", testLogger())
	m.Refresh(upstream.MetaResponse{Universe: []upstream.MetaAsset{
		{Name: "BTC"},
		{Name: "DEAD", IsDelisted: true},
	}})
	if _, err := m.Lookup("DEAD-PERP"); err == nil {
		t.Error("expected delisted asset to be absent from the refreshed cache")
	}
}
