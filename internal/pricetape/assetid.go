package pricetape

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"perp-gateway/internal/gatewayerr"
	"perp-gateway/internal/upstream"
	"perp-gateway/pkg/types"
)

// builtinAssetIds is the fail-closed fallback table consulted when upstream
// is unreachable and no warm cache entry exists. Ordering mirrors a typical
// Hyperliquid-convention universe listing; it exists only to keep order
// placement possible during an outage, never as a silent substitute for a
// real refresh.
var builtinAssetIds = map[types.Symbol]int{
	"BTC-PERP":   0,
	"ETH-PERP":   1,
	"ATOM-PERP":  2,
	"MATIC-PERP": 3,
	"DYDX-PERP":  4,
	"SOL-PERP":   5,
	"AVAX-PERP":  6,
	"BNB-PERP":   7,
	"APE-PERP":   8,
	"OP-PERP":    9,
	"LTC-PERP":   10,
	"ARB-PERP":   11,
	"DOGE-PERP":  12,
	"INJ-PERP":   13,
	"SUI-PERP":   14,
	"XRP-PERP":   15,
	"LINK-PERP":  16,
	"BCH-PERP":   17,
	"TRX-PERP":   18,
	"NEAR-PERP":  19,
	"FIL-PERP":   20,
	"APT-PERP":   21,
}

// warmCacheFile is the on-disk shape for the §4.C.1 warm-start cache. It
// carries only symbol→id pairs, never price data.
type warmCacheFile struct {
	Ids map[types.Symbol]int `json:"ids"`
}

// AssetIdMap is the symbol→asset-id cache. Lookups fail closed: a symbol
// with no entry anywhere returns a structured AssetIdNotFound error rather
// than an id of 0.
type AssetIdMap struct {
	mu          sync.RWMutex
	ids         map[types.Symbol]int
	refreshedAt time.Time
	ttl         time.Duration
	cacheFile   string
	logger      *slog.Logger
}

// NewAssetIdMap builds an empty map; call LoadWarmCache to seed it from disk
// before the first poll completes.
func NewAssetIdMap(ttl time.Duration, cacheFile string, logger *slog.Logger) *AssetIdMap {
	return &AssetIdMap{
		ids:       make(map[types.Symbol]int),
		ttl:       ttl,
		cacheFile: cacheFile,
		logger:    logger.With("component", "asset-id-map"),
	}
}

// NeedsRefresh reports whether the cache has never been refreshed from
// upstream, or its last refresh is older than the TTL.
func (m *AssetIdMap) NeedsRefresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshedAt.IsZero() || time.Since(m.refreshedAt) > m.ttl
}

// Refresh replaces the cache from an upstream meta response and persists the
// warm-start file. This is the only call that advances refreshedAt; a warm
// cache load at startup deliberately does not.
func (m *AssetIdMap) Refresh(meta upstream.MetaResponse) {
	ids := make(map[types.Symbol]int, len(meta.Universe))
	for i, asset := range meta.Universe {
		if asset.IsDelisted {
			continue
		}
		sym := types.Symbol(asset.Name).Canonical()
		ids[sym] = i
	}

	m.mu.Lock()
	m.ids = ids
	m.refreshedAt = time.Now()
	m.mu.Unlock()

	if err := m.persist(ids); err != nil {
		m.logger.Warn("failed to persist asset-id warm cache", "error", err)
	}
}

// Lookup resolves symbol to an upstream asset id. Resolution order: the
// live cache, then the built-in fallback table. Neither holding returns a
// zero id for an unknown symbol — Lookup fails closed with
// AssetIdNotFound.
func (m *AssetIdMap) Lookup(symbol types.Symbol) (int, error) {
	sym := symbol.Canonical()

	m.mu.RLock()
	id, ok := m.ids[sym]
	m.mu.RUnlock()
	if ok {
		return id, nil
	}

	if id, ok := builtinAssetIds[sym]; ok {
		return id, nil
	}

	return 0, gatewayerr.New(gatewayerr.KindAssetIdNotFound, fmt.Sprintf("no asset id known for symbol %q", sym)).
		WithField("symbol", string(sym))
}

// Snapshot returns a copy of the live cache plus its last refresh time, for
// read-only inspection (e.g. an asset-ids status endpoint).
func (m *AssetIdMap) Snapshot() (map[types.Symbol]int, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.Symbol]int, len(m.ids))
	for sym, id := range m.ids {
		out[sym] = id
	}
	return out, m.refreshedAt
}

// persist atomically writes the warm-start cache file (tmp-then-rename),
// adapted from the pack's crash-safe JSON persistence convention.
func (m *AssetIdMap) persist(ids map[types.Symbol]int) error {
	if m.cacheFile == "" {
		return nil
	}

	data, err := json.Marshal(warmCacheFile{Ids: ids})
	if err != nil {
		return fmt.Errorf("marshal warm cache: %w", err)
	}

	if dir := filepath.Dir(m.cacheFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create warm cache dir: %w", err)
		}
	}

	tmp := m.cacheFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write warm cache: %w", err)
	}
	return os.Rename(tmp, m.cacheFile)
}

// LoadWarmCache seeds the map from a previously persisted file, if present.
// It deliberately does not set refreshedAt: a loaded cache is a pre-TTL seed
// for Lookup, never a substitute for a real refresh. A missing or corrupt
// file is not an error — Lookup simply falls back to the built-in table
// until the first poll completes.
func (m *AssetIdMap) LoadWarmCache() error {
	if m.cacheFile == "" {
		return nil
	}

	data, err := os.ReadFile(m.cacheFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read warm cache: %w", err)
	}

	var parsed warmCacheFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		m.logger.Warn("warm cache file is corrupt, ignoring", "error", err)
		return nil
	}

	m.mu.Lock()
	m.ids = parsed.Ids
	m.mu.Unlock()
	return nil
}
