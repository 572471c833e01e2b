// Package pricetape implements the Price Tape (component C): a poll loop
// against the upstream InfoTransport that normalizes mid-prices and asset
// ids, fans a snapshot out to SSE subscribers, and caches the symbol→id
// table used by the order pipeline. Grounded in the teacher's
// internal/api/stream.go broadcaster and internal/store's crash-safe file
// persistence, adapted to a one-way poll/push shape.
package pricetape

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"perp-gateway/internal/precision"
	"perp-gateway/internal/upstream"
	"perp-gateway/pkg/types"
)

// Tape is the Price Tape component. Construct with New, call Start once,
// Stop to release its background goroutine.
type Tape struct {
	// swapMu protects transport and network against concurrent mutation by
	// SwitchNetwork; it is not held during a poll's network I/O.
	swapMu    sync.Mutex
	transport upstream.InfoTransport
	network   types.Network

	table    *precision.Table
	assetIds *AssetIdMap

	pollInterval time.Duration
	fetchInFlight atomic.Bool

	snapshot atomic.Pointer[types.PriceSnapshot]

	subscribers *subscriberRegistry

	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// New constructs a Tape bound to transport for network. Call Start to begin
// polling.
func New(transport upstream.InfoTransport, table *precision.Table, assetIds *AssetIdMap, network types.Network, pollInterval time.Duration, logger *slog.Logger) *Tape {
	t := &Tape{
		transport:    transport,
		network:      network,
		table:        table,
		assetIds:     assetIds,
		pollInterval: pollInterval,
		subscribers:  newSubscriberRegistry(),
		logger:       logger.With("component", "price-tape"),
	}
	t.snapshot.Store(&types.PriceSnapshot{Prices: map[types.Symbol]types.PricePoint{}, Network: network})
	return t
}

// Start begins the poll loop in a background goroutine. It performs one
// synchronous poll before returning, so callers can rely on a populated
// snapshot immediately after Start returns (best-effort: a failed first
// poll still returns, logged, and the loop keeps retrying).
func (t *Tape) Start(ctx context.Context) {
	if err := t.poll(ctx); err != nil {
		t.logger.Warn("initial poll failed", "error", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.runLoop(loopCtx)
}

// Stop halts the poll loop and waits for it to exit.
func (t *Tape) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

func (t *Tape) runLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.poll(ctx); err != nil {
				t.logger.Warn("poll failed", "error", err)
			}
		}
	}
}

// Snapshot returns the current price snapshot.
func (t *Tape) Snapshot() types.PriceSnapshot {
	return *t.snapshot.Load()
}

// Mid is a convenience accessor over the current snapshot.
func (t *Tape) Mid(symbol types.Symbol) (decimal.Decimal, bool) {
	return t.Snapshot().Mid(symbol)
}

// LookupAssetId resolves symbol's upstream asset id, running one synchronous
// poll on a cache miss before failing closed. If a poll is already in flight
// that poll is skipped and the lookup is retried against the cache as it is.
func (t *Tape) LookupAssetId(ctx context.Context, symbol types.Symbol) (int, error) {
	id, err := t.assetIds.Lookup(symbol)
	if err == nil {
		return id, nil
	}

	if pollErr := t.poll(ctx); pollErr != nil {
		t.logger.Warn("refresh-on-miss poll failed", "symbol", symbol, "error", pollErr)
		return 0, err
	}
	return t.assetIds.Lookup(symbol)
}

// AssetIdSnapshot returns the current symbol→id cache and its last refresh
// time, for the asset-ids status endpoint.
func (t *Tape) AssetIdSnapshot() (map[types.Symbol]int, time.Time) {
	return t.assetIds.Snapshot()
}

// poll performs one fetch-build-broadcast cycle. fetchInFlight prevents a
// slow poll from overlapping with the next tick.
func (t *Tape) poll(ctx context.Context) error {
	if !t.fetchInFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer t.fetchInFlight.Store(false)

	t.swapMu.Lock()
	transport := t.transport
	network := t.network
	t.swapMu.Unlock()

	var (
		wg       sync.WaitGroup
		mids     map[string]string
		meta     upstream.MetaResponse
		midsErr  error
		metaErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		mids, midsErr = transport.AllMids(ctx)
	}()
	go func() {
		defer wg.Done()
		meta, metaErr = transport.Meta(ctx)
	}()
	wg.Wait()

	if midsErr != nil {
		return fmt.Errorf("fetch allMids: %w", midsErr)
	}
	if metaErr != nil {
		return fmt.Errorf("fetch meta: %w", metaErr)
	}

	now := time.Now()
	prices := make(map[types.Symbol]types.PricePoint, len(meta.Universe))
	for _, asset := range meta.Universe {
		if asset.IsDelisted {
			continue
		}
		sym := types.Symbol(asset.Name).Canonical()

		t.table.SetPrecision(sym, types.PrecisionSpec{
			Symbol:     sym,
			SzDecimals: asset.SzDecimals,
			PxDecimals: asset.PxDecimals,
			IsPerp:     true,
		})

		raw, ok := mids[asset.Name]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		prices[sym] = types.PricePoint{Price: price, Timestamp: now.UnixMilli()}
	}

	t.snapshot.Store(&types.PriceSnapshot{Prices: prices, Network: network, Timestamp: now})
	t.assetIds.Refresh(meta)
	t.broadcast(prices, network, now)
	return nil
}

type priceUpdateEvent struct {
	Type      string                     `json:"type"`
	Prices    map[string]pricePointWire  `json:"prices"`
	Network   types.Network              `json:"network"`
	Timestamp int64                      `json:"timestamp"`
}

type pricePointWire struct {
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

func (t *Tape) broadcast(prices map[types.Symbol]types.PricePoint, network types.Network, at time.Time) {
	if t.subscribers.count() == 0 {
		return
	}
	data, err := marshalPriceUpdateEvent(prices, network, at)
	if err != nil {
		t.logger.Error("failed to marshal price update event", "error", err)
		return
	}
	t.subscribers.broadcast(data)
}

func marshalPriceUpdateEvent(prices map[types.Symbol]types.PricePoint, network types.Network, at time.Time) ([]byte, error) {
	wire := make(map[string]pricePointWire, len(prices))
	for sym, pt := range prices {
		wire[string(sym)] = pricePointWire{Price: pt.Price.String(), Timestamp: pt.Timestamp}
	}
	return json.Marshal(priceUpdateEvent{
		Type:      "priceUpdate",
		Prices:    wire,
		Network:   network,
		Timestamp: at.UnixMilli(),
	})
}

// SwitchNetwork swaps in a new transport/network, clears the snapshot, and
// performs one synchronous poll before returning. The poll loop is not
// paused: a poll already in flight when the switch happens can still publish
// a snapshot fetched from the old transport, and in that case the synchronous
// poll is skipped and SwitchNetwork returns nil without fetching from the new
// transport.
func (t *Tape) SwitchNetwork(ctx context.Context, transport upstream.InfoTransport, network types.Network) error {
	t.swapMu.Lock()
	t.transport = transport
	t.network = network
	t.swapMu.Unlock()

	t.snapshot.Store(&types.PriceSnapshot{Prices: map[types.Symbol]types.PricePoint{}, Network: network})

	return t.poll(ctx)
}
