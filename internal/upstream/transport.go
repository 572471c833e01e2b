// Package upstream defines the abstract upstream-exchange capabilities the
// gateway consumes (ExchangeTransport, InfoTransport per the external
// interface) and a concrete resty-based HTTP implementation exercising a
// Hyperliquid-convention wire format. Raw protocol correctness is an
// explicit non-goal; this implementation exists to give the abstract
// capability a working, testable home.
package upstream

import (
	"context"
	"encoding/json"

	"perp-gateway/pkg/types"
)

// MetaAsset is one entry of the upstream meta asset universe.
type MetaAsset struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	PxDecimals  int    `json:"pxDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
	IsDelisted  bool   `json:"isDelisted"`
}

// MetaResponse is the upstream's asset universe, index-ordered: an asset's
// position in Universe is its asset id.
type MetaResponse struct {
	Universe []MetaAsset `json:"universe"`
}

// OrderWire is the serialized order shape the upstream expects:
// {a: assetId, b: isBuy, p: price, r: reduceOnly, s: size, t: orderType}.
type OrderWire struct {
	A int    `json:"a"`
	B bool   `json:"b"`
	P string `json:"p"`
	R bool   `json:"r"`
	S string `json:"s"`
	T any    `json:"t"`
}

// WireLimit and WireTrigger are the two shapes an OrderWire.T can take.
// Trigger's top-level fields must stay empty when used; this mirrors a wire
// invariant observed in the pack's Hyperliquid reference client.
type WireLimit struct {
	Tif string `json:"tif"`
}

type WireTrigger struct {
	TriggerPx string `json:"triggerPx"`
	IsMarket  bool   `json:"isMarket"`
	Tpsl      string `json:"tpsl"`
}

// OrderRequest is a batch of wire orders plus the upstream grouping tag.
type OrderRequest struct {
	Orders   []OrderWire
	Grouping types.Grouping
}

// OrderStatus is one order's placement outcome.
type OrderStatus struct {
	OrderID int64  `json:"oid,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// OrderResult is the upstream's response to an order batch.
type OrderResult struct {
	Statuses []OrderStatus
	Raw      json.RawMessage
}

// CancelWire identifies one cancel by asset id and order id.
type CancelWire struct {
	A int   `json:"a"`
	O int64 `json:"o"`
}

// CancelRequest is a batch of cancels.
type CancelRequest struct {
	Cancels []CancelWire
}

// CancelResult is the upstream's response to a cancel batch.
type CancelResult struct {
	Raw json.RawMessage
}

// ExchangeTransport is the abstract order/leverage/margin-mutating capability
// consumed by the Order Pipeline and TWAP Scheduler.
type ExchangeTransport interface {
	Order(ctx context.Context, req OrderRequest) (OrderResult, error)
	Cancel(ctx context.Context, req CancelRequest) (CancelResult, error)
	UpdateLeverage(ctx context.Context, coin string, leverage int, leverageMode string) (json.RawMessage, error)
	UpdateIsolatedMargin(ctx context.Context, asset int, isBuy bool, ntli string) (json.RawMessage, error)
}

// InfoTransport is the abstract read-only capability consumed by the Price
// Tape and the Gateway's passthrough endpoints.
type InfoTransport interface {
	Meta(ctx context.Context) (MetaResponse, error)
	AllMids(ctx context.Context) (map[string]string, error)
	ClearinghouseState(ctx context.Context, user string) (json.RawMessage, error)
	SpotClearinghouseState(ctx context.Context, user string) (json.RawMessage, error)
	OpenOrders(ctx context.Context, user string) (json.RawMessage, error)
}
