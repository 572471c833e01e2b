package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"perp-gateway/internal/gatewayerr"
	"perp-gateway/internal/orderpipeline"
	"perp-gateway/internal/precision"
	"perp-gateway/internal/pricetape"
	"perp-gateway/internal/twap"
	"perp-gateway/internal/upstream"
	"perp-gateway/pkg/types"
)

// NetworkSwitcher performs the full mainnet/testnet cutover: swapping the
// upstream transport and clearing the Price Tape's snapshot (the tape's poll
// loop keeps running; see pricetape.Tape.SwitchNetwork). Owned by
// cmd/gateway's wiring, not by Handlers.
type NetworkSwitcher func(ctx context.Context, network types.Network) error

// Handlers holds every dependency the route table needs. Each method is a
// thin adapter: decode request, call a component, encode response.
type Handlers struct {
	tape      *pricetape.Tape
	info      upstream.InfoTransport
	exchange  upstream.ExchangeTransport
	pipeline  *orderpipeline.Pipeline
	scheduler *twap.Scheduler
	table     *precision.Table
	switchNet NetworkSwitcher

	currentNetwork atomic.Value // types.Network
	startedAt      time.Time
	logger         *slog.Logger
}

// NewHandlers builds a Handlers instance.
func NewHandlers(
	tape *pricetape.Tape,
	info upstream.InfoTransport,
	exchange upstream.ExchangeTransport,
	pipeline *orderpipeline.Pipeline,
	scheduler *twap.Scheduler,
	table *precision.Table,
	initialNetwork types.Network,
	switchNet NetworkSwitcher,
	logger *slog.Logger,
) *Handlers {
	h := &Handlers{
		tape:      tape,
		info:      info,
		exchange:  exchange,
		pipeline:  pipeline,
		scheduler: scheduler,
		table:     table,
		switchNet: switchNet,
		startedAt: time.Now(),
		logger:    logger.With("component", "gateway-handlers"),
	}
	h.currentNetwork.Store(initialNetwork)
	return h
}

func (h *Handlers) network() types.Network {
	return h.currentNetwork.Load().(types.Network)
}

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the uniform shape of an error response.
type errorBody struct {
	Error struct {
		Kind    string         `json:"kind"`
		Message string         `json:"message"`
		Fields  map[string]any `json:"fields,omitempty"`
	} `json:"error"`
}

// writeError maps a gatewayerr.Error to its HTTP status and encodes it;
// any other error is surfaced as a generic 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	gwErr, ok := err.(*gatewayerr.Error)
	if !ok {
		logger.Error("unmapped internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	body := errorBody{}
	body.Error.Kind = string(gwErr.Kind)
	body.Error.Message = gwErr.Message
	body.Error.Fields = gwErr.Fields
	writeJSON(w, statusForKind(gwErr.Kind), body)
}

func statusForKind(kind gatewayerr.Kind) int {
	switch kind {
	case gatewayerr.KindNotInitialized:
		return http.StatusServiceUnavailable
	case gatewayerr.KindTwapNotFound:
		return http.StatusNotFound
	case gatewayerr.KindTwapNotActive:
		return http.StatusConflict
	case gatewayerr.KindPriceDeviation, gatewayerr.KindOrderTooLarge, gatewayerr.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case gatewayerr.KindTwapFirstFailed, gatewayerr.KindUpstream:
		return http.StatusBadGateway
	case gatewayerr.KindValidation, gatewayerr.KindPrecision, gatewayerr.KindInvalidPrice,
		gatewayerr.KindAssetIdNotFound, gatewayerr.KindTwapSizeTooSmall,
		gatewayerr.KindTwapDuration, gatewayerr.KindTwapIntervals:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Health reports liveness, the active network, and initialization state.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"network":     h.network(),
		"initialized": true,
		"timestamp":   time.Now().UnixMilli(),
	})
}

// Meta passes through the upstream asset universe.
func (h *Handlers) Meta(w http.ResponseWriter, r *http.Request) {
	meta, err := h.info.Meta(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// Prices returns the current Price Tape snapshot.
func (h *Handlers) Prices(w http.ResponseWriter, r *http.Request) {
	snap := h.tape.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"prices":    pricesWire(snap),
		"network":   snap.Network,
		"timestamp": snap.Timestamp.UnixMilli(),
	})
}

func pricesWire(snap types.PriceSnapshot) map[string]map[string]any {
	out := make(map[string]map[string]any, len(snap.Prices))
	for sym, pt := range snap.Prices {
		out[string(sym)] = map[string]any{"price": pt.Price.String(), "timestamp": pt.Timestamp}
	}
	return out
}

// PriceStream upgrades the connection to a one-way SSE stream.
func (h *Handlers) PriceStream(w http.ResponseWriter, r *http.Request) {
	_ = h.tape.ServeSSE(w, r)
}

// MarketData returns prices enriched with each symbol's precision metadata.
func (h *Handlers) MarketData(w http.ResponseWriter, r *http.Request) {
	snap := h.tape.Snapshot()
	out := make(map[string]any, len(snap.Prices))
	for sym, pt := range snap.Prices {
		spec := h.table.GetPrecision(sym)
		out[string(sym)] = map[string]any{
			"price":      pt.Price.String(),
			"szDecimals": spec.SzDecimals,
			"pxDecimals": spec.PxDecimals,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": out})
}

// AssetIds returns the current symbol→id cache plus refresh metadata.
func (h *Handlers) AssetIds(w http.ResponseWriter, r *http.Request) {
	ids, refreshedAt := h.tape.AssetIdSnapshot()
	out := make(map[string]int, len(ids))
	for sym, id := range ids {
		out[string(sym)] = id
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ids":         out,
		"refreshedAt": refreshedAt.UnixMilli(),
	})
}

// ClearinghouseState passes through upstream account state for ?address=.
func (h *Handlers) ClearinghouseState(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, h.logger, gatewayerr.Validation("address", "address query parameter is required"))
		return
	}
	state, err := h.info.ClearinghouseState(r.Context(), address)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// WalletBalance passes through upstream clearinghouse state as the balance
// response. Field-level parsing of the upstream balance breakdown is not
// attempted here: raw protocol shape is an explicit non-goal.
func (h *Handlers) WalletBalance(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, h.logger, gatewayerr.Validation("address", "address query parameter is required"))
		return
	}
	state, err := h.info.ClearinghouseState(r.Context(), address)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// orderDTO is the wire shape accepted by PlaceOrder.
type orderDTO struct {
	Symbol     string       `json:"symbol"`
	Side       string       `json:"side"`
	Size       string       `json:"size"`
	Price      *string      `json:"price,omitempty"`
	ReduceOnly bool         `json:"reduceOnly"`
	OrderType  orderTypeDTO `json:"orderType"`
}

type orderTypeDTO struct {
	Type      string `json:"type"` // "limit" or "trigger"
	Tif       string `json:"tif,omitempty"`
	TriggerPx string `json:"triggerPx,omitempty"`
	IsMarket  bool   `json:"isMarket,omitempty"`
	Tpsl      string `json:"tpsl,omitempty"`
}

func (dto orderDTO) toOrder() (types.Order, error) {
	size, err := decimal.NewFromString(dto.Size)
	if err != nil {
		return types.Order{}, gatewayerr.Validation("size", "size must be a decimal string")
	}

	var price *decimal.Decimal
	if dto.Price != nil && *dto.Price != "" {
		p, err := decimal.NewFromString(*dto.Price)
		if err != nil {
			return types.Order{}, gatewayerr.Validation("price", "price must be a decimal string")
		}
		price = &p
	}

	var orderType types.OrderType
	switch strings.ToLower(dto.OrderType.Type) {
	case "trigger":
		triggerPx, err := decimal.NewFromString(dto.OrderType.TriggerPx)
		if err != nil {
			return types.Order{}, gatewayerr.Validation("orderType.triggerPx", "triggerPx must be a decimal string")
		}
		orderType = types.NewTriggerOrderType(triggerPx, dto.OrderType.IsMarket, types.TpslKind(dto.OrderType.Tpsl))
	default:
		tif := types.Gtc
		if dto.OrderType.Tif != "" {
			tif = types.TimeInForce(dto.OrderType.Tif)
		}
		orderType = types.NewLimitOrderType(tif)
	}

	return types.Order{
		Symbol:     types.Symbol(dto.Symbol),
		Side:       types.Side(strings.ToLower(dto.Side)),
		Size:       size,
		Price:      price,
		ReduceOnly: dto.ReduceOnly,
		OrderType:  orderType,
	}, nil
}

// PlaceOrder accepts either a single order object or an array of orders.
func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	body, err := decodeOrderDTOs(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	orders := make([]types.Order, 0, len(body))
	for _, dto := range body {
		order, err := dto.toOrder()
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		orders = append(orders, order)
	}

	result, err := h.pipeline.Submit(r.Context(), types.NewOrderBatch(orders))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func decodeOrderDTOs(r *http.Request) ([]orderDTO, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, gatewayerr.Validation("body", "request body must be valid JSON")
	}

	var list []orderDTO
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var single orderDTO
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, gatewayerr.Validation("body", "body must be an order object or an array of orders")
	}
	return []orderDTO{single}, nil
}

// twapOrderDTO is the wire shape accepted by PlaceTwapOrder.
type twapOrderDTO struct {
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	TotalSize       string `json:"totalSize"`
	Intervals       int    `json:"intervals"`
	DurationMinutes int    `json:"durationMinutes"`
	ReduceOnly      bool   `json:"reduceOnly"`
}

// PlaceTwapOrder creates a TWAP task.
func (h *Handlers) PlaceTwapOrder(w http.ResponseWriter, r *http.Request) {
	var dto twapOrderDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, h.logger, gatewayerr.Validation("body", "request body must be valid JSON"))
		return
	}

	totalSize, err := decimal.NewFromString(dto.TotalSize)
	if err != nil {
		writeError(w, h.logger, gatewayerr.Validation("totalSize", "totalSize must be a decimal string"))
		return
	}

	task, err := h.scheduler.Create(r.Context(), twap.CreateParams{
		Symbol:          types.Symbol(dto.Symbol),
		Side:            types.Side(strings.ToLower(dto.Side)),
		TotalSize:       totalSize,
		Intervals:       dto.Intervals,
		DurationMinutes: dto.DurationMinutes,
		ReduceOnly:      dto.ReduceOnly,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"taskId":  task.ID,
		"message": "twap task created",
		"task":    task,
	})
}

func pathTailInt(path, prefix string) (int64, error) {
	tail := strings.TrimPrefix(path, prefix)
	tail = strings.Trim(tail, "/")
	return strconv.ParseInt(tail, 10, 64)
}

// TwapTask returns one task's current snapshot.
func (h *Handlers) TwapTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathTailInt(r.URL.Path, "/api/twap-task/")
	if err != nil {
		writeError(w, h.logger, gatewayerr.Validation("id", "task id must be an integer"))
		return
	}
	task, err := h.scheduler.Get(id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

// TwapTasks lists every task with status counters.
func (h *Handlers) TwapTasks(w http.ResponseWriter, r *http.Request) {
	list := h.scheduler.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":          list.Tasks,
		"totalTasks":     len(list.Tasks),
		"activeTasks":    list.ActiveCount,
		"completedTasks": list.CompletedCount,
		"failedTasks":    list.FailedCount,
		"cancelledTasks": list.CancelledCount,
	})
}

// CancelTwapTask cancels an active task.
func (h *Handlers) CancelTwapTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathTailInt(r.URL.Path, "/api/cancel-twap-task/")
	if err != nil {
		writeError(w, h.logger, gatewayerr.Validation("id", "task id must be an integer"))
		return
	}
	if err := h.scheduler.Cancel(id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "task cancelled", "taskId": id})
}

// LeverageStatus passes through upstream account state for an address.
// Structured per-position parsing of the upstream payload is out of scope
// (raw protocol shape is an explicit non-goal); positions is left for a
// richer InfoTransport implementation to populate.
func (h *Handlers) LeverageStatus(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimPrefix(r.URL.Path, "/api/leverage-status/")
	addr = strings.Trim(addr, "/")
	if addr == "" {
		writeError(w, h.logger, gatewayerr.Validation("address", "address path segment is required"))
		return
	}
	state, ferr := h.info.ClearinghouseState(r.Context(), addr)
	if ferr != nil {
		writeError(w, h.logger, ferr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   addr,
		"positions": []any{},
		"summary":   state,
	})
}

type updateLeverageDTO struct {
	Coin         string `json:"coin"`
	LeverageMode string `json:"leverageMode"`
	Leverage     int    `json:"leverage"`
}

// UpdateLeverage passes {coin, leverage, leverageMode} through to the
// exchange transport.
func (h *Handlers) UpdateLeverage(w http.ResponseWriter, r *http.Request) {
	var dto updateLeverageDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, h.logger, gatewayerr.Validation("body", "request body must be valid JSON"))
		return
	}
	result, err := h.exchange.UpdateLeverage(r.Context(), dto.Coin, dto.Leverage, dto.LeverageMode)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type updateMarginDTO struct {
	Coin  string `json:"coin"`
	IsBuy bool   `json:"isBuy"`
	Ntli  string `json:"ntli"`
}

// UpdateMargin resolves coin to an asset id, then updates isolated margin.
func (h *Handlers) UpdateMargin(w http.ResponseWriter, r *http.Request) {
	var dto updateMarginDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, h.logger, gatewayerr.Validation("body", "request body must be valid JSON"))
		return
	}
	assetId, err := h.tape.LookupAssetId(r.Context(), types.Symbol(dto.Coin))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	result, err := h.exchange.UpdateIsolatedMargin(r.Context(), assetId, dto.IsBuy, dto.Ntli)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type cancelOrdersDTO struct {
	Coin     string  `json:"coin"`
	OrderIds []int64 `json:"orderIds"`
}

// CancelOrders resolves coin to an asset id, then cancels the given orders.
func (h *Handlers) CancelOrders(w http.ResponseWriter, r *http.Request) {
	var dto cancelOrdersDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, h.logger, gatewayerr.Validation("body", "request body must be valid JSON"))
		return
	}
	assetId, err := h.tape.LookupAssetId(r.Context(), types.Symbol(dto.Coin))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	cancels := make([]upstream.CancelWire, 0, len(dto.OrderIds))
	for _, oid := range dto.OrderIds {
		cancels = append(cancels, upstream.CancelWire{A: assetId, O: oid})
	}
	result, err := h.exchange.Cancel(r.Context(), upstream.CancelRequest{Cancels: cancels})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type switchNetworkDTO struct {
	Network string `json:"network"`
}

// SwitchNetwork cuts the gateway over to mainnet or testnet.
func (h *Handlers) SwitchNetwork(w http.ResponseWriter, r *http.Request) {
	var dto switchNetworkDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, h.logger, gatewayerr.Validation("body", "request body must be valid JSON"))
		return
	}
	network := types.Network(dto.Network)
	if network != types.Mainnet && network != types.Testnet {
		writeError(w, h.logger, gatewayerr.Validation("network", fmt.Sprintf("network must be %q or %q", types.Mainnet, types.Testnet)))
		return
	}
	if err := h.switchNet(r.Context(), network); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.currentNetwork.Store(network)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "network": network})
}
