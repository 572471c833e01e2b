package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"

	"perp-gateway/internal/gatewayerr"
	"perp-gateway/internal/signer"
)

// Config parameterizes the HTTP transport.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	DryRun        bool
	IsMainnet     bool
	VaultAddress  *common.Address
}

// HTTPTransport is a resty-based ExchangeTransport + InfoTransport
// implementation, grounded in the pack's retry/timeout/dry-run client
// scaffolding. A single instance implements both interfaces, matching the
// teacher's one-client-many-endpoints shape.
type HTTPTransport struct {
	http   *resty.Client
	signer signer.Signer
	rl     *RateLimiter
	cfg    Config
	logger *slog.Logger
	nonce  func() int64
}

// NewHTTPTransport builds a transport bound to cfg.BaseURL, signing actions
// with s.
func NewHTTPTransport(cfg Config, s signer.Signer, logger *slog.Logger) *HTTPTransport {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &HTTPTransport{
		http:   client,
		signer: s,
		rl:     NewRateLimiter(),
		cfg:    cfg,
		logger: logger,
		nonce:  func() int64 { return time.Now().UnixMilli() },
	}
}

func (t *HTTPTransport) infoRequest(ctx context.Context, body map[string]any, out any) error {
	if err := t.rl.Info.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		Post("/info")
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindUpstream, "info request failed", err)
	}
	if resp.IsError() {
		return classifyExchangeError(resp.String())
	}
	return nil
}

// Meta fetches the upstream asset universe.
func (t *HTTPTransport) Meta(ctx context.Context) (MetaResponse, error) {
	var out MetaResponse
	if err := t.infoRequest(ctx, map[string]any{"type": "meta"}, &out); err != nil {
		return MetaResponse{}, err
	}
	return out, nil
}

// AllMids fetches the current mid price for every symbol.
func (t *HTTPTransport) AllMids(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := t.infoRequest(ctx, map[string]any{"type": "allMids"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClearinghouseState fetches perpetuals account state for user.
func (t *HTTPTransport) ClearinghouseState(ctx context.Context, user string) (json.RawMessage, error) {
	var out json.RawMessage
	err := t.infoRequest(ctx, map[string]any{"type": "clearinghouseState", "user": user}, &out)
	return out, err
}

// SpotClearinghouseState fetches spot account state for user.
func (t *HTTPTransport) SpotClearinghouseState(ctx context.Context, user string) (json.RawMessage, error) {
	var out json.RawMessage
	err := t.infoRequest(ctx, map[string]any{"type": "spotClearinghouseState", "user": user}, &out)
	return out, err
}

// OpenOrders fetches resting open orders for user.
func (t *HTTPTransport) OpenOrders(ctx context.Context, user string) (json.RawMessage, error) {
	var out json.RawMessage
	err := t.infoRequest(ctx, map[string]any{"type": "openOrders", "user": user}, &out)
	return out, err
}

// signedExchangeRequest signs action and posts the envelope to /exchange.
func (t *HTTPTransport) signedExchangeRequest(ctx context.Context, bucket *TokenBucket, action map[string]any, out any) error {
	if t.cfg.DryRun {
		t.logger.Info("dry run: suppressing exchange request", "action", action["type"])
		return nil
	}
	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	n := t.nonce()
	sig, err := t.signer.SignAction(action, n, t.cfg.VaultAddress, t.cfg.IsMainnet)
	if err != nil {
		return fmt.Errorf("sign action: %w", err)
	}

	envelope := map[string]any{
		"action":    action,
		"nonce":     n,
		"signature": sig,
	}
	if t.cfg.VaultAddress != nil {
		envelope["vaultAddress"] = t.cfg.VaultAddress.Hex()
	}

	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(envelope).
		SetResult(out).
		Post("/exchange")
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindUpstream, "exchange request failed", err)
	}
	if resp.IsError() || resp.StatusCode() != http.StatusOK {
		return classifyExchangeError(resp.String())
	}
	return nil
}

// classifyExchangeError maps a raw upstream error body to the gateway's
// error taxonomy: PriceDeviation, InvalidPrice, OrderTooLarge,
// InsufficientBalance when a known substring matches, otherwise a generic
// Upstream error carrying the passthrough text.
func classifyExchangeError(raw string) *gatewayerr.Error {
	if kind, mapped, ok := ClassifyMessage(raw); ok {
		return gatewayerr.New(kind, mapped).WithField("originalMessage", raw)
	}
	return gatewayerr.Upstream(raw, "")
}

// Order signs and submits an order batch.
func (t *HTTPTransport) Order(ctx context.Context, req OrderRequest) (OrderResult, error) {
	action := map[string]any{
		"type":     "order",
		"orders":   req.Orders,
		"grouping": req.Grouping,
	}
	var out struct {
		Statuses []OrderStatus `json:"statuses"`
	}
	if err := t.signedExchangeRequest(ctx, t.rl.Order, action, &out); err != nil {
		return OrderResult{}, err
	}
	return OrderResult{Statuses: out.Statuses}, nil
}

// Cancel signs and submits a cancel batch.
func (t *HTTPTransport) Cancel(ctx context.Context, req CancelRequest) (CancelResult, error) {
	action := map[string]any{
		"type":    "cancel",
		"cancels": req.Cancels,
	}
	var out json.RawMessage
	if err := t.signedExchangeRequest(ctx, t.rl.Cancel, action, &out); err != nil {
		return CancelResult{}, err
	}
	return CancelResult{Raw: out}, nil
}

// UpdateLeverage changes leverage/leverage-mode for coin.
func (t *HTTPTransport) UpdateLeverage(ctx context.Context, coin string, leverage int, leverageMode string) (json.RawMessage, error) {
	action := map[string]any{
		"type":         "updateLeverage",
		"coin":         coin,
		"leverage":     leverage,
		"leverageMode": leverageMode,
	}
	var out json.RawMessage
	err := t.signedExchangeRequest(ctx, t.rl.Cancel, action, &out)
	return out, err
}

// UpdateIsolatedMargin adds/removes isolated margin for asset.
func (t *HTTPTransport) UpdateIsolatedMargin(ctx context.Context, asset int, isBuy bool, ntli string) (json.RawMessage, error) {
	action := map[string]any{
		"type":  "updateIsolatedMargin",
		"asset": asset,
		"isBuy": isBuy,
		"ntli":  ntli,
	}
	var out json.RawMessage
	err := t.signedExchangeRequest(ctx, t.rl.Cancel, action, &out)
	return out, err
}
