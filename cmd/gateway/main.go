// Perp Gateway — a thin HTTP facade over a perpetual-futures exchange: a
// live mid-price tape, a pure liquidation-math engine, a validating order
// pipeline, and a TWAP sub-order scheduler.
//
// Architecture:
//
//	main.go                    — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	internal/config            — YAML + environment configuration
//	internal/precision         — per-symbol size/price precision and margin-tier tables (component A)
//	internal/liquidation       — pure fixed-point liquidation price solver (component B)
//	internal/pricetape         — poll loop + SSE fan-out of mid prices, asset-id warm cache (component C)
//	internal/orderpipeline     — order validation, price synthesis, deviation checks (component D)
//	internal/twap              — deterministic TWAP sub-order scheduler (component E)
//	internal/gateway           — HTTP route table, the Gateway Facade (component F)
//	internal/upstream          — signed REST transport to the exchange
//	internal/signer            — EIP-712 action signing
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"perp-gateway/internal/config"
	"perp-gateway/internal/gateway"
	"perp-gateway/internal/orderpipeline"
	"perp-gateway/internal/precision"
	"perp-gateway/internal/pricetape"
	"perp-gateway/internal/signer"
	"perp-gateway/internal/twap"
	"perp-gateway/internal/upstream"
	"perp-gateway/pkg/types"

	"github.com/ethereum/go-ethereum/common"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("GATEWAY_CONFIG"); p != "" {
		cfgPath = p
	}
	if _, err := os.Stat(cfgPath); err != nil {
		cfgPath = ""
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	s, err := signer.New(cfg.Signer.PrivateKey)
	if err != nil {
		logger.Error("failed to build signer", "error", err)
		os.Exit(1)
	}

	var vaultAddress *common.Address
	if cfg.Signer.VaultAddress != "" {
		addr := common.HexToAddress(cfg.Signer.VaultAddress)
		vaultAddress = &addr
	}

	network := types.Network(cfg.Network)
	transport := upstream.NewHTTPTransport(transportConfig(cfg, network, vaultAddress), s, logger)

	table := precision.NewTable()
	assetIds := pricetape.NewAssetIdMap(cfg.Upstream.AssetIdTTL, cfg.Upstream.WarmCacheFile, logger)
	if err := assetIds.LoadWarmCache(); err != nil {
		logger.Warn("failed to load asset-id warm cache", "error", err)
	}

	tape := pricetape.New(transport, table, assetIds, network, cfg.Upstream.PollInterval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tape.Start(ctx)

	pipeline := orderpipeline.New(transport, table, tape)
	scheduler := twap.New(pipeline, table, tape, twap.Bounds{
		MinIntervals:       cfg.TwapCfg.MinIntervals,
		MaxIntervals:       cfg.TwapCfg.MaxIntervals,
		MinDurationMinutes: cfg.TwapCfg.MinDurationMinutes,
		MaxDurationMinutes: cfg.TwapCfg.MaxDurationMinutes,
	}, logger)

	switchNetwork := func(ctx context.Context, network types.Network) error {
		newTransport := upstream.NewHTTPTransport(transportConfig(cfg, network, vaultAddress), s, logger)
		return tape.SwitchNetwork(ctx, newTransport, network)
	}

	handlers := gateway.NewHandlers(tape, transport, transport, pipeline, scheduler, table, network, switchNetwork, logger)
	server := gateway.NewServer(cfg.Listen.Addr, handlers, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("gateway server failed", "error", err)
		}
	}()

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("perp gateway started",
		"addr", cfg.Listen.Addr,
		"network", network,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if err := server.Stop(); err != nil {
		logger.Error("failed to stop gateway server", "error", err)
	}
	tape.Stop()
}

func transportConfig(cfg *config.Config, network types.Network, vaultAddress *common.Address) upstream.Config {
	baseURL := cfg.Upstream.MainnetBaseURL
	if network == types.Testnet {
		baseURL = cfg.Upstream.TestnetBaseURL
	}
	return upstream.Config{
		BaseURL:      baseURL,
		Timeout:      cfg.Upstream.Timeout,
		DryRun:       cfg.DryRun,
		IsMainnet:    network == types.Mainnet,
		VaultAddress: vaultAddress,
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
