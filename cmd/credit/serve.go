package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"creditScope/internal/api"
	"creditScope/internal/chain"
	"creditScope/internal/claims"
	"creditScope/internal/config"
	"creditScope/internal/ledger"
	"creditScope/internal/price"
	"creditScope/internal/registry"
	"creditScope/internal/storage"
	"creditScope/internal/storage/postgres"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Attestor) {
		return fmt.Errorf("attestor address is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if cfg.HasChainConfig() && !cfg.UsesChain(chainID.Uint64()) {
		logger.Warn("rpc chain id matches no configured chain",
			zap.Uint64("chain_id", chainID.Uint64()),
		)
	}

	reg, err := registry.NewStaticFromEntries(cfg.Bindings)
	if err != nil {
		return err
	}
	if cfg.Aave != nil {
		if err := loadAaveBindings(ctx, chainClient, reg, cfg.Aave, logger); err != nil {
			return err
		}
	}

	stables, err := parseStables(cfg.Stables)
	if err != nil {
		return err
	}

	normalizer, oracleAddr, err := buildNormalizer(chainClient, cfg)
	if err != nil {
		return err
	}

	var store ledger.Store
	var pgStore *postgres.Store
	if cfg.PGDSN != "" {
		pgStore, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		logger.Warn("no pg-dsn configured, ledger state is in-memory only")
		store = ledger.NewMemoryStore()
	}

	ledgerSvc := ledger.New(ledger.Config{Stables: stables}, store, reg, normalizer, logger)
	verifier := claims.NewSealVerifier(common.HexToAddress(cfg.Attestor))
	dispatcher := claims.NewDispatcher(ledgerSvc, verifier, logger)

	var events storage.EventSink
	if cfg.EventsOut != "" {
		events = storage.NewJsonlSink(cfg.EventsOut)
	}

	newNorm := func(oracle common.Address) (price.Normalizer, error) {
		return price.NewOracle(chainClient, oracle)
	}

	server := api.NewServer(
		api.Config{AdminToken: cfg.AdminToken},
		dispatcher, ledgerSvc, chainClient, newNorm, events, nil, logger,
	)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("serve start",
		zap.String("listen", cfg.Listen),
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", chainID.Uint64()),
		zap.String("attestor", common.HexToAddress(cfg.Attestor).Hex()),
		zap.String("oracle", oracleAddr),
		zap.Bool("postgres", pgStore != nil),
		zap.Int("bindings", len(cfg.Bindings)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func loadAaveBindings(ctx context.Context, chainClient *chain.Client, reg *registry.Static, loader *config.AaveLoader, logger *zap.Logger) error {
	if !common.IsHexAddress(loader.DataProvider) {
		return fmt.Errorf("invalid aave data provider address: %s", loader.DataProvider)
	}
	underlyings := make([]common.Address, 0, len(loader.Underlyings))
	for _, raw := range loader.Underlyings {
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("invalid aave underlying address: %s", raw)
		}
		underlyings = append(underlyings, common.HexToAddress(raw))
	}
	return registry.LoadAaveBindings(ctx, chainClient, reg, loader.ChainID, common.HexToAddress(loader.DataProvider), underlyings, logger)
}

func parseStables(sets []config.StableSet) (map[uint64][]common.Address, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	stables := make(map[uint64][]common.Address, len(sets))
	for _, set := range sets {
		for _, raw := range set.Assets {
			if !common.IsHexAddress(raw) {
				return nil, fmt.Errorf("invalid stable asset address: %s", raw)
			}
			stables[set.ChainID] = append(stables[set.ChainID], common.HexToAddress(raw))
		}
	}
	return stables, nil
}

func buildNormalizer(chainClient *chain.Client, cfg config.ServeConfig) (price.Normalizer, string, error) {
	if cfg.Oracle != "" {
		if !common.IsHexAddress(cfg.Oracle) {
			return nil, "", fmt.Errorf("invalid oracle address: %s", cfg.Oracle)
		}
		oracle, err := price.NewOracle(chainClient, common.HexToAddress(cfg.Oracle))
		if err != nil {
			return nil, "", err
		}
		return oracle, oracle.Address().Hex(), nil
	}
	if len(cfg.AssetPrices) > 0 {
		static, err := price.NewStatic(8, cfg.AssetPrices)
		if err != nil {
			return nil, "", err
		}
		return static, "static", nil
	}
	// Stables-only deployments run without a normalizer; any non-stable
	// observation fails with a configuration error.
	return nil, "none", nil
}
