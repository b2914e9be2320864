package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"creditScope/internal/chain"
	"creditScope/internal/config"
	"creditScope/internal/model"
	"creditScope/internal/score"
	"creditScope/internal/storage/postgres"
)

type scoreOutput struct {
	User          string `json:"user"`
	Protocol      string `json:"protocol,omitempty"`
	Score         uint64 `json:"score"`
	Tier          string `json:"tier"`
	CurrentHeight uint64 `json:"current_height"`
}

func runScore(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadScore(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}
	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.User) {
		return fmt.Errorf("user address is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	height, err := chainClient.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}

	user := common.HexToAddress(cfg.User).Hex()
	var inputs score.Inputs
	out := scoreOutput{User: user, CurrentHeight: height}

	if cfg.Protocol != "" {
		protocol, err := model.ParseProtocol(cfg.Protocol)
		if err != nil {
			return err
		}
		record, ok, err := store.GetRecord(ctx, user, protocol)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no activity for %s on %s", user, protocol.String())
		}
		inputs = score.FromRecord(record, height)
		out.Protocol = protocol.String()
	} else {
		record, ok, err := store.GetAggregate(ctx, user)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no activity for %s", user)
		}
		inputs = score.FromAggregate(record, height)
	}

	value, tier := score.Compute(inputs)
	out.Score = value
	out.Tier = tier.String()

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadMigrate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	logger.Info("schema applied")
	return nil
}
