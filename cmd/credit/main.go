package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "credit",
		Short:        "DeFi activity ledger and credit scoring service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the claim ingestion and scoring service",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN (empty runs with in-memory state)")
	serveCmd.Flags().String("rpc", "", "chain RPC URL")
	serveCmd.Flags().String("oracle", "", "price oracle contract address")
	serveCmd.Flags().String("attestor", "", "trusted attestor address")
	serveCmd.Flags().String("admin-token", "", "token gating the admin surface")
	serveCmd.Flags().String("events-out", "", "optional JSONL path for emitted ledger events")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Compute a user's credit score from stored activity",
		RunE:  runScore,
	}

	scoreCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	scoreCmd.Flags().String("rpc", "", "chain RPC URL")
	scoreCmd.Flags().String("user", "", "user address")
	scoreCmd.Flags().String("protocol", "", "protocol name (empty scores the cross-protocol aggregate)")
	scoreCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(scoreCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
