package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"creditScope/internal/price"
	"creditScope/internal/registry"
)

// StableSet names the reference stable assets for one chain. Deltas in these
// assets skip price normalization.
type StableSet struct {
	ChainID uint64   `mapstructure:"chain_id"`
	Assets  []string `mapstructure:"assets"`
}

// AaveLoader configures optional startup loading of Aave token bindings from
// the protocol data provider contract.
type AaveLoader struct {
	ChainID      uint64   `mapstructure:"chain_id"`
	DataProvider string   `mapstructure:"data_provider"`
	Underlyings  []string `mapstructure:"underlyings"`
}

// ServeConfig holds configuration for the serve command.
type ServeConfig struct {
	Listen     string
	PGDSN      string
	RPCURL     string
	Oracle     string
	Attestor   string
	AdminToken string
	EventsOut  string
	LogLevel   string

	Bindings    []registry.Entry
	Stables     []StableSet
	AssetPrices []price.AssetPrice
	Aave        *AaveLoader
}

// LoadServe merges config file, environment variables, and flags into
// ServeConfig. Structured sections (bindings, stables, prices, aave) come
// from the config file only.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"listen":    ":8080",
		"log-level": "info",
	})
	if err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		Listen:     v.GetString("listen"),
		PGDSN:      v.GetString("pg-dsn"),
		RPCURL:     v.GetString("rpc"),
		Oracle:     v.GetString("oracle"),
		Attestor:   v.GetString("attestor"),
		AdminToken: v.GetString("admin-token"),
		EventsOut:  v.GetString("events-out"),
		LogLevel:   v.GetString("log-level"),
	}

	if v.IsSet("bindings") {
		if err := v.UnmarshalKey("bindings", &cfg.Bindings); err != nil {
			return ServeConfig{}, fmt.Errorf("decode bindings: %w", err)
		}
	}
	if v.IsSet("stables") {
		if err := v.UnmarshalKey("stables", &cfg.Stables); err != nil {
			return ServeConfig{}, fmt.Errorf("decode stables: %w", err)
		}
	}
	if v.IsSet("asset-prices") {
		if err := v.UnmarshalKey("asset-prices", &cfg.AssetPrices); err != nil {
			return ServeConfig{}, fmt.Errorf("decode asset-prices: %w", err)
		}
	}
	if v.IsSet("aave") {
		var loader AaveLoader
		if err := v.UnmarshalKey("aave", &loader); err != nil {
			return ServeConfig{}, fmt.Errorf("decode aave: %w", err)
		}
		cfg.Aave = &loader
	}

	return cfg, nil
}

// UsesChain reports whether any configured binding, stable set or Aave
// loader references the chain.
func (c ServeConfig) UsesChain(chainID uint64) bool {
	for _, binding := range c.Bindings {
		if binding.ChainID == chainID {
			return true
		}
	}
	for _, set := range c.Stables {
		if set.ChainID == chainID {
			return true
		}
	}
	return c.Aave != nil && c.Aave.ChainID == chainID
}

// HasChainConfig reports whether any chain-scoped configuration is present
// at all.
func (c ServeConfig) HasChainConfig() bool {
	return len(c.Bindings) > 0 || len(c.Stables) > 0 || c.Aave != nil
}

// ScoreConfig holds configuration for the score command.
type ScoreConfig struct {
	PGDSN    string
	RPCURL   string
	User     string
	Protocol string
	LogLevel string
}

// LoadScore merges config file, environment variables, and flags into
// ScoreConfig.
func LoadScore(cfgFile string, flags *pflag.FlagSet) (ScoreConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"log-level": "info",
	})
	if err != nil {
		return ScoreConfig{}, err
	}

	return ScoreConfig{
		PGDSN:    v.GetString("pg-dsn"),
		RPCURL:   v.GetString("rpc"),
		User:     v.GetString("user"),
		Protocol: v.GetString("protocol"),
		LogLevel: v.GetString("log-level"),
	}, nil
}

// MigrateConfig holds configuration for the migrate command.
type MigrateConfig struct {
	PGDSN    string
	LogLevel string
}

// LoadMigrate merges config file, environment variables, and flags into
// MigrateConfig.
func LoadMigrate(cfgFile string, flags *pflag.FlagSet) (MigrateConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"log-level": "info",
	})
	if err != nil {
		return MigrateConfig{}, err
	}

	return MigrateConfig{
		PGDSN:    v.GetString("pg-dsn"),
		LogLevel: v.GetString("log-level"),
	}, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("CREDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}
