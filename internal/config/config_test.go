package config

import (
	"testing"

	"creditScope/internal/registry"
)

func TestUsesChain(t *testing.T) {
	cfg := ServeConfig{
		Bindings: []registry.Entry{{ChainID: 56}},
		Stables:  []StableSet{{ChainID: 1}},
		Aave:     &AaveLoader{ChainID: 137},
	}

	for _, id := range []uint64{56, 1, 137} {
		if !cfg.UsesChain(id) {
			t.Fatalf("chain %d should be configured", id)
		}
	}
	if cfg.UsesChain(42161) {
		t.Fatalf("chain 42161 should not be configured")
	}
}

func TestHasChainConfig(t *testing.T) {
	if (ServeConfig{}).HasChainConfig() {
		t.Fatalf("empty config has no chain config")
	}
	if !(ServeConfig{Stables: []StableSet{{ChainID: 1}}}).HasChainConfig() {
		t.Fatalf("stable set is chain config")
	}
	if !(ServeConfig{Aave: &AaveLoader{ChainID: 56}}).HasChainConfig() {
		t.Fatalf("aave loader is chain config")
	}
}
