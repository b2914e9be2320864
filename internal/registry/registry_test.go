package registry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"creditScope/internal/model"
)

func TestStaticFromEntries(t *testing.T) {
	reg, err := NewStaticFromEntries([]Entry{
		{ChainID: 56, Protocol: "aave", Underlying: "0x1111111111111111111111111111111111111111", Role: "variable-debt", RoleToken: "0x3333333333333333333333333333333333333333"},
	})
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}

	token, ok := reg.RoleToken(56, model.ProtocolAave,
		common.HexToAddress("0x1111111111111111111111111111111111111111"), model.RoleVariableDebt)
	if !ok {
		t.Fatalf("binding not found")
	}
	if token != common.HexToAddress("0x3333333333333333333333333333333333333333") {
		t.Fatalf("wrong role token: %s", token.Hex())
	}

	if _, ok := reg.RoleToken(1, model.ProtocolAave,
		common.HexToAddress("0x1111111111111111111111111111111111111111"), model.RoleVariableDebt); ok {
		t.Fatalf("binding should be scoped to its chain")
	}
	if _, ok := reg.RoleToken(56, model.ProtocolCompound,
		common.HexToAddress("0x1111111111111111111111111111111111111111"), model.RoleVariableDebt); ok {
		t.Fatalf("binding should be scoped to its protocol")
	}
}

func TestStaticFromEntriesValidation(t *testing.T) {
	cases := []struct {
		name  string
		entry Entry
	}{
		{"bad protocol", Entry{ChainID: 56, Protocol: "maker", Underlying: "0x1111111111111111111111111111111111111111", Role: "reserve", RoleToken: "0x3333333333333333333333333333333333333333"}},
		{"bad role", Entry{ChainID: 56, Protocol: "aave", Underlying: "0x1111111111111111111111111111111111111111", Role: "junior-debt", RoleToken: "0x3333333333333333333333333333333333333333"}},
		{"bad underlying", Entry{ChainID: 56, Protocol: "aave", Underlying: "weth", Role: "reserve", RoleToken: "0x3333333333333333333333333333333333333333"}},
		{"bad role token", Entry{ChainID: 56, Protocol: "aave", Underlying: "0x1111111111111111111111111111111111111111", Role: "reserve", RoleToken: ""}},
	}
	for _, tc := range cases {
		if _, err := NewStaticFromEntries([]Entry{tc.entry}); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestStaticSetOverwrites(t *testing.T) {
	reg := NewStatic()
	underlying := common.HexToAddress("0x1111111111111111111111111111111111111111")

	reg.Set(56, model.ProtocolAave, underlying, model.RoleReserve, common.HexToAddress("0x01"))
	reg.Set(56, model.ProtocolAave, underlying, model.RoleReserve, common.HexToAddress("0x02"))

	token, ok := reg.RoleToken(56, model.ProtocolAave, underlying, model.RoleReserve)
	if !ok || token != common.HexToAddress("0x02") {
		t.Fatalf("expected overwritten binding, got ok=%v token=%s", ok, token.Hex())
	}
}
