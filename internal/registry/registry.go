package registry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"creditScope/internal/model"
)

// Registry resolves the authoritative role-token address for an underlying
// asset on a given chain and protocol. The ledger uses it to reject
// observations whose role token is not the genuine one for its declared role.
type Registry interface {
	RoleToken(chainID uint64, protocol model.Protocol, underlying common.Address, role model.Role) (common.Address, bool)
}

type bindingKey struct {
	chainID    uint64
	protocol   model.Protocol
	underlying common.Address
	role       model.Role
}

// Static is an in-memory Registry populated from config entries or a chain
// loader at startup.
type Static struct {
	mu   sync.RWMutex
	data map[bindingKey]common.Address
}

func NewStatic() *Static {
	return &Static{data: make(map[bindingKey]common.Address)}
}

// Set records the authoritative role token for a binding.
func (s *Static) Set(chainID uint64, protocol model.Protocol, underlying common.Address, role model.Role, roleToken common.Address) {
	s.mu.Lock()
	s.data[bindingKey{chainID, protocol, underlying, role}] = roleToken
	s.mu.Unlock()
}

// RoleToken returns the bound role token, if any.
func (s *Static) RoleToken(chainID uint64, protocol model.Protocol, underlying common.Address, role model.Role) (common.Address, bool) {
	s.mu.RLock()
	token, ok := s.data[bindingKey{chainID, protocol, underlying, role}]
	s.mu.RUnlock()
	return token, ok
}

// Entry is one config-file binding row.
type Entry struct {
	ChainID    uint64 `json:"chain_id" mapstructure:"chain_id"`
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Underlying string `json:"underlying" mapstructure:"underlying"`
	Role       string `json:"role" mapstructure:"role"`
	RoleToken  string `json:"role_token" mapstructure:"role_token"`
}

// NewStaticFromEntries validates and loads config entries into a Static
// registry.
func NewStaticFromEntries(entries []Entry) (*Static, error) {
	s := NewStatic()
	for i, entry := range entries {
		protocol, err := model.ParseProtocol(entry.Protocol)
		if err != nil {
			return nil, fmt.Errorf("binding %d: %w", i, err)
		}
		role, err := model.ParseRole(entry.Role)
		if err != nil {
			return nil, fmt.Errorf("binding %d: %w", i, err)
		}
		if !common.IsHexAddress(entry.Underlying) {
			return nil, fmt.Errorf("binding %d: invalid underlying address: %s", i, entry.Underlying)
		}
		if !common.IsHexAddress(entry.RoleToken) {
			return nil, fmt.Errorf("binding %d: invalid role token address: %s", i, entry.RoleToken)
		}
		s.Set(entry.ChainID, protocol, common.HexToAddress(entry.Underlying), role, common.HexToAddress(entry.RoleToken))
	}
	return s, nil
}
