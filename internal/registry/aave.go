package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"creditScope/internal/chain"
	"creditScope/internal/model"
)

const dataProviderABIJSON = `[
  {
    "inputs": [{"internalType": "address", "name": "asset", "type": "address"}],
    "name": "getReserveTokensAddresses",
    "outputs": [
      {"internalType": "address", "name": "aTokenAddress", "type": "address"},
      {"internalType": "address", "name": "stableDebtTokenAddress", "type": "address"},
      {"internalType": "address", "name": "variableDebtTokenAddress", "type": "address"}
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	dataProviderABI     abi.ABI
	dataProviderABIOnce sync.Once
	dataProviderABIErr  error
)

func getDataProviderABI() (abi.ABI, error) {
	dataProviderABIOnce.Do(func() {
		dataProviderABI, dataProviderABIErr = abi.JSON(strings.NewReader(dataProviderABIJSON))
	})
	return dataProviderABI, dataProviderABIErr
}

// LoadAaveBindings populates the registry with aToken and variable-debt-token
// bindings for the given underlyings, read from the Aave protocol data
// provider contract. Intended as a startup convenience; config-file bindings
// remain authoritative when both are present.
func LoadAaveBindings(
	ctx context.Context,
	chainClient *chain.Client,
	dest *Static,
	chainID uint64,
	dataProvider common.Address,
	underlyings []common.Address,
	logger *zap.Logger,
) error {
	if chainClient == nil {
		return fmt.Errorf("chain client is nil")
	}
	if dest == nil {
		return fmt.Errorf("registry is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	providerABI, err := getDataProviderABI()
	if err != nil {
		return err
	}

	for _, underlying := range underlyings {
		data, err := providerABI.Pack("getReserveTokensAddresses", underlying)
		if err != nil {
			return fmt.Errorf("pack getReserveTokensAddresses: %w", err)
		}

		msg := ethereum.CallMsg{To: &dataProvider, Data: data}
		resp, err := chainClient.CallContract(ctx, msg, nil)
		if err != nil {
			return fmt.Errorf("call getReserveTokensAddresses %s: %w", underlying.Hex(), err)
		}

		values, err := providerABI.Unpack("getReserveTokensAddresses", resp)
		if err != nil {
			return fmt.Errorf("unpack getReserveTokensAddresses: %w", err)
		}
		if len(values) != 3 {
			return fmt.Errorf("unexpected getReserveTokensAddresses arity: %d", len(values))
		}

		aToken, ok0 := values[0].(common.Address)
		variableDebt, ok2 := values[2].(common.Address)
		if !ok0 || !ok2 {
			return fmt.Errorf("unexpected getReserveTokensAddresses types")
		}

		if _, exists := dest.RoleToken(chainID, model.ProtocolAave, underlying, model.RoleReserve); !exists {
			dest.Set(chainID, model.ProtocolAave, underlying, model.RoleReserve, aToken)
		}
		if _, exists := dest.RoleToken(chainID, model.ProtocolAave, underlying, model.RoleVariableDebt); !exists {
			dest.Set(chainID, model.ProtocolAave, underlying, model.RoleVariableDebt, variableDebt)
		}

		logger.Info("aave binding loaded",
			zap.String("underlying", underlying.Hex()),
			zap.String("a_token", aToken.Hex()),
			zap.String("variable_debt", variableDebt.Hex()),
		)
	}

	return nil
}
