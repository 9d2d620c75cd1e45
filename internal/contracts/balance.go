package contracts

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// BalanceABI describes the counter contract batches call by default.
const BalanceABI = `[
  {
    "type": "function",
    "name": "increase_balance",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "amount", "type": "uint256"}],
    "outputs": []
  },
  {
    "type": "function",
    "name": "get_balance",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  }
]`

// Load parses the ABI at path, or the built-in BalanceABI when path is empty.
func Load(path string) (abi.ABI, error) {
	raw := BalanceABI
	if path != "" {
		blob, err := os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("read abi: %w", err)
		}
		raw = string(blob)
	}
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}
