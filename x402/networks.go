package x402

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// Family is the chain family a network belongs to; it decides the address format.
type Family string

const (
	FamilyEVM Family = "evm"
	FamilySVM Family = "svm"
)

// NetworkDefaults describes the default payment asset for an x402 v1 network.
type NetworkDefaults struct {
	Name     string
	Family   Family
	Asset    string // USDC contract address or mint
	Decimals int
	Extra    map[string]any
}

var networks = map[string]NetworkDefaults{
	"base-sepolia": {
		Name:     "base-sepolia",
		Family:   FamilyEVM,
		Asset:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals: 6,
		Extra:    map[string]any{"name": "USDC", "version": "2"},
	},
	"base": {
		Name:     "base",
		Family:   FamilyEVM,
		Asset:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals: 6,
		Extra:    map[string]any{"name": "USD Coin", "version": "2"},
	},
	"avalanche-fuji": {
		Name:     "avalanche-fuji",
		Family:   FamilyEVM,
		Asset:    "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals: 6,
		Extra:    map[string]any{"name": "USD Coin", "version": "2"},
	},
	"avalanche": {
		Name:     "avalanche",
		Family:   FamilyEVM,
		Asset:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals: 6,
		Extra:    map[string]any{"name": "USD Coin", "version": "2"},
	},
	"solana-devnet": {
		Name:     "solana-devnet",
		Family:   FamilySVM,
		Asset:    "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Decimals: 6,
	},
	"solana": {
		Name:     "solana",
		Family:   FamilySVM,
		Asset:    "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals: 6,
	},
}

// LookupNetwork returns the defaults for a network name.
func LookupNetwork(name string) (NetworkDefaults, bool) {
	n, ok := networks[name]
	return n, ok
}

// ValidateAddress checks that addr is well formed for the given family.
func ValidateAddress(family Family, addr string) error {
	switch family {
	case FamilyEVM:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%q is not an EVM address", addr)
		}
		return nil
	case FamilySVM:
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return fmt.Errorf("%q is not a Solana address: %w", addr, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown network family %q", family)
	}
}
