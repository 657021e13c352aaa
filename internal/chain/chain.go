// Package chain defines Bitcoin network parameters and derivation paths.
// All chain-specific values are hardcoded here - no external configuration needed.
package chain

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network represents mainnet or testnet.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// ParseNetwork accepts "mainnet", "testnet" and "testnet3".
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "main":
		return Mainnet, nil
	case "testnet", "testnet3", "test":
		return Testnet, nil
	default:
		return "", fmt.Errorf("unknown network %q", s)
	}
}

// AddressType represents the address encoding format.
type AddressType string

const (
	AddressP2PKH  AddressType = "p2pkh"  // Legacy (1... / m...)
	AddressP2WPKH AddressType = "p2wpkh" // Native SegWit (bc1q... / tb1q...)
	AddressP2TR   AddressType = "p2tr"   // Taproot (bc1p... / tb1p...)
)

// Params contains the parameters the wallet needs for one network.
type Params struct {
	Name     string
	Network  Network
	Decimals uint8

	// BIP44 derivation
	CoinType       uint32 // 0 mainnet, 1 for every testnet
	DefaultPurpose uint32 // 84 for native SegWit

	Bech32HRP string

	// CheckpointFile is the bundled checkpoint file name for this network.
	CheckpointFile string

	DefaultAddressType AddressType

	net *chaincfg.Params
}

// ChainCfg returns the btcd parameters for address encoding and signing.
func (p *Params) ChainCfg() *chaincfg.Params {
	return p.net
}

// DerivationPath returns the BIP84 derivation path for this chain.
// Format: m/purpose'/coin'/account'/change/index
func (p *Params) DerivationPath(account, change, index uint32) []uint32 {
	return []uint32{
		p.DefaultPurpose + 0x80000000, // purpose' (hardened)
		p.CoinType + 0x80000000,       // coin_type' (hardened)
		account + 0x80000000,          // account' (hardened)
		change,                        // change (0=external, 1=internal)
		index,                         // address_index
	}
}

// DerivationPathString returns the derivation path as a string.
func (p *Params) DerivationPathString(account, change, index uint32) string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", p.DefaultPurpose, p.CoinType, account, change, index)
}

var registry = make(map[Network]*Params)

func register(params *Params) {
	registry[params.Network] = params
}

// Get returns the parameters for network.
func Get(network Network) (*Params, bool) {
	params, ok := registry[network]
	return params, ok
}

// MustGet is Get for networks known at compile time.
func MustGet(network Network) *Params {
	params, ok := Get(network)
	if !ok {
		panic(fmt.Sprintf("chain: unregistered network %q", network))
	}
	return params
}
