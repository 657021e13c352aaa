package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/klingon-exchange/crypwallet/internal/chain"
)

// DeriveAddressFromKey derives the chain's default address type from an HD key.
func DeriveAddressFromKey(key *hdkeychain.ExtendedKey, params *chain.Params) (string, error) {
	pubKey, err := key.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("failed to get public key: %w", err)
	}
	return AddressForType(pubKey, params.DefaultAddressType, params.ChainCfg())
}

// AddressForType encodes pubKey as the given address type.
func AddressForType(pubKey *btcec.PublicKey, addrType chain.AddressType, net *chaincfg.Params) (string, error) {
	switch addrType {
	case chain.AddressP2PKH:
		return deriveP2PKH(pubKey, net)
	case chain.AddressP2TR:
		return deriveP2TR(pubKey, net)
	case chain.AddressP2WPKH, "":
		return deriveP2WPKH(pubKey, net)
	default:
		return "", fmt.Errorf("unsupported address type: %s", addrType)
	}
}

// deriveP2PKH derives a legacy P2PKH address (1... / m...)
func deriveP2PKH(pubKey *btcec.PublicKey, net *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), net)
	if err != nil {
		return "", fmt.Errorf("failed to create P2PKH address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// deriveP2WPKH derives a native SegWit address (bc1q... / tb1q...)
func deriveP2WPKH(pubKey *btcec.PublicKey, net *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), net)
	if err != nil {
		return "", fmt.Errorf("failed to create P2WPKH address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// deriveP2TR derives a key-path-only Taproot address (bc1p... / tb1p...)
func deriveP2TR(pubKey *btcec.PublicKey, net *chaincfg.Params) (string, error) {
	taprootKey := txscript.ComputeTaprootKeyNoScript(pubKey)
	addr, err := btcutil.NewAddressTaproot(taprootKey.SerializeCompressed()[1:], net)
	if err != nil {
		return "", fmt.Errorf("failed to create Taproot address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// ParseAddress decodes an address for params and reports its type.
func ParseAddress(address string, params *chain.Params) (btcutil.Address, chain.AddressType, error) {
	net := params.ChainCfg()

	decoded, err := btcutil.DecodeAddress(address, net)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode address: %w", err)
	}
	if !decoded.IsForNet(net) {
		return nil, "", fmt.Errorf("address %s is not for %s", address, params.Network)
	}

	var addrType chain.AddressType
	switch decoded.(type) {
	case *btcutil.AddressPubKeyHash:
		addrType = chain.AddressP2PKH
	case *btcutil.AddressWitnessPubKeyHash:
		addrType = chain.AddressP2WPKH
	case *btcutil.AddressTaproot:
		addrType = chain.AddressP2TR
	default:
		addrType = "other"
	}

	return decoded, addrType, nil
}

// AddressScript returns the output script paying to address.
func AddressScript(address string, params *chain.Params) ([]byte, error) {
	decoded, _, err := ParseAddress(address, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(decoded)
}
