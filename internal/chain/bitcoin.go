package chain

import "github.com/btcsuite/btcd/chaincfg"

func init() {
	register(&Params{
		Name:     "Bitcoin",
		Network:  Mainnet,
		Decimals: 8,

		// BIP44 coin type 0, BIP84 for native SegWit
		CoinType:       0,
		DefaultPurpose: 84,

		Bech32HRP:      "bc",
		CheckpointFile: "mainnet.checkpoints",

		DefaultAddressType: AddressP2WPKH,
		net:                &chaincfg.MainNetParams,
	})

	// testnet3
	register(&Params{
		Name:     "Bitcoin Testnet",
		Network:  Testnet,
		Decimals: 8,

		// Testnet uses coin type 1 for all coins
		CoinType:       1,
		DefaultPurpose: 84,

		Bech32HRP:      "tb",
		CheckpointFile: "testnet3.checkpoints",

		DefaultAddressType: AddressP2WPKH,
		net:                &chaincfg.TestNet3Params,
	})
}
