package chain

import (
	"io"
	"strings"
	"testing"
)

func TestBitcoinMainnet(t *testing.T) {
	params, ok := Get(Mainnet)
	if !ok {
		t.Fatal("mainnet should be registered")
	}

	if params.Decimals != 8 {
		t.Errorf("Decimals = %d, want 8", params.Decimals)
	}
	if params.CoinType != 0 {
		t.Errorf("CoinType = %d, want 0", params.CoinType)
	}
	if params.DefaultPurpose != 84 {
		t.Errorf("DefaultPurpose = %d, want 84 (SegWit)", params.DefaultPurpose)
	}
	if params.Bech32HRP != "bc" {
		t.Errorf("Bech32HRP = %s, want bc", params.Bech32HRP)
	}
	if params.ChainCfg().Bech32HRPSegwit != params.Bech32HRP {
		t.Errorf("ChainCfg HRP = %s, want %s", params.ChainCfg().Bech32HRPSegwit, params.Bech32HRP)
	}
}

func TestBitcoinTestnet(t *testing.T) {
	params := MustGet(Testnet)

	if params.CoinType != 1 {
		t.Errorf("CoinType = %d, want 1", params.CoinType)
	}
	if params.Bech32HRP != "tb" {
		t.Errorf("Bech32HRP = %s, want tb", params.Bech32HRP)
	}
	if params.ChainCfg().Name != "testnet3" {
		t.Errorf("ChainCfg name = %s, want testnet3", params.ChainCfg().Name)
	}
	if params.CheckpointFile != "testnet3.checkpoints" {
		t.Errorf("CheckpointFile = %s", params.CheckpointFile)
	}
}

func TestDerivationPath(t *testing.T) {
	params := MustGet(Testnet)

	path := params.DerivationPath(0, 1, 7)
	want := []uint32{84 + 0x80000000, 1 + 0x80000000, 0x80000000, 1, 7}
	for i := range want {
		if path[i] != want[i] {
			t.Errorf("path[%d] = %d, want %d", i, path[i], want[i])
		}
	}

	if got := params.DerivationPathString(0, 1, 7); got != "m/84'/1'/0'/1/7" {
		t.Errorf("DerivationPathString() = %s", got)
	}
}

func TestParseNetwork(t *testing.T) {
	tests := []struct {
		in      string
		want    Network
		wantErr bool
	}{
		{"testnet", Testnet, false},
		{"testnet3", Testnet, false},
		{" Mainnet ", Mainnet, false},
		{"regtest", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseNetwork(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseNetwork(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseNetwork(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestMustGetPanicsOnUnknown(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustGet("signet")
}

func TestCheckpoints(t *testing.T) {
	params := MustGet(Testnet)

	data, err := io.ReadAll(params.Checkpoints())
	if err != nil {
		t.Fatalf("read checkpoints: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if !strings.HasPrefix(lines[0], "# testnet3") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if want := len(params.ChainCfg().Checkpoints) + 1; len(lines) != want {
		t.Fatalf("got %d lines, want %d", len(lines), want)
	}
	if lines[1] != "546 000000002a936ca763904c3c35fce2f3556c559c0214345d31b1bcebf76acb70" {
		t.Errorf("unexpected first checkpoint %q", lines[1])
	}
}
