package send

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/crypwallet/internal/chainclient"
	"github.com/klingon-exchange/crypwallet/internal/walleterr"
)

const testnetAddr = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"

type fakePayer struct {
	mu     sync.Mutex
	calls  int
	err    error
	handle *chainclient.BroadcastHandle
}

func (p *fakePayer) SendPayment(ctx context.Context, address string, sats int64) (*chainclient.BroadcastHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.handle, nil
}

func (p *fakePayer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type eventSink struct {
	ch chan chainclient.Event
}

func (s *eventSink) Submit(ev chainclient.Event) { s.ch <- ev }

func newTestCoordinator(p *fakePayer) (*Coordinator, *eventSink) {
	sink := &eventSink{ch: make(chan chainclient.Event, 4)}
	return NewCoordinator(p, &chaincfg.TestNet3Params, sink, nil), sink
}

func TestSendEmptyAddress(t *testing.T) {
	p := &fakePayer{}
	c, sink := newTestCoordinator(p)

	_, err := c.Send(context.Background(), "", "0.001")
	require.ErrorIs(t, err, walleterr.ErrInvalidAddress)
	assert.True(t, walleterr.IsKind(err, walleterr.KindInvalidInput))
	assert.Zero(t, p.callCount())
	assert.Empty(t, sink.ch)
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"testnet segwit", testnetAddr, false},
		{"mainnet segwit", "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", true},
		{"garbage", "not-an-address", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address, &chaincfg.TestNet3Params)
			if tt.wantErr {
				require.ErrorIs(t, err, walleterr.ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		amount  string
		want    int64
		wantErr bool
	}{
		{"0.001", 100000, false},
		{"1", 100000000, false},
		{"0.00000001", 1, false},
		{"0", 0, true},
		{"-0.5", 0, true},
		{"0.000000001", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := ParseAmount(tt.amount)
			if tt.wantErr {
				require.ErrorIs(t, err, walleterr.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendInvalidAmountSkipsNetwork(t *testing.T) {
	p := &fakePayer{}
	c, _ := newTestCoordinator(p)

	_, err := c.Send(context.Background(), testnetAddr, "-1")
	require.ErrorIs(t, err, walleterr.ErrInvalidAmount)
	assert.Zero(t, p.callCount())
}

func TestSendTriggersReconcileOnCompletion(t *testing.T) {
	h := chainclient.NewBroadcastHandle()
	p := &fakePayer{handle: h}
	c, sink := newTestCoordinator(p)

	got, err := c.Send(context.Background(), testnetAddr, "0.001")
	require.NoError(t, err)
	assert.Same(t, h, got)

	// Nothing is forwarded before the broadcast settles.
	select {
	case ev := <-sink.ch:
		t.Fatalf("unexpected early event %v", ev.Kind)
	case <-time.After(20 * time.Millisecond):
	}

	h.Complete("deadbeef", nil)

	select {
	case ev := <-sink.ch:
		assert.Equal(t, chainclient.EventBroadcastComplete, ev.Kind)
		assert.Same(t, h, ev.Broadcast)
	case <-time.After(time.Second):
		t.Fatal("broadcast completion not forwarded")
	}
}

func TestSendPayerError(t *testing.T) {
	p := &fakePayer{err: errors.New("wallet engine not running")}
	c, sink := newTestCoordinator(p)

	_, err := c.Send(context.Background(), testnetAddr, "0.5")
	require.Error(t, err)
	assert.True(t, walleterr.IsKind(err, walleterr.KindBroadcastFailure))
	assert.Equal(t, 1, p.callCount())
	assert.Empty(t, sink.ch)
}
