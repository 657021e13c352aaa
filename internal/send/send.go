// Package send validates and executes outgoing payments.
package send

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/crypwallet/internal/chainclient"
	"github.com/klingon-exchange/crypwallet/internal/walleterr"
	"github.com/klingon-exchange/crypwallet/pkg/helpers"
	"github.com/klingon-exchange/crypwallet/pkg/logging"
)

// Payer broadcasts payments. *chainclient.Adapter satisfies it.
type Payer interface {
	SendPayment(ctx context.Context, address string, sats int64) (*chainclient.BroadcastHandle, error)
}

// Coordinator validates a payment locally, hands it to the Payer, and queues
// a reconciliation once the broadcast settles.
type Coordinator struct {
	payer  Payer
	params *chaincfg.Params
	sink   chainclient.Sink
	log    *logging.Logger
}

// NewCoordinator creates a coordinator for the given network.
func NewCoordinator(payer Payer, params *chaincfg.Params, sink chainclient.Sink, log *logging.Logger) *Coordinator {
	if log == nil {
		log = logging.GetDefault()
	}
	return &Coordinator{
		payer:  payer,
		params: params,
		sink:   sink,
		log:    log.Component("send"),
	}
}

// Send pays amount (a BTC decimal string) to address. It returns as soon as
// the payment is handed off; the handle settles when the broadcast does.
// Validation errors are returned before anything touches the network.
func (c *Coordinator) Send(ctx context.Context, address, amount string) (*chainclient.BroadcastHandle, error) {
	if err := ValidateAddress(address, c.params); err != nil {
		return nil, err
	}
	sats, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}

	c.log.Info("Sending payment", "to", address, "amount", helpers.SatoshisToBTC(sats))

	h, err := c.payer.SendPayment(ctx, address, sats)
	if err != nil {
		c.log.Error("Send failed", "to", address, "error", err)
		return nil, walleterr.New(walleterr.KindBroadcastFailure, "send payment", err)
	}

	go c.await(h)
	return h, nil
}

// await forwards the settled handle to the ledger. A failed broadcast is
// reported without a reconciliation pass. There is no timeout.
func (c *Coordinator) await(h *chainclient.BroadcastHandle) {
	<-h.Done()
	if _, err := h.Result(); err != nil {
		c.log.Warn("Broadcast failed", "handle", h.ID(), "error", err)
	}
	c.sink.Submit(chainclient.Event{Kind: chainclient.EventBroadcastComplete, Broadcast: h})
}

// ValidateAddress checks that address decodes for params.
func ValidateAddress(address string, params *chaincfg.Params) error {
	if address == "" {
		return walleterr.InvalidAddress("send", "empty address")
	}
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return walleterr.InvalidAddress("send", err.Error())
	}
	if !addr.IsForNet(params) {
		return walleterr.InvalidAddress("send", "address is for a different network")
	}
	return nil
}

// ParseAmount parses a positive BTC amount with at most 8 fractional digits.
func ParseAmount(amount string) (int64, error) {
	sats, err := helpers.BTCToSatoshis(amount)
	if err != nil {
		return 0, walleterr.InvalidAmount("send", err.Error())
	}
	if sats <= 0 {
		return 0, walleterr.InvalidAmount("send", "amount must be positive")
	}
	return sats, nil
}
