package main

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/boltz-exchange/boltzd/chain"
	"github.com/boltz-exchange/boltzd/swap"
)

// unconfiguredChainClient satisfies chain.Client without reaching any real
// backend. Per this system's own scope boundary, the RPC/ZMQ chain client
// is an external collaborator whose interface lives here but whose
// internals -- a concrete bitcoind/litecoind JSON-RPC-plus-ZMQ client --
// are a deployment's own responsibility to supply, the same way lnd.go's
// chainControl is assembled from whichever backend a chain's config block
// names. This stands in until one is wired, and fails loudly rather than
// silently doing nothing.
type unconfiguredChainClient struct {
	symbol string
}

func (c *unconfiguredChainClient) err() error {
	return fmt.Errorf("no chain backend configured for %s: wire a concrete chain.Client", c.symbol)
}

func (c *unconfiguredChainClient) BlockchainInfo(ctx context.Context) (int32, *chainhash.Hash, error) {
	return 0, nil, c.err()
}

func (c *unconfiguredChainClient) Block(ctx context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error) {
	return nil, c.err()
}

func (c *unconfiguredChainClient) BlockHash(ctx context.Context, height int32) (*chainhash.Hash, error) {
	return nil, c.err()
}

func (c *unconfiguredChainClient) Transaction(ctx context.Context, txid *chainhash.Hash) (*wire.MsgTx, error) {
	return nil, c.err()
}

func (c *unconfiguredChainClient) SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	return nil, c.err()
}

func (c *unconfiguredChainClient) EstimateFee(ctx context.Context, confTarget uint32) (btcutil.Amount, error) {
	return 0, c.err()
}

func (c *unconfiguredChainClient) Capabilities() chain.Capabilities {
	return chain.Capabilities{}
}

func (c *unconfiguredChainClient) Subscribe(ctx context.Context) (*chain.Subscription, error) {
	return nil, c.err()
}

// unconfiguredLightningClient satisfies lightning.Client the same way:
// a placeholder for the Lightning node connection a deployment must supply
// (an LND or CLN gRPC client), which this system's scope treats as an
// external collaborator specified by interface, not implementation.
type unconfiguredLightningClient struct{}

func (unconfiguredLightningClient) err() error {
	return fmt.Errorf("no Lightning node configured: wire a concrete lightning.Client")
}

func (c unconfiguredLightningClient) PayInvoice(ctx context.Context, invoice string, maxFee uint64) ([32]byte, error) {
	return [32]byte{}, c.err()
}

func (c unconfiguredLightningClient) AddHoldInvoice(ctx context.Context, paymentHash [32]byte,
	amountMsat uint64, expiry time.Duration, description string) (string, error) {
	return "", c.err()
}

func (c unconfiguredLightningClient) SettleInvoice(ctx context.Context, preimage [32]byte) error {
	return c.err()
}

func (c unconfiguredLightningClient) CancelInvoice(ctx context.Context, paymentHash [32]byte) error {
	return c.err()
}

func (c unconfiguredLightningClient) SubscribeInvoiceAccepted(ctx context.Context) (<-chan [32]byte, error) {
	return nil, c.err()
}

// unconfiguredWallet satisfies walletrpc.Wallet as the same kind of
// placeholder: wallet key derivation and coin control are this system's
// third external collaborator boundary, left for a deployment to supply a
// real HD wallet behind.
type unconfiguredWallet struct{}

func (unconfiguredWallet) err() error {
	return fmt.Errorf("no wallet configured: wire a concrete walletrpc.Wallet")
}

func (w unconfiguredWallet) NewAddress(ctx context.Context) (btcutil.Address, error) {
	return nil, w.err()
}

func (w unconfiguredWallet) DeriveClaimKey(ctx context.Context, keyIndex uint32) (swap.Signer, *btcec.PublicKey, error) {
	return nil, nil, w.err()
}

func (w unconfiguredWallet) DeriveRefundKey(ctx context.Context, keyIndex uint32) (swap.Signer, *btcec.PublicKey, error) {
	return nil, nil, w.err()
}

func (w unconfiguredWallet) NextKeyIndex(ctx context.Context) (uint32, error) {
	return 0, w.err()
}

func (w unconfiguredWallet) SendToAddress(ctx context.Context, address string, amount btcutil.Amount,
	feeRate btcutil.Amount, sendAll bool) (*chainhash.Hash, uint32, error) {
	return nil, 0, w.err()
}

func (w unconfiguredWallet) GetBalance(ctx context.Context) (btcutil.Amount, error) {
	return 0, w.err()
}
