// Package chain implements the nursery's Chain Observer: it consumes a
// JSON-RPC/ZMQ-style chain client, classifies incoming transactions and
// blocks against a relevance filter, and delivers ordered
// mempool-then-confirmed events to the nursery.
package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Client is the narrow interface the Observer consumes from a concrete
// chain backend: a JSON-RPC dialect plus a pub/sub notification channel.
// Modeled on lnd's ChainNotifier interface, generalized from a
// per-outpoint registration model (which doesn't scale to an unbounded
// number of swaps) to a persistent filter-set subscription.
type Client interface {
	// BlockchainInfo returns the current tip height and hash.
	BlockchainInfo(ctx context.Context) (height int32, hash *chainhash.Hash, err error)

	// Block returns the full block at hash.
	Block(ctx context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error)

	// BlockHash returns the hash of the block at height.
	BlockHash(ctx context.Context, height int32) (*chainhash.Hash, error)

	// Transaction returns the raw transaction identified by txid, if the
	// backend still has it (e.g. via -txindex or the wallet's own view).
	Transaction(ctx context.Context, txid *chainhash.Hash) (*wire.MsgTx, error)

	// SendRawTransaction broadcasts tx and returns its txid.
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)

	// EstimateFee returns the estimated fee rate, in sat/vB, for a
	// transaction to confirm within confTarget blocks.
	EstimateFee(ctx context.Context, confTarget uint32) (btcutil.Amount, error)

	// Capabilities reports which optional RPC surface this backend
	// flavor exposes.
	Capabilities() Capabilities

	// Subscribe starts delivering rawtx/rawblock/hashblock notifications
	// to the returned Subscription. At-least-once delivery semantics;
	// consumers must be idempotent.
	Subscribe(ctx context.Context) (*Subscription, error)
}

// Capabilities describes the optional RPC surface a particular chain
// flavor exposes. Modeled as a capability set rather than introspected
// version strings, so hot paths never branch on "is this chain X or Y" --
// only on "does this chain support Z".
type Capabilities struct {
	// EstimateSmartFee is true if the backend supports the modern
	// estimatesmartfee RPC; false means callers must fall back to a
	// legacy estimatefee heuristic or the rate.FloorFeeRate minimum.
	EstimateSmartFee bool

	// ZMQNotifications is true if the backend can push rawtx/rawblock/
	// hashblock over ZMQ. The Observer has no polling mode: it always
	// consumes the Client's Subscribe feed, whatever this reports.
	ZMQNotifications bool

	// VerboseBlocks is true if getblock supports verbosity=2 (full
	// transaction bodies inline), avoiding one getrawtransaction round
	// trip per transaction during a rescan.
	VerboseBlocks bool
}

// Subscription is a live feed of raw mempool transactions, raw blocks, and
// block-hash announcements from a Client, delivered at-least-once and
// possibly duplicated or reordered across notification types, matching the
// underlying pub/sub channel's delivery guarantees. Fields are buffered so
// a slow consumer cannot stall the feed indefinitely; see Observer for the
// consumer that drains these.
type Subscription struct {
	RawTx     chan *wire.MsgTx
	RawBlock  chan *wire.MsgBlock
	HashBlock chan *chainhash.Hash

	// Err carries a terminal error if the underlying connection drops;
	// Observer.Start returns it to its caller. The Observer does not
	// re-subscribe or call Rescan on its own.
	Err chan error

	cancel context.CancelFunc
}

// Close tears down the subscription.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}
