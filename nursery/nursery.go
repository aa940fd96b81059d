// Package nursery implements the swap-coordination engine: the orchestrator
// that ties the chain observer, the Lightning adapter, the swap repository,
// and the event bus together, and drives each swap's state machine forward
// as events arrive.
package nursery

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/boltz-exchange/boltzd/chain"
	"github.com/boltz-exchange/boltzd/lightning"
	"github.com/boltz-exchange/boltzd/notification"
	"github.com/boltz-exchange/boltzd/rate"
	"github.com/boltz-exchange/boltzd/swaprepo"
	"github.com/boltz-exchange/boltzd/walletrpc"
)

// Config bundles every collaborator the nursery coordinates, constructed and
// wired up by the caller ahead of time. Grounded on this repository's
// server.go composition pattern: subsystems are built once at startup and
// handed to their consumers, rather than constructed lazily inside them.
type Config struct {
	Chains       *chain.Registry
	Lightning    *lightning.Adapter
	Swaps        swaprepo.SwapRepository
	ReverseSwaps swaprepo.ReverseSwapRepository
	Bus          *notification.Bus
	Oracle       rate.Oracle
	Wallet       walletrpc.Wallet

	// MinTimeoutBlocks is the minimum distance a new swap's
	// TimeoutBlockHeight keeps from the chain tip: CreateSwap /
	// CreateReverseSwap set it to tip + MinTimeoutBlocks + 1. Guards
	// against a swap that expires before its creator can reasonably act
	// on it.
	MinTimeoutBlocks uint32

	// ClaimConfTarget / LockupConfTarget are the confirmation targets
	// passed to the rate Oracle's FeePerVByte when building a claim,
	// refund, or reverse-lockup transaction.
	ClaimConfTarget  uint32
	LockupConfTarget uint32
}

// swapRef is what the nursery's dispatch indices resolve a chain
// observation or Lightning event back to.
type swapRef struct {
	id      string
	reverse bool
}

// Nursery is the swap-coordination engine (the heart of the system): it
// owns the in-memory index from on-chain scriptPubKeys/outpoints and
// Lightning payment hashes back to swap ids, serializes every mutating
// action behind the swap's keyed lock, and advances each swap's state
// machine as Chain Observer and Lightning Adapter events arrive. There is
// no separate in-memory swap cache: the repository is the single source of
// truth, read fresh under the swap's lock on every transition, so the
// round-trip law (in-memory state equals last persisted status after any
// crash-restart) holds trivially -- there is no divergent copy to
// reconcile.
type Nursery struct {
	cfg Config

	locks *keyedMutex

	mu            sync.RWMutex
	scripts       map[string]swapRef        // hex(pkScript) -> swap
	outpoints     map[wire.OutPoint]swapRef // lockup outpoint -> swap
	paymentHashes map[[32]byte]swapRef      // reverse hold-invoice payment hash -> swap

	// htlcAccepted remembers which reverse swaps have an accepted hold
	// invoice HTLC, since that notification arrives on its own and isn't
	// replayed by crash recovery -- only the lockup-confirmation path
	// consults it, to decide whether settling can happen immediately on
	// confirmation instead of waiting for a htlc.accepted that already
	// happened.
	htlcAccepted map[string]struct{}

	// paymentCancels holds the single cancellation token for a submarine
	// swap's in-flight PayInvoice call, keyed by swap id. expireSwap uses
	// it to detach a payment attempt from a swap whose timeout has
	// passed, per the cancellation step the nursery's expiry path owes
	// the Lightning adapter.
	paymentCancels map[string]context.CancelFunc

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Nursery. Call Start to begin recovery and event
// dispatch.
func New(cfg Config) *Nursery {
	if cfg.MinTimeoutBlocks == 0 {
		cfg.MinTimeoutBlocks = 2
	}
	if cfg.ClaimConfTarget == 0 {
		cfg.ClaimConfTarget = 2
	}
	if cfg.LockupConfTarget == 0 {
		cfg.LockupConfTarget = 2
	}
	return &Nursery{
		cfg:           cfg,
		locks:         newKeyedMutex(),
		scripts:       make(map[string]swapRef),
		outpoints:     make(map[wire.OutPoint]swapRef),
		paymentHashes: make(map[[32]byte]swapRef),
		htlcAccepted:  make(map[string]struct{}),
		paymentCancels: make(map[string]context.CancelFunc),
		quit:          make(chan struct{}),
	}
}

// Start runs crash recovery -- loading every non-terminal swap, re-indexing
// it, re-registering its chain filters, and rescanning from the oldest
// surviving creation height -- then launches the per-chain and Lightning
// dispatch loops. It returns once recovery has completed; the dispatch
// loops keep running until Stop is called.
func (n *Nursery) Start(ctx context.Context) error {
	if err := n.recover(ctx); err != nil {
		return fmt.Errorf("nursery recovery: %w", err)
	}

	for _, code := range n.cfg.Chains.Codes() {
		entry, ok := n.cfg.Chains.Lookup(code)
		if !ok {
			continue
		}
		n.wg.Add(1)
		go n.runChainLoop(ctx, code, entry)
	}

	n.wg.Add(1)
	go n.runLightningLoop(ctx)

	return nil
}

// Stop signals every dispatch loop to exit and waits for them to finish.
func (n *Nursery) Stop() {
	close(n.quit)
	n.wg.Wait()
}

func (n *Nursery) runChainLoop(ctx context.Context, code chain.Code, entry *chain.Entry) {
	defer n.wg.Done()
	for {
		select {
		case <-n.quit:
			return
		case <-ctx.Done():
			return
		case ev := <-entry.Observer.Transactions():
			n.onTransaction(ctx, code, entry, ev)
		case ev := <-entry.Observer.Blocks():
			n.onBlock(ctx, code, entry, ev)
		}
	}
}

func (n *Nursery) runLightningLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-n.quit:
			return
		case <-ctx.Done():
			return
		case ev := <-n.cfg.Lightning.Events():
			n.onLightningEvent(ctx, ev)
		}
	}
}

// recover loads every non-terminal swap and reverse swap, re-registers
// their chain filters and dispatch indices, and replays chain history from
// the oldest surviving creation height per chain -- making every swap
// recoverable from persisted state alone.
func (n *Nursery) recover(ctx context.Context) error {
	pending, err := n.cfg.Swaps.GetPending(ctx)
	if err != nil {
		return fmt.Errorf("loading pending swaps: %w", err)
	}
	reversePending, err := n.cfg.ReverseSwaps.GetPending(ctx)
	if err != nil {
		return fmt.Errorf("loading pending reverse swaps: %w", err)
	}

	minHeight := make(map[chain.Code]uint32)

	for _, s := range pending {
		code := chainCodeFor(s.ChainSymbol)
		entry, ok := n.cfg.Chains.Lookup(code)
		if !ok {
			log.Errorf("swap %s references unconfigured chain %s", s.ID, s.ChainSymbol)
			continue
		}
		if err := n.indexAndWatchSwap(entry, s); err != nil {
			log.Errorf("re-registering filters for swap %s: %v", s.ID, err)
		}
		trackMinHeight(minHeight, code, s.CreatedHeight)
		log.Infof("recovered swap %s at status %s", s.ID, s.Status)
	}
	for _, rs := range reversePending {
		code := chainCodeFor(rs.ChainSymbol)
		entry, ok := n.cfg.Chains.Lookup(code)
		if !ok {
			log.Errorf("reverse swap %s references unconfigured chain %s", rs.ID, rs.ChainSymbol)
			continue
		}
		if err := n.indexAndWatchReverseSwap(entry, rs); err != nil {
			log.Errorf("re-registering filters for reverse swap %s: %v", rs.ID, err)
		}
		trackMinHeight(minHeight, code, rs.CreatedHeight)
		log.Infof("recovered reverse swap %s at status %s", rs.ID, rs.Status)
	}

	for code, height := range minHeight {
		entry, ok := n.cfg.Chains.Lookup(code)
		if !ok {
			continue
		}
		log.Infof("rescanning %v from height %d", code, height)
		if err := entry.Observer.Rescan(ctx, int32(height)); err != nil {
			return fmt.Errorf("rescanning %v from height %d: %w", code, height, err)
		}
	}

	return nil
}

func trackMinHeight(m map[chain.Code]uint32, code chain.Code, height uint32) {
	current, ok := m[code]
	if !ok || height < current {
		m[code] = height
	}
}

// chainCodeFor maps a persisted ChainSymbol back to the Registry's Code
// enum. Only the two base chains this deployment ships with are known
// here; a deployment adding a new base chain would extend this switch
// alongside registering its chain.Entry.
func chainCodeFor(symbol swaprepo.ChainSymbol) chain.Code {
	switch symbol {
	case "LTC":
		return chain.LitecoinChain
	default:
		return chain.BitcoinChain
	}
}

// addressPkScript recomputes the scriptPubKey for a persisted lockup
// address under entry's network parameters, so the dispatch index can be
// keyed by scriptPubKey -- the only thing a sighted transaction's TxOut
// actually carries -- consistently between fresh creation and recovery.
func addressPkScript(address string, entry *chain.Entry) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, entry.Params)
	if err != nil {
		return nil, fmt.Errorf("decoding lockup address %s: %w", address, err)
	}
	return txscript.PayToAddrScript(addr)
}

func chainHashFromHex(s string) (*chainhash.Hash, error) {
	return chainhash.NewHashFromStr(s)
}

// indexAndWatchSwap registers s's lockup scriptPubKey (and outpoint, if
// already funded) with both the Observer's relevance filter and the
// nursery's own dispatch index.
func (n *Nursery) indexAndWatchSwap(entry *chain.Entry, s *swaprepo.Swap) error {
	script, err := addressPkScript(s.LockupAddress, entry)
	if err != nil {
		return err
	}

	ref := swapRef{id: s.ID}

	n.mu.Lock()
	n.scripts[hex.EncodeToString(script)] = ref
	n.mu.Unlock()

	entry.Observer.RegisterOutput(script)

	if s.LockupTransactionID != "" {
		hash, err := chainHashFromHex(s.LockupTransactionID)
		if err != nil {
			return err
		}
		op := wire.OutPoint{Hash: *hash, Index: s.LockupVout}
		n.registerOutpoint(op, ref)
		entry.Observer.RegisterInput(op)
	}

	return nil
}

// indexAndWatchReverseSwap is indexAndWatchSwap's counterpart for reverse
// swaps; it additionally indexes the hold invoice's payment hash.
func (n *Nursery) indexAndWatchReverseSwap(entry *chain.Entry, rs *swaprepo.ReverseSwap) error {
	script, err := addressPkScript(rs.LockupAddress, entry)
	if err != nil {
		return err
	}

	ref := swapRef{id: rs.ID, reverse: true}

	n.mu.Lock()
	n.scripts[hex.EncodeToString(script)] = ref
	n.paymentHashes[rs.PreimageHash] = ref
	n.mu.Unlock()

	entry.Observer.RegisterOutput(script)

	if rs.TransactionID != "" {
		hash, err := chainHashFromHex(rs.TransactionID)
		if err != nil {
			return err
		}
		op := wire.OutPoint{Hash: *hash, Index: 0}
		n.registerOutpoint(op, ref)
		entry.Observer.RegisterInput(op)
	}

	return nil
}

func (n *Nursery) lookupScript(pkScript []byte) (swapRef, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ref, ok := n.scripts[hex.EncodeToString(pkScript)]
	return ref, ok
}

func (n *Nursery) lookupOutpoint(op wire.OutPoint) (swapRef, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ref, ok := n.outpoints[op]
	return ref, ok
}

func (n *Nursery) lookupPaymentHash(hash [32]byte) (swapRef, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ref, ok := n.paymentHashes[hash]
	return ref, ok
}

func (n *Nursery) registerOutpoint(op wire.OutPoint, ref swapRef) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outpoints[op] = ref
}

func (n *Nursery) forgetScript(pkScript []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.scripts, hex.EncodeToString(pkScript))
}

func (n *Nursery) forgetPaymentHash(hash [32]byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.paymentHashes, hash)
}

func (n *Nursery) markHTLCAccepted(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.htlcAccepted[id] = struct{}{}
}

func (n *Nursery) hasHTLCAccepted(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.htlcAccepted[id]
	return ok
}

func (n *Nursery) forgetHTLCAccepted(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.htlcAccepted, id)
}

// trackPaymentCancel records cancel as the cancellation token for swap id's
// in-flight PayInvoice call, replacing (without invoking) any prior one --
// a swap holds at most one payment attempt at a time, so there is never a
// stale token left to leak.
func (n *Nursery) trackPaymentCancel(id string, cancel context.CancelFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paymentCancels[id] = cancel
}

// forgetPaymentCancel removes swap id's cancellation token once its payment
// attempt has finished, without invoking it.
func (n *Nursery) forgetPaymentCancel(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.paymentCancels, id)
}

// cancelPayment invokes and removes swap id's cancellation token, if one is
// currently tracked, detaching any in-flight PayInvoice call from further
// retries. Called when a swap expires out from under a payment attempt.
func (n *Nursery) cancelPayment(id string) {
	n.mu.Lock()
	cancel, ok := n.paymentCancels[id]
	delete(n.paymentCancels, id)
	n.mu.Unlock()

	if ok {
		cancel()
	}
}

// publish forwards event to the bus. The caller must have already
// persisted the state transition event describes; Bus.Publish documents
// why that order matters.
func (n *Nursery) publish(event notification.Event) {
	n.cfg.Bus.Publish(event)
}
