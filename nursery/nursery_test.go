package nursery

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/stretchr/testify/require"

	_ "github.com/btcsuite/btcwallet/walletdb/bdb"

	"github.com/boltz-exchange/boltzd/chain"
	"github.com/boltz-exchange/boltzd/lightning"
	"github.com/boltz-exchange/boltzd/notification"
	"github.com/boltz-exchange/boltzd/rate"
	"github.com/boltz-exchange/boltzd/swap"
	"github.com/boltz-exchange/boltzd/swaprepo"
	"github.com/boltz-exchange/boltzd/walletrpc"
)

// fakeChainClient is a minimal in-memory chain.Client, modeled on
// chain/observer_test.go's fakeClient: just enough surface for the nursery
// to broadcast and price transactions against, with no subscription loop of
// its own since these tests drive the nursery's handlers directly rather
// than through the Observer's dispatch goroutine.
type fakeChainClient struct {
	tipHeight int32
	prevTxs   map[chainhash.Hash]*wire.MsgTx
	sendErr   error
	sent      []*wire.MsgTx
}

func newFakeChainClient(tipHeight int32) *fakeChainClient {
	return &fakeChainClient{
		tipHeight: tipHeight,
		prevTxs:   make(map[chainhash.Hash]*wire.MsgTx),
	}
}

func (f *fakeChainClient) BlockchainInfo(context.Context) (int32, *chainhash.Hash, error) {
	return f.tipHeight, nil, nil
}
func (f *fakeChainClient) Block(context.Context, *chainhash.Hash) (*wire.MsgBlock, error) {
	return nil, nil
}
func (f *fakeChainClient) BlockHash(context.Context, int32) (*chainhash.Hash, error) {
	return nil, nil
}
func (f *fakeChainClient) Transaction(_ context.Context, txid *chainhash.Hash) (*wire.MsgTx, error) {
	tx, ok := f.prevTxs[*txid]
	if !ok {
		return nil, fmt.Errorf("no such prevout %s", txid)
	}
	return tx, nil
}
func (f *fakeChainClient) SendRawTransaction(_ context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, tx)
	h := tx.TxHash()
	return &h, nil
}
func (f *fakeChainClient) EstimateFee(context.Context, uint32) (btcutil.Amount, error) {
	return 10, nil
}
func (f *fakeChainClient) Capabilities() chain.Capabilities { return chain.Capabilities{} }
func (f *fakeChainClient) Subscribe(context.Context) (*chain.Subscription, error) {
	return &chain.Subscription{
		RawTx:     make(chan *wire.MsgTx, 1),
		RawBlock:  make(chan *wire.MsgBlock, 1),
		HashBlock: make(chan *chainhash.Hash, 1),
		Err:       make(chan error, 1),
	}, nil
}

// addPrevout registers a fabricated previous transaction carrying value at
// vout, so transactionFeeRate can price a funding transaction spending it.
func (f *fakeChainClient) addPrevout(value btcutil.Amount) chainhash.Hash {
	prev := wire.NewMsgTx(2)
	prev.AddTxOut(&wire.TxOut{Value: int64(value), PkScript: []byte{0x00}})
	h := prev.TxHash()
	f.prevTxs[h] = prev
	return h
}

// fakeLightningClient is a minimal lightning.Client, modeled on
// lightning/adapter_test.go's fakeClient.
type fakeLightningClient struct {
	payPreimage [32]byte
	payErr      error

	settleErr error

	acceptedCh chan [32]byte
}

func newFakeLightningClient() *fakeLightningClient {
	return &fakeLightningClient{acceptedCh: make(chan [32]byte, 1)}
}

func (f *fakeLightningClient) PayInvoice(context.Context, string, uint64) ([32]byte, error) {
	return f.payPreimage, f.payErr
}
func (f *fakeLightningClient) AddHoldInvoice(context.Context, [32]byte, uint64, time.Duration, string) (string, error) {
	return "lnbc1...", nil
}
func (f *fakeLightningClient) SettleInvoice(context.Context, [32]byte) error { return f.settleErr }
func (f *fakeLightningClient) CancelInvoice(context.Context, [32]byte) error { return nil }
func (f *fakeLightningClient) SubscribeInvoiceAccepted(context.Context) (<-chan [32]byte, error) {
	return f.acceptedCh, nil
}

// fakeWallet is a deterministic walletrpc.Wallet: a single fixed claim key
// and a single fixed refund key, reused across every derivation call, so a
// redeem script built in a test against those same keys stays signable by
// whatever the nursery later derives for the same swap.
type fakeWallet struct {
	claimKey  *btcec.PrivateKey
	refundKey *btcec.PrivateKey
	payoutAddr btcutil.Address

	keyIndex uint32
	balance  btcutil.Amount

	sendErr error
}

func newFakeWallet(t *testing.T, params *chaincfg.Params) *fakeWallet {
	t.Helper()

	claimKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	refundKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	payoutAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(claimKey.PubKey().SerializeCompressed()), params)
	require.NoError(t, err)

	return &fakeWallet{
		claimKey:   claimKey,
		refundKey:  refundKey,
		payoutAddr: payoutAddr,
		balance:    btcutil.Amount(1_000_000_000),
	}
}

func (w *fakeWallet) NewAddress(context.Context) (btcutil.Address, error) {
	return w.payoutAddr, nil
}
func (w *fakeWallet) DeriveClaimKey(context.Context, uint32) (swap.Signer, *btcec.PublicKey, error) {
	return walletrpc.NewPrivateKeySigner(w.claimKey), w.claimKey.PubKey(), nil
}
func (w *fakeWallet) DeriveRefundKey(context.Context, uint32) (swap.Signer, *btcec.PublicKey, error) {
	return walletrpc.NewPrivateKeySigner(w.refundKey), w.refundKey.PubKey(), nil
}
func (w *fakeWallet) NextKeyIndex(context.Context) (uint32, error) {
	w.keyIndex++
	return w.keyIndex, nil
}
func (w *fakeWallet) SendToAddress(_ context.Context, _ string, _, _ btcutil.Amount, _ bool) (*chainhash.Hash, uint32, error) {
	if w.sendErr != nil {
		return nil, 0, w.sendErr
	}
	var h chainhash.Hash
	h[0] = 0xaa
	return &h, 0, nil
}
func (w *fakeWallet) GetBalance(context.Context) (btcutil.Amount, error) {
	return w.balance, nil
}

// unusedPubKey returns a syntactically valid pubkey for redeem script
// fields the test scenario doesn't otherwise exercise (e.g. a submarine
// swap's refund branch, which the claim-path tests never spend from).
func unusedPubKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key.PubKey()
}

// testHarness bundles a Nursery wired against fakes and a real bolt-backed
// repository pair, following this repository's swaprepo/bolt_test.go
// pattern for the storage layer and chain/observer_test.go /
// lightning/adapter_test.go for the collaborator fakes.
type testHarness struct {
	n       *Nursery
	chain   *fakeChainClient
	ln      *fakeLightningClient
	wallet  *fakeWallet
	swaps   swaprepo.SwapRepository
	reverse swaprepo.ReverseSwapRepository
	entry   *chain.Entry
	bus     *notification.Bus
	params  *chaincfg.Params
}

func newTestHarness(t *testing.T, tipHeight int32) *testHarness {
	t.Helper()

	params := &chaincfg.RegressionNetParams

	dbPath := filepath.Join(t.TempDir(), "nursery.db")
	db, err := walletdb.Create("bdb", dbPath, true, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	swaps, err := swaprepo.NewBoltSwapRepository(db)
	require.NoError(t, err)
	reverse, err := swaprepo.NewBoltReverseSwapRepository(db)
	require.NoError(t, err)

	chainClient := newFakeChainClient(tipHeight)
	entry := &chain.Entry{
		Code:     chain.BitcoinChain,
		Params:   params,
		Client:   chainClient,
		Observer: chain.NewObserver(chainClient),
	}

	registry := chain.NewRegistry()
	registry.Register(entry)

	lnClient := newFakeLightningClient()
	adapter := lightning.NewAdapter(lnClient)

	bus := notification.NewBus(nil)
	bus.Start()
	t.Cleanup(bus.Stop)

	wallet := newFakeWallet(t, params)

	n := New(Config{
		Chains:           registry,
		Lightning:        adapter,
		Swaps:            swaps,
		ReverseSwaps:     reverse,
		Bus:              bus,
		Oracle:           rate.NewStaticOracle(10),
		Wallet:           wallet,
		MinTimeoutBlocks: 2,
		ClaimConfTarget:  2,
		LockupConfTarget: 2,
	})

	return &testHarness{
		n: n, chain: chainClient, ln: lnClient, wallet: wallet,
		swaps: swaps, reverse: reverse, entry: entry, bus: bus, params: params,
	}
}

// newSubmarineSwap builds and persists a submarine swap whose redeem script
// commits to the harness's fake wallet's claim key, so claimSubmarine's own
// DeriveClaimKey call later produces a signature the script can verify.
func newSubmarineSwap(t *testing.T, h *testHarness, expectedAmount btcutil.Amount,
	timeoutBlockHeight uint32) (*swaprepo.Swap, [32]byte) {
	t.Helper()

	var preimage [32]byte
	preimage[0] = 0x42
	paymentHash := swap.SHA256PreimageHash(preimage)
	h.ln.payPreimage = preimage

	_, claimPubKey, err := h.wallet.DeriveClaimKey(context.Background(), 1)
	require.NoError(t, err)

	redeemScript, err := swap.SubmarineRedeemScript(swap.SubmarineScriptParams{
		PreimageHash160: swap.PreimageHash160FromPaymentHash(paymentHash),
		ClaimPubKey:     claimPubKey,
		RefundPubKey:    unusedPubKey(t),
		TimeoutHeight:   timeoutBlockHeight,
	})
	require.NoError(t, err)

	details, err := swap.LockupDetails(redeemScript, swap.Compatibility, h.params)
	require.NoError(t, err)

	s := &swaprepo.Swap{
		ID:                 "submarine-1",
		Pair:               rate.Pair("BTC/BTC"),
		OrderSide:          rate.OrderSideBuy,
		ChainSymbol:        swaprepo.ChainSymbol("BTC"),
		LightningCurrency:  swaprepo.LightningCurrency("BTC"),
		Invoice:            "lnbc1...",
		PreimageHash:       paymentHash,
		RedeemScript:       redeemScript,
		LockupAddress:      details.LockupAddress,
		OutputType:         details.OutputType,
		KeyIndex:           1,
		ExpectedAmount:     expectedAmount,
		AcceptZeroConf:     false,
		TimeoutBlockHeight: timeoutBlockHeight,
		Status:             swaprepo.StatusSwapCreated,
		MinerFee:           1000,
		CreatedAt:          time.Now(),
		CreatedHeight:      100,
	}
	require.NoError(t, h.swaps.Create(context.Background(), s))
	return s, preimage
}

func fundingTx(pkScript []byte, value btcutil.Amount) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxOut(&wire.TxOut{Value: int64(value), PkScript: pkScript})
	return tx
}

// TestNurserySubmarineFullAmountClaim drives a fully-funded submarine swap
// from lockup sighting through invoice payment to an on-chain claim.
func TestNurserySubmarineFullAmountClaim(t *testing.T) {
	h := newTestHarness(t, 100)

	s, _ := newSubmarineSwap(t, h, 100_000, 150)

	tx := fundingTx(mustPkScript(t, s.LockupAddress, h.params), s.ExpectedAmount)
	txHash := tx.TxHash()

	h.n.onSubmarineLockupSeen(context.Background(), h.entry, s.ID, txHash, 0, s.ExpectedAmount,
		chain.TransactionEvent{Tx: tx, Confirmed: true, Height: 101})

	require.Eventually(t, func() bool {
		got, err := h.swaps.GetByID(context.Background(), s.ID)
		return err == nil && got.Status == swaprepo.StatusTransactionClaimed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := h.swaps.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.ClaimTransactionID)
	require.Len(t, h.chain.sent, 1)
}

// TestNurserySubmarineUnderfundedExpires covers an underfunded lockup that
// is never topped up: the swap sits at SwapCreated until the timeout
// scheduler expires it.
func TestNurserySubmarineUnderfundedExpires(t *testing.T) {
	h := newTestHarness(t, 100)

	s, _ := newSubmarineSwap(t, h, 100_000, 150)

	tx := fundingTx(mustPkScript(t, s.LockupAddress, h.params), 50_000)
	txHash := tx.TxHash()

	h.n.onSubmarineLockupSeen(context.Background(), h.entry, s.ID, txHash, 0, 50_000,
		chain.TransactionEvent{Tx: tx, Confirmed: false, Height: 0})

	got, err := h.swaps.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, swaprepo.StatusSwapCreated, got.Status)

	h.n.checkTimeouts(context.Background(), chain.BitcoinChain, h.entry, 150)

	got, err = h.swaps.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, swaprepo.StatusSwapExpired, got.Status)
}

// TestNurseryAcceptsZeroConf exercises the amount-cap, RBF, and fee-rate
// floor rules acceptsZeroConf applies to a candidate funding transaction.
func TestNurseryAcceptsZeroConf(t *testing.T) {
	h := newTestHarness(t, 100)
	h.n.cfg.Oracle.(*rate.StaticOracle).SetQuote(rate.Pair("BTC/BTC"), rate.OrderSideBuy, rate.Quote{
		Rate: 1, ZeroConfMaxAmt: 100_000,
	})

	buildTx := func(sequence uint32, prevoutValue, outValue btcutil.Amount) *wire.MsgTx {
		prevHash := h.chain.addPrevout(prevoutValue)
		tx := wire.NewMsgTx(2)
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{Hash: prevHash, Index: 0},
			Sequence:         sequence,
		})
		tx.AddTxOut(&wire.TxOut{Value: int64(outValue), PkScript: []byte{0x00}})
		return tx
	}

	t.Run("accepts a final, adequately-fee-paying, under-cap transaction", func(t *testing.T) {
		tx := buildTx(wire.MaxTxInSequenceNum, 60_000, 50_000)
		ok, err := h.n.acceptsZeroConf(context.Background(), h.entry, true,
			rate.Pair("BTC/BTC"), rate.OrderSideBuy, 50_000, tx)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("rejects amounts over the cap", func(t *testing.T) {
		tx := buildTx(wire.MaxTxInSequenceNum, 160_000, 150_000)
		ok, err := h.n.acceptsZeroConf(context.Background(), h.entry, true,
			rate.Pair("BTC/BTC"), rate.OrderSideBuy, 150_000, tx)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("rejects RBF-signalling inputs", func(t *testing.T) {
		tx := buildTx(wire.MaxTxInSequenceNum-2, 60_000, 50_000)
		ok, err := h.n.acceptsZeroConf(context.Background(), h.entry, true,
			rate.Pair("BTC/BTC"), rate.OrderSideBuy, 50_000, tx)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("rejects when AcceptZeroConf is false", func(t *testing.T) {
		tx := buildTx(wire.MaxTxInSequenceNum, 60_000, 50_000)
		ok, err := h.n.acceptsZeroConf(context.Background(), h.entry, false,
			rate.Pair("BTC/BTC"), rate.OrderSideBuy, 50_000, tx)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

// TestNurseryReverseSwapSettlesOnConfirmationAndHTLCAccepted drives a
// reverse swap from a mempool lockup through confirmation and hold-invoice
// acceptance to settlement, whichever of the two arrives second.
func TestNurseryReverseSwapSettlesOnConfirmationAndHTLCAccepted(t *testing.T) {
	h := newTestHarness(t, 200)

	var preimage [32]byte
	preimage[0] = 0x7a
	paymentHash := swap.SHA256PreimageHash(preimage)

	_, refundPubKey, err := h.wallet.DeriveRefundKey(context.Background(), 2)
	require.NoError(t, err)

	redeemScript, err := swap.ReverseRedeemScript(swap.ReverseScriptParams{
		PreimageHash:  paymentHash,
		ClaimPubKey:   unusedPubKey(t),
		RefundPubKey:  refundPubKey,
		TimeoutHeight: 400,
	})
	require.NoError(t, err)

	details, err := swap.LockupDetails(redeemScript, swap.Compatibility, h.params)
	require.NoError(t, err)

	rs := &swaprepo.ReverseSwap{
		ID:                 "reverse-1",
		Pair:               rate.Pair("BTC/BTC"),
		OrderSide:          rate.OrderSideBuy,
		ChainSymbol:        swaprepo.ChainSymbol("BTC"),
		LightningCurrency:  swaprepo.LightningCurrency("BTC"),
		Invoice:            "lnbc1...",
		PreimageHash:       paymentHash,
		Preimage:           &preimage,
		RedeemScript:       redeemScript,
		LockupAddress:      details.LockupAddress,
		OutputType:         details.OutputType,
		ClaimPublicKey:     unusedPubKey(t).SerializeCompressed(),
		KeyIndex:           2,
		TimeoutBlockHeight: 400,
		Status:             swaprepo.StatusTransactionMempool,
		OnchainAmount:      90_000,
		InvoiceAmount:      100_000,
		MinerFee:           1000,
		CreatedAt:          time.Now(),
		CreatedHeight:      200,
	}
	require.NoError(t, h.reverse.Create(context.Background(), rs))

	tx := fundingTx(mustPkScript(t, rs.LockupAddress, h.params), rs.OnchainAmount)

	h.n.onReverseLockupSeen(context.Background(), h.entry, rs.ID, tx.TxHash(), 0, rs.OnchainAmount,
		chain.TransactionEvent{Tx: tx, Confirmed: true, Height: 201})

	got, err := h.reverse.GetByID(context.Background(), rs.ID)
	require.NoError(t, err)
	require.Equal(t, swaprepo.StatusTransactionConfirmed, got.Status)

	h.n.onReverseHTLCAccepted(context.Background(), rs.ID)

	got, err = h.reverse.GetByID(context.Background(), rs.ID)
	require.NoError(t, err)
	require.Equal(t, swaprepo.StatusInvoiceSettled, got.Status)
}

func mustPkScript(t *testing.T, address string, params *chaincfg.Params) []byte {
	t.Helper()
	addr, err := btcutil.DecodeAddress(address, params)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return script
}
