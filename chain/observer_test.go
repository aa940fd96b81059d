package chain

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	sub *Subscription
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		sub: &Subscription{
			RawTx:     make(chan *wire.MsgTx, 8),
			RawBlock:  make(chan *wire.MsgBlock, 8),
			HashBlock: make(chan *chainhash.Hash, 8),
			Err:       make(chan error, 1),
		},
	}
}

func (f *fakeClient) BlockchainInfo(context.Context) (int32, *chainhash.Hash, error) {
	return 0, nil, nil
}
func (f *fakeClient) Block(context.Context, *chainhash.Hash) (*wire.MsgBlock, error) {
	return nil, nil
}
func (f *fakeClient) BlockHash(context.Context, int32) (*chainhash.Hash, error) { return nil, nil }
func (f *fakeClient) Transaction(context.Context, *chainhash.Hash) (*wire.MsgTx, error) {
	return nil, nil
}
func (f *fakeClient) SendRawTransaction(context.Context, *wire.MsgTx) (*chainhash.Hash, error) {
	return nil, nil
}
func (f *fakeClient) EstimateFee(context.Context, uint32) (btcutil.Amount, error) { return 0, nil }
func (f *fakeClient) Capabilities() Capabilities                                 { return Capabilities{} }
func (f *fakeClient) Subscribe(context.Context) (*Subscription, error)           { return f.sub, nil }

func pkScriptFixture(b byte) []byte {
	return []byte{0x00, 0x14, b, b, b, b, b, b, b, b, b, b, b, b, b, b, b, b, b, b, b, b}
}

func TestObserverEmitsMempoolThenConfirmed(t *testing.T) {
	client := newFakeClient()
	observer := NewObserver(client)

	pkScript := pkScriptFixture(0xaa)
	observer.RegisterOutput(pkScript)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = observer.Start(ctx)
	}()

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(&wire.TxOut{Value: 50000, PkScript: pkScript})
	client.sub.RawTx <- tx

	select {
	case ev := <-observer.Transactions():
		require.False(t, ev.Confirmed)
		require.Equal(t, tx.TxHash(), ev.Tx.TxHash())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mempool event")
	}

	block := &wire.MsgBlock{
		Header:       wire.BlockHeader{},
		Transactions: []*wire.MsgTx{tx},
	}
	client.sub.RawBlock <- block

	select {
	case ev := <-observer.Transactions():
		require.True(t, ev.Confirmed)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for confirmed event")
	}

	select {
	case <-observer.Blocks():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for block event")
	}
}

func TestObserverIgnoresIrrelevantTransactions(t *testing.T) {
	client := newFakeClient()
	observer := NewObserver(client)
	observer.RegisterOutput(pkScriptFixture(0xaa))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = observer.Start(ctx)
	}()

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: pkScriptFixture(0xbb)})
	client.sub.RawTx <- tx

	select {
	case ev := <-observer.Transactions():
		t.Fatalf("unexpected event for irrelevant transaction: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestObserverMatchesBySpentInput(t *testing.T) {
	client := newFakeClient()
	observer := NewObserver(client)

	lockupHash := chainhash.Hash{1, 2, 3}
	outpoint := wire.OutPoint{Hash: lockupHash, Index: 0}
	observer.RegisterInput(outpoint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = observer.Start(ctx)
	}()

	claim := wire.NewMsgTx(2)
	claim.AddTxIn(&wire.TxIn{PreviousOutPoint: outpoint})
	claim.AddTxOut(&wire.TxOut{Value: 40000, PkScript: pkScriptFixture(0xcc)})

	client.sub.RawTx <- claim

	select {
	case ev := <-observer.Transactions():
		require.Equal(t, claim.TxHash(), ev.Tx.TxHash())
		require.False(t, ev.Confirmed)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for input-matched event")
	}
}
