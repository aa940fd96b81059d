package swaprepo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/stretchr/testify/require"

	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
)

func openTestDB(t *testing.T) walletdb.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "swaps.db")
	db, err := walletdb.Create("bdb", path, true, time.Second)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func TestBoltSwapRepositoryCreateAndLookup(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewBoltSwapRepository(db)
	require.NoError(t, err)

	s := &Swap{
		ID:            "abcdef0123456789",
		Invoice:       "lnbc1...",
		PreimageHash:  [32]byte{1, 2, 3},
		LockupAddress: "bc1qexampleaddress",
		Status:        StatusSwapCreated,
		CreatedAt:     time.Unix(0, 0),
	}
	require.NoError(t, repo.Create(context.Background(), s))

	byID, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, s.Invoice, byID.Invoice)

	byInvoice, err := repo.GetByInvoice(context.Background(), s.Invoice)
	require.NoError(t, err)
	require.Equal(t, s.ID, byInvoice.ID)

	byHash, err := repo.GetByPreimageHash(context.Background(), s.PreimageHash)
	require.NoError(t, err)
	require.Equal(t, s.ID, byHash.ID)

	byAddr, err := repo.GetByLockupAddress(context.Background(), s.LockupAddress)
	require.NoError(t, err)
	require.Equal(t, s.ID, byAddr.ID)
}

func TestBoltSwapRepositoryRejectsDuplicateID(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewBoltSwapRepository(db)
	require.NoError(t, err)

	s := &Swap{ID: "dup", Invoice: "lnbc1...", LockupAddress: "addr1"}
	require.NoError(t, repo.Create(context.Background(), s))

	err = repo.Create(context.Background(), &Swap{ID: "dup", Invoice: "lnbc2...", LockupAddress: "addr2"})
	require.Error(t, err)
}

func TestBoltSwapRepositoryGetPendingExcludesTerminal(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewBoltSwapRepository(db)
	require.NoError(t, err)

	live := &Swap{ID: "live", Status: StatusTransactionMempool, Invoice: "a", LockupAddress: "addrA"}
	done := &Swap{ID: "done", Status: StatusTransactionClaimed, Invoice: "b", LockupAddress: "addrB"}
	require.NoError(t, repo.Create(context.Background(), live))
	require.NoError(t, repo.Create(context.Background(), done))

	pending, err := repo.GetPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "live", pending[0].ID)
}

func TestBoltSwapRepositoryApplyTransitionIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	repo, err := NewBoltSwapRepository(db)
	require.NoError(t, err)

	s := &Swap{ID: "s1", Status: StatusSwapCreated, Invoice: "a", LockupAddress: "addr"}
	require.NoError(t, repo.Create(context.Background(), s))

	s.Status = StatusTransactionMempool
	require.NoError(t, repo.ApplyTransition(context.Background(), s))
	require.NoError(t, repo.ApplyTransition(context.Background(), s))

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, StatusTransactionMempool, got.Status)
}
