package swaprepo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
)

// Bucket layout, modeled on channeldb's pattern of a primary bucket keyed by
// the entity's natural key plus secondary index buckets mapping an
// alternate lookup key back to the primary key. Generalized from
// channeldb's direct boltdb usage to the walletdb abstraction so the same
// code runs against any backend walletdb has a driver for.
var (
	swapBucket              = []byte("swaps")
	swapByInvoiceBucket     = []byte("swaps-by-invoice")
	swapByPreimageHashBucket = []byte("swaps-by-preimage-hash")
	swapByLockupAddrBucket  = []byte("swaps-by-lockup-address")

	reverseSwapBucket              = []byte("reverse-swaps")
	reverseSwapByInvoiceBucket     = []byte("reverse-swaps-by-invoice")
	reverseSwapByPreimageHashBucket = []byte("reverse-swaps-by-preimage-hash")
	reverseSwapByLockupAddrBucket  = []byte("reverse-swaps-by-lockup-address")
)

// BoltSwapRepository is a walletdb-backed SwapRepository, for single-process
// deployments that would rather not run Postgres.
type BoltSwapRepository struct {
	db walletdb.DB
}

// NewBoltSwapRepository wraps db, creating the top-level buckets if this is
// a fresh database.
func NewBoltSwapRepository(db walletdb.DB) (*BoltSwapRepository, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		for _, bucket := range [][]byte{
			swapBucket, swapByInvoiceBucket,
			swapByPreimageHashBucket, swapByLockupAddrBucket,
		} {
			if _, err := tx.CreateTopLevelBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &BoltSwapRepository{db: db}, nil
}

func (r *BoltSwapRepository) Create(_ context.Context, s *Swap) error {
	return walletdb.Update(r.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(swapBucket)

		if bucket.Get([]byte(s.ID)) != nil {
			return fmt.Errorf("swap %s already exists", s.ID)
		}

		raw, err := json.Marshal(s)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(s.ID), raw); err != nil {
			return err
		}

		if err := tx.ReadWriteBucket(swapByInvoiceBucket).Put(
			[]byte(s.Invoice), []byte(s.ID),
		); err != nil {
			return err
		}
		if err := tx.ReadWriteBucket(swapByPreimageHashBucket).Put(
			s.PreimageHash[:], []byte(s.ID),
		); err != nil {
			return err
		}
		return tx.ReadWriteBucket(swapByLockupAddrBucket).Put(
			[]byte(s.LockupAddress), []byte(s.ID),
		)
	})
}

func (r *BoltSwapRepository) GetByID(_ context.Context, id string) (*Swap, error) {
	var s Swap
	err := walletdb.View(r.db, func(tx walletdb.ReadTx) error {
		raw := tx.ReadBucket(swapBucket).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *BoltSwapRepository) getByIndex(indexBucket []byte, key []byte) (*Swap, error) {
	var s Swap
	err := walletdb.View(r.db, func(tx walletdb.ReadTx) error {
		id := tx.ReadBucket(indexBucket).Get(key)
		if id == nil {
			return ErrNotFound
		}
		raw := tx.ReadBucket(swapBucket).Get(id)
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *BoltSwapRepository) GetByInvoice(_ context.Context, invoice string) (*Swap, error) {
	return r.getByIndex(swapByInvoiceBucket, []byte(invoice))
}

func (r *BoltSwapRepository) GetByPreimageHash(_ context.Context, hash [32]byte) (*Swap, error) {
	return r.getByIndex(swapByPreimageHashBucket, hash[:])
}

func (r *BoltSwapRepository) GetByLockupAddress(_ context.Context, address string) (*Swap, error) {
	return r.getByIndex(swapByLockupAddrBucket, []byte(address))
}

func (r *BoltSwapRepository) GetPending(_ context.Context) ([]*Swap, error) {
	var pending []*Swap
	err := walletdb.View(r.db, func(tx walletdb.ReadTx) error {
		return tx.ReadBucket(swapBucket).ForEach(func(_, raw []byte) error {
			var s Swap
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			if !s.Status.Terminal() {
				pending = append(pending, &s)
			}
			return nil
		})
	})
	return pending, err
}

// ApplyTransition overwrites the stored swap with s's new status and side
// data. Since the full record is replaced with its own deep copy on every
// call, applying the same transition twice is naturally a no-op.
func (r *BoltSwapRepository) ApplyTransition(_ context.Context, s *Swap) error {
	return walletdb.Update(r.db, func(tx walletdb.ReadWriteTx) error {
		raw, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return tx.ReadWriteBucket(swapBucket).Put([]byte(s.ID), raw)
	})
}

// BoltReverseSwapRepository is the reverse-swap counterpart of
// BoltSwapRepository, same bucket-layout strategy.
type BoltReverseSwapRepository struct {
	db walletdb.DB
}

// NewBoltReverseSwapRepository wraps db, creating the top-level buckets if
// this is a fresh database.
func NewBoltReverseSwapRepository(db walletdb.DB) (*BoltReverseSwapRepository, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		for _, bucket := range [][]byte{
			reverseSwapBucket, reverseSwapByInvoiceBucket,
			reverseSwapByPreimageHashBucket, reverseSwapByLockupAddrBucket,
		} {
			if _, err := tx.CreateTopLevelBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &BoltReverseSwapRepository{db: db}, nil
}

func (r *BoltReverseSwapRepository) Create(_ context.Context, s *ReverseSwap) error {
	return walletdb.Update(r.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(reverseSwapBucket)

		if bucket.Get([]byte(s.ID)) != nil {
			return fmt.Errorf("reverse swap %s already exists", s.ID)
		}

		raw, err := json.Marshal(s)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(s.ID), raw); err != nil {
			return err
		}

		if err := tx.ReadWriteBucket(reverseSwapByInvoiceBucket).Put(
			[]byte(s.Invoice), []byte(s.ID),
		); err != nil {
			return err
		}
		if err := tx.ReadWriteBucket(reverseSwapByPreimageHashBucket).Put(
			s.PreimageHash[:], []byte(s.ID),
		); err != nil {
			return err
		}
		return tx.ReadWriteBucket(reverseSwapByLockupAddrBucket).Put(
			[]byte(s.LockupAddress), []byte(s.ID),
		)
	})
}

func (r *BoltReverseSwapRepository) GetByID(_ context.Context, id string) (*ReverseSwap, error) {
	var s ReverseSwap
	err := walletdb.View(r.db, func(tx walletdb.ReadTx) error {
		raw := tx.ReadBucket(reverseSwapBucket).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *BoltReverseSwapRepository) getByIndex(indexBucket []byte, key []byte) (*ReverseSwap, error) {
	var s ReverseSwap
	err := walletdb.View(r.db, func(tx walletdb.ReadTx) error {
		id := tx.ReadBucket(indexBucket).Get(key)
		if id == nil {
			return ErrNotFound
		}
		raw := tx.ReadBucket(reverseSwapBucket).Get(id)
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *BoltReverseSwapRepository) GetByInvoice(_ context.Context, invoice string) (*ReverseSwap, error) {
	return r.getByIndex(reverseSwapByInvoiceBucket, []byte(invoice))
}

func (r *BoltReverseSwapRepository) GetByPreimageHash(_ context.Context, hash [32]byte) (*ReverseSwap, error) {
	return r.getByIndex(reverseSwapByPreimageHashBucket, hash[:])
}

func (r *BoltReverseSwapRepository) GetByLockupAddress(_ context.Context, address string) (*ReverseSwap, error) {
	return r.getByIndex(reverseSwapByLockupAddrBucket, []byte(address))
}

func (r *BoltReverseSwapRepository) GetPending(_ context.Context) ([]*ReverseSwap, error) {
	var pending []*ReverseSwap
	err := walletdb.View(r.db, func(tx walletdb.ReadTx) error {
		return tx.ReadBucket(reverseSwapBucket).ForEach(func(_, raw []byte) error {
			var s ReverseSwap
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			if !s.Status.Terminal() {
				pending = append(pending, &s)
			}
			return nil
		})
	})
	return pending, err
}

func (r *BoltReverseSwapRepository) ApplyTransition(_ context.Context, s *ReverseSwap) error {
	return walletdb.Update(r.db, func(tx walletdb.ReadWriteTx) error {
		raw, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return tx.ReadWriteBucket(reverseSwapBucket).Put([]byte(s.ID), raw)
	})
}
