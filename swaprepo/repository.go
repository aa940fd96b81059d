package swaprepo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by the read methods when no entity matches.
var ErrNotFound = errors.New("swaprepo: not found")

// SwapRepository persists submarine swaps. Every write is atomic: a
// transition applies the new status together with any side data (lockup
// txid, miner fee, and so on) in a single store-level transaction, and is
// idempotent on (id, targetStatus) -- applying the same transition twice is
// a no-op rather than an error, since the nursery's recovery path may
// replay a transition it already persisted before a crash.
type SwapRepository interface {
	Create(ctx context.Context, s *Swap) error

	GetByID(ctx context.Context, id string) (*Swap, error)
	GetByInvoice(ctx context.Context, invoice string) (*Swap, error)
	GetByPreimageHash(ctx context.Context, hash [32]byte) (*Swap, error)
	GetByLockupAddress(ctx context.Context, address string) (*Swap, error)
	GetPending(ctx context.Context) ([]*Swap, error)

	// ApplyTransition persists s's new Status and any side-data fields
	// atomically. Applying the same (id, status) pair twice must be a
	// no-op, not an error.
	ApplyTransition(ctx context.Context, s *Swap) error
}

// ReverseSwapRepository is SwapRepository's counterpart for reverse
// submarine swaps.
type ReverseSwapRepository interface {
	Create(ctx context.Context, s *ReverseSwap) error

	GetByID(ctx context.Context, id string) (*ReverseSwap, error)
	GetByInvoice(ctx context.Context, invoice string) (*ReverseSwap, error)
	GetByPreimageHash(ctx context.Context, hash [32]byte) (*ReverseSwap, error)
	GetByLockupAddress(ctx context.Context, address string) (*ReverseSwap, error)
	GetPending(ctx context.Context) ([]*ReverseSwap, error)

	ApplyTransition(ctx context.Context, s *ReverseSwap) error
}
