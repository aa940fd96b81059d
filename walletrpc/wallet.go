package walletrpc

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/boltz-exchange/boltzd/swap"
)

// Wallet is the narrow interface the nursery consumes for key derivation
// and payout addresses, generalized from lnd's
// lnwallet.WalletController (`NewAddress`, key derivation off a single
// rotating account) down to what an HTLC refund/claim flow needs: a payout
// address and per-swap claim and refund keys, never a full channel-funding
// wallet.
type Wallet interface {
	// NewAddress returns a fresh wallet-owned address to receive a
	// claim or refund payout.
	NewAddress(ctx context.Context) (btcutil.Address, error)

	// DeriveClaimKey returns the service's claim keypair for a submarine
	// swap at keyIndex -- the key whose pubkey goes into the redeem
	// script's claim branch.
	DeriveClaimKey(ctx context.Context, keyIndex uint32) (swap.Signer, *btcec.PublicKey, error)

	// DeriveRefundKey returns the service's refund keypair for a
	// reverse swap at keyIndex -- the key whose pubkey goes into the
	// redeem script's refund branch.
	DeriveRefundKey(ctx context.Context, keyIndex uint32) (swap.Signer, *btcec.PublicKey, error)

	// NextKeyIndex allocates and returns the next unused derivation
	// index for a new swap's refund/claim key.
	NextKeyIndex(ctx context.Context) (uint32, error)

	// SendToAddress broadcasts a new transaction from the wallet's own
	// funds, paying amount to address at feeRate sat/vB. It is how a
	// reverse swap's lockup output gets funded. sendAll, when true,
	// ignores amount and sweeps the wallet's entire spendable balance.
	SendToAddress(ctx context.Context, address string, amount btcutil.Amount,
		feeRate btcutil.Amount, sendAll bool) (txid *chainhash.Hash, vout uint32, err error)

	// GetBalance returns the wallet's current spendable balance, used to
	// reject a reverse swap the service can't fund before committing to
	// a hold invoice.
	GetBalance(ctx context.Context) (btcutil.Amount, error)
}

// PrivateKeySigner adapts a *btcec.PrivateKey to swap.Signer, the way
// lnd's mockSigner in lnwallet's tests wraps a raw key for
// SignOutputRaw -- except here it's the production implementation, not a
// test double, since this system's wallet derives raw keys rather than
// delegating to a remote signer.
type PrivateKeySigner struct {
	key *btcec.PrivateKey
}

// NewPrivateKeySigner wraps key as a swap.Signer.
func NewPrivateKeySigner(key *btcec.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{key: key}
}

func (s *PrivateKeySigner) Sign(hash []byte) (*ecdsa.Signature, error) {
	return ecdsa.Sign(s.key, hash), nil
}

func (s *PrivateKeySigner) PubKey() *btcec.PublicKey {
	return s.key.PubKey()
}
