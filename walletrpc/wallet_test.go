package walletrpc

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestPrivateKeySignerProducesVerifiableSignature(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	signer := NewPrivateKeySigner(priv)

	hash := sha256.Sum256([]byte("claim transaction sighash"))
	sig, err := signer.Sign(hash[:])
	require.NoError(t, err)

	require.True(t, sig.Verify(hash[:], signer.PubKey()))
	require.Equal(t, priv.PubKey(), signer.PubKey())
}
