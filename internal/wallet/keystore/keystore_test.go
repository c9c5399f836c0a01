package keystore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-x/marketplace/marketplace-backend/internal/wallet"
)

func unsignedPayment(t *testing.T, source, destination string) string {
	t.Helper()
	account := txnbuild.NewSimpleAccount(source, 100)
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		BaseFee:              100000,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(30)},
		Operations: []txnbuild.Operation{&txnbuild.Payment{
			Destination: destination,
			Amount:      "4.8",
			Asset:       txnbuild.NativeAsset{},
		}},
	})
	require.NoError(t, err)
	envelope, err := tx.Base64()
	require.NoError(t, err)
	return envelope
}

func TestCreateAndOpen(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "wallet.json")

	f, err := Create(path, kp.Seed(), "correct horse")
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), f.Address)

	_, err = Open(path, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)

	ks, err := Open(path, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), ks.Address())

	address, err := ks.RequestAccess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), address)
}

func TestSealRejectsBadInput(t *testing.T) {
	_, err := Seal("SNOTASEED", "pw")
	assert.Error(t, err)

	kp, err := keypair.Random()
	require.NoError(t, err)
	_, err = Seal(kp.Seed(), "")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestSignTransaction(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)
	seller, err := keypair.Random()
	require.NoError(t, err)

	f, err := Seal(kp.Seed(), "pw")
	require.NoError(t, err)
	ks, err := Unseal(f, "pw")
	require.NoError(t, err)

	envelope := unsignedPayment(t, kp.Address(), seller.Address())
	signed, err := ks.SignTransaction(context.Background(), envelope, wallet.SignOptions{
		NetworkPassphrase: network.TestNetworkPassphrase,
		AccountToSign:     kp.Address(),
	})
	require.NoError(t, err)

	generic, err := txnbuild.TransactionFromXDR(signed)
	require.NoError(t, err)
	tx, ok := generic.Transaction()
	require.True(t, ok)
	assert.Len(t, tx.Signatures(), 1)
}

func TestSignTransactionRejectsOtherAccount(t *testing.T) {
	kp, err := keypair.Random()
	require.NoError(t, err)
	other, err := keypair.Random()
	require.NoError(t, err)

	f, err := Seal(kp.Seed(), "pw")
	require.NoError(t, err)
	ks, err := Unseal(f, "pw")
	require.NoError(t, err)

	_, err = ks.SignTransaction(context.Background(), "AAAA", wallet.SignOptions{AccountToSign: other.Address()})
	require.Error(t, err)
	assert.Equal(t, wallet.KindDeclined, wallet.Classify(err))
}
