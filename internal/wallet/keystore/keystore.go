// Package keystore implements wallet.Extension with a locally stored,
// password-encrypted Stellar secret seed.
package keystore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/renameio"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"carbon-x/marketplace/marketplace-backend/internal/wallet"
)

const (
	scryptN       = 1 << 15
	scryptR       = 8
	scryptP       = 1
	keyLength     = 32
	saltLength    = 16
	nonceLength   = 24
	formatVersion = 1
)

var (
	ErrWrongPassword = errors.New("keystore: wrong password or corrupted file")
	ErrEmptyPassword = errors.New("keystore: password must not be empty")
)

// File is the on-disk representation.
type File struct {
	Version    int       `json:"version"`
	Address    string    `json:"address"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
	N          int       `json:"n"`
	R          int       `json:"r"`
	P          int       `json:"p"`
	CreatedAt  time.Time `json:"created_at"`
}

// Keystore signs with the decrypted keypair. It is always "installed" and
// always "allowed".
type Keystore struct {
	kp *keypair.Full
}

var _ wallet.Extension = (*Keystore)(nil)

func deriveKey(password string, salt []byte, n, r, p int) (*[keyLength]byte, error) {
	raw, err := scrypt.Key([]byte(password), salt, n, r, p, keyLength)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [keyLength]byte
	copy(key[:], raw)
	return &key, nil
}

// Seal encrypts seed under password.
func Seal(seed, password string) (*File, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	kp, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	key, err := deriveKey(password, salt, scryptN, scryptR, scryptP)
	if err != nil {
		return nil, err
	}

	return &File{
		Version:    formatVersion,
		Address:    kp.Address(),
		Salt:       salt,
		Nonce:      nonce[:],
		Ciphertext: secretbox.Seal(nil, []byte(kp.Seed()), &nonce, key),
		N:          scryptN,
		R:          scryptR,
		P:          scryptP,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Unseal decrypts f.
func Unseal(f *File, password string) (*Keystore, error) {
	if len(f.Nonce) != nonceLength {
		return nil, ErrWrongPassword
	}
	key, err := deriveKey(password, f.Salt, f.N, f.R, f.P)
	if err != nil {
		return nil, err
	}

	var nonce [nonceLength]byte
	copy(nonce[:], f.Nonce)
	seed, ok := secretbox.Open(nil, f.Ciphertext, &nonce, key)
	if !ok {
		return nil, ErrWrongPassword
	}

	kp, err := keypair.ParseFull(string(seed))
	if err != nil {
		return nil, fmt.Errorf("parse stored seed: %w", err)
	}
	if kp.Address() != f.Address {
		return nil, ErrWrongPassword
	}
	return &Keystore{kp: kp}, nil
}

// Create seals seed and writes it to path atomically.
func Create(path, seed, password string) (*File, error) {
	f, err := Seal(seed, password)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal keystore: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write keystore: %w", err)
	}
	return f, nil
}

// Read loads a keystore file without decrypting it.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	return &f, nil
}

// Open reads and decrypts the keystore at path.
func Open(path, password string) (*Keystore, error) {
	f, err := Read(path)
	if err != nil {
		return nil, err
	}
	return Unseal(f, password)
}

// Address returns the account the keystore signs for.
func (k *Keystore) Address() string {
	return k.kp.Address()
}

func (k *Keystore) IsConnected(ctx context.Context) (bool, error) { return true, nil }

func (k *Keystore) IsAllowed(ctx context.Context) (bool, error) { return true, nil }

func (k *Keystore) RequestAccess(ctx context.Context) (string, error) {
	return k.kp.Address(), nil
}

func (k *Keystore) GetPublicKey(ctx context.Context) (string, error) {
	return k.kp.Address(), nil
}

// SignTransaction adds a signature to a base64 envelope. Requests for any
// account other than the stored one are rejected.
func (k *Keystore) SignTransaction(ctx context.Context, xdr string, opts wallet.SignOptions) (string, error) {
	if opts.AccountToSign != "" && opts.AccountToSign != k.kp.Address() {
		return "", fmt.Errorf("keystore: signing request rejected for account %s", opts.AccountToSign)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	generic, err := txnbuild.TransactionFromXDR(xdr)
	if err != nil {
		return "", fmt.Errorf("parse envelope: %w", err)
	}
	tx, ok := generic.Transaction()
	if !ok {
		return "", fmt.Errorf("keystore: fee bump envelopes are not supported")
	}

	tx, err = tx.Sign(opts.NetworkPassphrase, k.kp)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	signed, err := tx.Base64()
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return signed, nil
}
