// Package ledger builds, signs and submits credit payments on the Stellar
// network.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/amount"
	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"
)

const (
	// BaseFee is the per-operation fee in stroops.
	BaseFee = 100000
	// TxTimeoutSeconds bounds how long a built transaction stays valid.
	TxTimeoutSeconds = 30
	// StroopsPerLumen is the number of stroops in one XLM.
	StroopsPerLumen = 10_000_000
)

var (
	ErrInvalidAddress = errors.New("ledger: invalid account address")
	ErrInvalidAmount  = errors.New("ledger: payment amount must be positive")
)

// Horizon is the subset of horizonclient.ClientInterface the ledger uses.
type Horizon interface {
	AccountDetail(request horizonclient.AccountRequest) (hProtocol.Account, error)
	SubmitTransaction(transaction *txnbuild.Transaction) (hProtocol.Transaction, error)
	TransactionDetail(txHash string) (hProtocol.Transaction, error)
}

// Signer turns an unsigned base64 envelope into a signed one.
type Signer interface {
	SignTransaction(ctx context.Context, xdr, networkPassphrase string) (string, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, xdr, networkPassphrase string) (string, error)

func (f SignerFunc) SignTransaction(ctx context.Context, xdr, networkPassphrase string) (string, error) {
	return f(ctx, xdr, networkPassphrase)
}

// Config contains Stellar network configuration
type Config struct {
	HorizonURL        string
	NetworkPassphrase string
	ContractID        string
}

// PaymentReceipt describes an accepted payment submission.
type PaymentReceipt struct {
	Hash        string    `json:"hash"`
	Ledger      int32     `json:"ledger"`
	CreditID    uint64    `json:"credit_id"`
	Amount      string    `json:"amount"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	ContractID  string    `json:"contract_id,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Status of a submitted transaction as seen by Horizon.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// TransactionStatus is the result of a status lookup.
type TransactionStatus struct {
	Hash       string    `json:"hash"`
	Status     Status    `json:"status"`
	Successful bool      `json:"successful"`
	Ledger     int32     `json:"ledger,omitempty"`
	ResultXDR  string    `json:"result_xdr,omitempty"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
}

// Client handles interactions with the Stellar network
type Client struct {
	horizon           Horizon
	networkPassphrase string
	contractID        string
	logger            *zap.Logger
}

// NewClient creates a client against cfg.HorizonURL.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	hc := &horizonclient.Client{HorizonURL: cfg.HorizonURL}
	return NewClientWithHorizon(hc, cfg, logger)
}

// NewClientWithHorizon creates a client over an existing Horizon client.
func NewClientWithHorizon(h Horizon, cfg Config, logger *zap.Logger) *Client {
	return &Client{
		horizon:           h,
		networkPassphrase: cfg.NetworkPassphrase,
		contractID:        cfg.ContractID,
		logger:            logger,
	}
}

// NetworkPassphrase returns the passphrase transactions are signed for.
func (c *Client) NetworkPassphrase() string {
	return c.networkPassphrase
}

// ToStroops converts an XLM amount to stroops, truncating below 7 decimals.
func ToStroops(xlm decimal.Decimal) int64 {
	return xlm.Shift(7).Truncate(0).IntPart()
}

// BuyCredit pays price XLM from buyer to seller for creditID. The signer is
// asked to sign for buyer. Success means Horizon accepted the submission;
// the credit transfer itself is not verified on chain.
func (c *Client) BuyCredit(ctx context.Context, buyer, seller string, creditID uint64, price decimal.Decimal, signer Signer) (*PaymentReceipt, error) {
	if !strkey.IsValidEd25519PublicKey(buyer) {
		return nil, fmt.Errorf("buyer %q: %w", buyer, ErrInvalidAddress)
	}
	if !strkey.IsValidEd25519PublicKey(seller) {
		return nil, fmt.Errorf("seller %q: %w", seller, ErrInvalidAddress)
	}
	stroops := ToStroops(price)
	if stroops <= 0 {
		return nil, ErrInvalidAmount
	}
	paymentAmount := amount.StringFromInt64(stroops)

	account, err := c.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: buyer})
	if err != nil {
		return nil, fmt.Errorf("load buyer account: %w", describe(err))
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		BaseFee:              BaseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(TxTimeoutSeconds),
		},
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: seller,
				Amount:      paymentAmount,
				Asset:       txnbuild.NativeAsset{},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	unsigned, err := tx.Base64()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	signedXDR, err := signer.SignTransaction(ctx, unsigned, c.networkPassphrase)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	generic, err := txnbuild.TransactionFromXDR(signedXDR)
	if err != nil {
		return nil, fmt.Errorf("parse signed transaction: %w", err)
	}
	signed, ok := generic.Transaction()
	if !ok {
		return nil, fmt.Errorf("parse signed transaction: unexpected fee bump envelope")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	submittedAt := time.Now().UTC()
	resp, err := c.horizon.SubmitTransaction(signed)
	if err != nil {
		c.logger.Error("Payment submission failed",
			zap.Uint64("credit_id", creditID),
			zap.String("buyer", buyer),
			zap.Error(err))
		return nil, fmt.Errorf("submit transaction: %w", describe(err))
	}
	if !resp.Successful {
		return nil, fmt.Errorf("transaction %s failed: %s", resp.Hash, resp.ResultXdr)
	}

	c.logger.Info("Payment submitted",
		zap.Uint64("credit_id", creditID),
		zap.String("hash", resp.Hash),
		zap.Int32("ledger", resp.Ledger),
		zap.String("amount", paymentAmount))

	return &PaymentReceipt{
		Hash:        resp.Hash,
		Ledger:      resp.Ledger,
		CreditID:    creditID,
		Amount:      paymentAmount,
		From:        buyer,
		To:          seller,
		ContractID:  c.contractID,
		SubmittedAt: submittedAt,
	}, nil
}

// TransactionStatus looks up hash. A hash Horizon does not know yet is
// reported as pending.
func (c *Client) TransactionStatus(ctx context.Context, hash string) (*TransactionStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := c.horizon.TransactionDetail(hash)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return &TransactionStatus{Hash: hash, Status: StatusPending}, nil
		}
		return nil, fmt.Errorf("get transaction %s: %w", hash, describe(err))
	}

	status := &TransactionStatus{
		Hash:       tx.Hash,
		Successful: tx.Successful,
		Ledger:     tx.Ledger,
		ResultXDR:  tx.ResultXdr,
		ClosedAt:   tx.LedgerCloseTime,
		Status:     StatusConfirmed,
	}
	if !tx.Successful {
		status.Status = StatusFailed
	}
	return status, nil
}

// describe appends Horizon result codes to err when they are available.
func describe(err error) error {
	herr := horizonclient.GetError(err)
	if herr == nil {
		return err
	}
	codes, cerr := herr.ResultCodes()
	if cerr != nil || codes == nil {
		return err
	}

	parts := []string{codes.TransactionCode}
	parts = append(parts, codes.OperationCodes...)
	return fmt.Errorf("%w (%s)", err, strings.Join(parts, ", "))
}
