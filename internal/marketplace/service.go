// Package marketplace runs the user actions of the Carbon-X marketplace:
// listing, buying and retiring credits plus registry management.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/certificates"
	"carbon-x/marketplace/marketplace-backend/internal/credits"
	"carbon-x/marketplace/marketplace-backend/internal/events"
	"carbon-x/marketplace/marketplace-backend/internal/ledger"
	"carbon-x/marketplace/marketplace-backend/internal/ledger/confirmation"
	"carbon-x/marketplace/marketplace-backend/internal/reports/export"
	"carbon-x/marketplace/marketplace-backend/internal/transactions"
	"carbon-x/marketplace/marketplace-backend/internal/wallet"
)

var (
	ErrPriceUnavailable  = errors.New("marketplace: price not available")
	ErrSellerUnavailable = errors.New("marketplace: seller address not available")
	ErrStateNotUpdated   = errors.New("marketplace: payment submitted but local state was not updated")
)

// Ledger submits credit payments.
type Ledger interface {
	BuyCredit(ctx context.Context, buyer, seller string, creditID uint64, price decimal.Decimal, signer ledger.Signer) (*ledger.PaymentReceipt, error)
}

// Receipts tracks submitted payments until the ledger confirms them.
type Receipts interface {
	Track(ctx context.Context, p ledger.PaymentReceipt) (confirmation.Receipt, error)
	Receipts() []confirmation.Receipt
}

// Certificates issues retirement documents.
type Certificates interface {
	Issue(ctx context.Context, credit credits.Credit, retiredBy string, at time.Time) (certificates.Certificate, error)
	Open(ctx context.Context, creditID uint64) (certificates.Certificate, io.ReadCloser, error)
}

// PurchaseError is a failed payment, classified for display.
type PurchaseError struct {
	Kind    wallet.ErrorKind
	Message string
	Err     error
}

func (e *PurchaseError) Error() string {
	return fmt.Sprintf("purchase failed (%s): %v", e.Kind, e.Err)
}

func (e *PurchaseError) Unwrap() error {
	return e.Err
}

// PurchaseResult is returned by Buy.
type PurchaseResult struct {
	Credit      credits.Credit         `json:"credit"`
	Transaction transactions.Record    `json:"transaction"`
	Receipt     *ledger.PaymentReceipt `json:"receipt"`
}

// RetireResult is returned by Retire. Certificate is nil when none could be
// issued.
type RetireResult struct {
	Credit      credits.Credit            `json:"credit"`
	Transaction transactions.Record       `json:"transaction"`
	Certificate *certificates.Certificate `json:"certificate,omitempty"`
}

// ListResult is returned by ListForSale.
type ListResult struct {
	Credit      credits.Credit      `json:"credit"`
	Transaction transactions.Record `json:"transaction"`
}

// Service coordinates the stores with the wallet and the ledger.
type Service struct {
	wallet       *wallet.Wallet
	credits      *credits.Store
	transactions *transactions.Log
	ledger       Ledger
	receipts     Receipts
	certificates Certificates
	publisher    events.Publisher
	logger       *zap.Logger
	now          func() time.Time
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Receipts     Receipts
	Certificates Certificates
	Publisher    events.Publisher
}

// NewService creates a marketplace service.
func NewService(
	w *wallet.Wallet,
	store *credits.Store,
	log *transactions.Log,
	l Ledger,
	opts Options,
	logger *zap.Logger,
) *Service {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &Service{
		wallet:       w,
		credits:      store,
		transactions: log,
		ledger:       l,
		receipts:     opts.Receipts,
		certificates: opts.Certificates,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *Service) connectedAddress() (string, error) {
	address := s.wallet.Address()
	if address == "" {
		return "", wallet.ErrNotConnected
	}
	return address, nil
}

func (s *Service) record(ctx context.Context, r transactions.Record) (transactions.Record, error) {
	stored, err := s.transactions.Add(ctx, r)
	if err != nil {
		return transactions.Record{}, err
	}
	if err := s.publisher.Publish(ctx, events.FromRecord(stored)); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("transaction_id", stored.ID), zap.Error(err))
	}
	return stored, nil
}

// ListForSale lists one of the connected user's credits at price XLM.
func (s *Service) ListForSale(ctx context.Context, creditID uint64, price decimal.Decimal) (*ListResult, error) {
	address, err := s.connectedAddress()
	if err != nil {
		return nil, err
	}

	credit, err := s.credits.ListForSale(ctx, creditID, price, address)
	if err != nil {
		return nil, err
	}

	tx, err := s.record(ctx, transactions.Record{
		Type:      transactions.KindListing,
		CreditID:  credit.ID,
		ProjectID: credit.ProjectID,
		Amount:    credits.FormatXLM(price),
		From:      address,
	})
	if err != nil {
		return nil, err
	}

	return &ListResult{Credit: credit, Transaction: tx}, nil
}

// Retire permanently retires a credit and issues its certificate.
func (s *Service) Retire(ctx context.Context, creditID uint64) (*RetireResult, error) {
	address, err := s.connectedAddress()
	if err != nil {
		return nil, err
	}

	credit, err := s.credits.Retire(ctx, creditID)
	if err != nil {
		return nil, err
	}

	tx, err := s.record(ctx, transactions.Record{
		Type:      transactions.KindRetirement,
		CreditID:  credit.ID,
		ProjectID: credit.ProjectID,
		From:      address,
	})
	if err != nil {
		return nil, err
	}

	result := &RetireResult{Credit: credit, Transaction: tx}
	if s.certificates != nil {
		cert, err := s.certificates.Issue(ctx, credit, address, tx.Timestamp)
		if err != nil {
			s.logger.Error("Failed to issue retirement certificate", zap.Uint64("credit_id", credit.ID), zap.Error(err))
		} else {
			result.Certificate = &cert
		}
	}
	return result, nil
}

// Buy pays the listing owner from the connected wallet and, once the ledger
// accepts the payment, moves the credit into the user's holdings. Payment
// failures leave local state untouched and come back as *PurchaseError.
func (s *Service) Buy(ctx context.Context, creditID uint64) (*PurchaseResult, error) {
	address, err := s.connectedAddress()
	if err != nil {
		return nil, &PurchaseError{
			Kind:    wallet.KindNotConnected,
			Message: wallet.UserMessage(wallet.KindNotConnected, wallet.OpPurchase),
			Err:     err,
		}
	}

	listing, err := s.credits.Listing(creditID)
	if err != nil {
		return nil, err
	}
	if listing.Price == nil {
		return nil, ErrPriceUnavailable
	}
	if listing.Owner == "" {
		return nil, ErrSellerUnavailable
	}

	signer := ledger.SignerFunc(s.wallet.SignTransaction)
	receipt, err := s.ledger.BuyCredit(ctx, address, listing.Owner, listing.ID, *listing.Price, signer)
	if err != nil {
		kind := wallet.Classify(err)
		s.logger.Error("Purchase failed",
			zap.Uint64("credit_id", creditID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, &PurchaseError{Kind: kind, Message: wallet.UserMessage(kind, wallet.OpPurchase), Err: err}
	}

	credit, err := s.credits.Purchase(ctx, creditID, address)
	if err != nil {
		s.logger.Error("Payment accepted but purchase not recorded",
			zap.Uint64("credit_id", creditID),
			zap.String("hash", receipt.Hash),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrStateNotUpdated, receipt.Hash, err)
	}

	tx, err := s.record(ctx, transactions.Record{
		Type:      transactions.KindPurchase,
		CreditID:  credit.ID,
		ProjectID: credit.ProjectID,
		Amount:    listing.PriceLabel(),
		From:      address,
		To:        listing.Owner,
		TxHash:    receipt.Hash,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStateNotUpdated, receipt.Hash, err)
	}

	if s.receipts != nil {
		if _, err := s.receipts.Track(ctx, *receipt); err != nil {
			s.logger.Warn("Failed to track receipt", zap.String("hash", receipt.Hash), zap.Error(err))
		}
	}

	return &PurchaseResult{Credit: credit, Transaction: tx, Receipt: receipt}, nil
}

// Register adds a new unverified batch owned by the connected wallet.
func (s *Service) Register(ctx context.Context, req credits.RegisterRequest) (credits.Credit, error) {
	address, err := s.connectedAddress()
	if err != nil {
		return credits.Credit{}, err
	}
	return s.credits.Register(ctx, req, address)
}

// Verify marks a registered credit as verified.
func (s *Service) Verify(ctx context.Context, creditID uint64) (credits.Credit, error) {
	return s.credits.Verify(ctx, creditID)
}

func (s *Service) Credits() []credits.Credit {
	return s.credits.UserCredits()
}

func (s *Service) Marketplace(f credits.Filter) []credits.Credit {
	return s.credits.Marketplace(f)
}

func (s *Service) Stats() credits.Stats {
	return s.credits.Stats()
}

// Transactions returns the history, optionally narrowed to one kind.
func (s *Service) Transactions(kind transactions.Kind) ([]transactions.Record, error) {
	if kind == "" {
		return s.transactions.List(), nil
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", credits.ErrInvalidRequest, kind)
	}
	return s.transactions.ByType(kind), nil
}

// History returns every record, newest first.
func (s *Service) History() []transactions.Record {
	return s.transactions.List()
}

// CreditHistory returns every record for one credit.
func (s *Service) CreditHistory(creditID uint64) []transactions.Record {
	return s.transactions.ByCredit(creditID)
}

// Receipts returns tracked payments, newest first.
func (s *Service) Receipts() []confirmation.Receipt {
	if s.receipts == nil {
		return nil
	}
	return s.receipts.Receipts()
}

// Certificate opens the retirement certificate of creditID.
func (s *Service) Certificate(ctx context.Context, creditID uint64) (certificates.Certificate, io.ReadCloser, error) {
	if s.certificates == nil {
		return certificates.Certificate{}, nil, certificates.ErrNotFound
	}
	return s.certificates.Open(ctx, creditID)
}

// Export writes the transaction history and holdings in format f.
func (s *Service) Export(w io.Writer, f export.Format) error {
	return export.WriteHistory(w, f, s.History(), s.Credits())
}
