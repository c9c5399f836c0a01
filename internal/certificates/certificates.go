// Package certificates issues PDF proof of retirement for credits.
package certificates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/credits"
	"carbon-x/marketplace/marketplace-backend/internal/storage"
	objectstore "carbon-x/marketplace/marketplace-backend/pkg/storage"
)

// StorageKey is the snapshot key the certificate index is persisted under.
const StorageKey = "carbonx-certificates-storage"

// ContentType of issued documents.
const ContentType = "application/pdf"

// ErrNotFound is returned for credits without a certificate.
var ErrNotFound = errors.New("certificates: no certificate for credit")

// Certificate describes an issued document.
type Certificate struct {
	CreditID    uint64    `json:"credit_id"`
	ProjectID   string    `json:"project_id"`
	Region      string    `json:"region"`
	VintageYear int       `json:"vintage_year"`
	Quantity    uint64    `json:"quantity"`
	RetiredBy   string    `json:"retired_by"`
	RetiredAt   time.Time `json:"retired_at"`
	Bucket      string    `json:"bucket,omitempty"`
	Key         string    `json:"key"`
	URL         string    `json:"url,omitempty"`
}

// ObjectKey is where the certificate for creditID is stored.
func ObjectKey(creditID uint64) string {
	return fmt.Sprintf("certificates/%d.pdf", creditID)
}

// Issuer renders certificates and stores them in object storage.
type Issuer struct {
	objects objectstore.S3Client
	bucket  string
	backend storage.Backend
	logger  *zap.Logger

	mu    sync.RWMutex
	index map[uint64]Certificate
}

// NewIssuer creates an issuer. backend may be nil.
func NewIssuer(ctx context.Context, objects objectstore.S3Client, bucket string, backend storage.Backend, logger *zap.Logger) (*Issuer, error) {
	i := &Issuer{
		objects: objects,
		bucket:  bucket,
		backend: backend,
		logger:  logger,
		index:   make(map[uint64]Certificate),
	}
	if backend != nil {
		if _, err := backend.Load(ctx, StorageKey, &i.index); err != nil {
			return nil, fmt.Errorf("load certificates: %w", err)
		}
		if i.index == nil {
			i.index = make(map[uint64]Certificate)
		}
	}
	return i, nil
}

// Issue renders and stores the certificate for a retired credit.
func (i *Issuer) Issue(ctx context.Context, credit credits.Credit, retiredBy string, at time.Time) (Certificate, error) {
	cert := Certificate{
		CreditID:    credit.ID,
		ProjectID:   credit.ProjectID,
		Region:      credit.Region,
		VintageYear: credit.VintageYear,
		Quantity:    credit.Quantity,
		RetiredBy:   retiredBy,
		RetiredAt:   at.UTC(),
		Bucket:      i.bucket,
		Key:         ObjectKey(credit.ID),
	}

	var buf bytes.Buffer
	if err := Render(&buf, cert); err != nil {
		return Certificate{}, err
	}

	if err := i.objects.Upload(ctx, i.bucket, cert.Key, ContentType, &buf); err != nil {
		return Certificate{}, fmt.Errorf("store certificate: %w", err)
	}

	if url, err := i.objects.GetPresignedURL(ctx, i.bucket, cert.Key, 7*24*time.Hour); err != nil {
		i.logger.Warn("Could not presign certificate", zap.Uint64("credit_id", credit.ID), zap.Error(err))
	} else {
		cert.URL = url
	}

	i.mu.Lock()
	i.index[cert.CreditID] = cert
	snapshot := make(map[uint64]Certificate, len(i.index))
	for k, v := range i.index {
		snapshot[k] = v
	}
	i.mu.Unlock()

	if i.backend != nil {
		if err := i.backend.Save(ctx, StorageKey, snapshot); err != nil {
			return cert, fmt.Errorf("save certificates: %w", err)
		}
	}

	i.logger.Info("Retirement certificate issued",
		zap.Uint64("credit_id", cert.CreditID),
		zap.String("key", cert.Key))
	return cert, nil
}

// Get returns the certificate metadata for creditID.
func (i *Issuer) Get(creditID uint64) (Certificate, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	cert, ok := i.index[creditID]
	if !ok {
		return Certificate{}, ErrNotFound
	}
	return cert, nil
}

// Open streams the stored PDF for creditID.
func (i *Issuer) Open(ctx context.Context, creditID uint64) (Certificate, io.ReadCloser, error) {
	cert, err := i.Get(creditID)
	if err != nil {
		return Certificate{}, nil, err
	}

	body, err := i.objects.Download(ctx, cert.Bucket, cert.Key)
	if err != nil {
		return Certificate{}, nil, fmt.Errorf("open certificate: %w", err)
	}
	return cert, body, nil
}

// Render writes the certificate PDF to w.
func Render(w io.Writer, cert Certificate) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetTitle(fmt.Sprintf("Retirement Certificate - Credit %d", cert.CreditID), true)
	pdf.SetAuthor("Carbon-X", true)
	pdf.AddPage()

	pageWidth, pageHeight := pdf.GetPageSize()
	pdf.SetDrawColor(46, 125, 50)
	pdf.SetLineWidth(1.5)
	pdf.Rect(10, 10, pageWidth-20, pageHeight-20, "D")

	pdf.Ln(10)
	pdf.SetFont("Arial", "B", 28)
	pdf.SetTextColor(46, 125, 50)
	pdf.CellFormat(0, 14, "Certificate of Carbon Credit Retirement", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 12)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(0, 8, "This credit has been permanently removed from circulation.", "", 1, "C", false, 0, "")
	pdf.Ln(10)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "B", 40)
	pdf.CellFormat(0, 18, fmt.Sprintf("%d tons CO2", cert.Quantity), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Credit ID", fmt.Sprintf("%d", cert.CreditID)},
		{"Project", cert.ProjectID},
		{"Region", cert.Region},
		{"Vintage", fmt.Sprintf("%d", cert.VintageYear)},
		{"Retired by", cert.RetiredBy},
		{"Retired at", cert.RetiredAt.Format("2006-01-02 15:04:05 MST")},
	}

	labelWidth := 45.0
	left := (pageWidth - 200) / 2
	for _, row := range rows {
		pdf.SetX(left)
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(labelWidth, 8, row[0], "", 0, "R", false, 0, "")
		pdf.SetFont("Arial", "", 12)
		pdf.CellFormat(200-labelWidth, 8, "  "+row[1], "", 1, "L", false, 0, "")
	}

	pdf.SetY(pageHeight - 30)
	pdf.SetFont("Arial", "I", 9)
	pdf.SetTextColor(128, 128, 128)
	pdf.CellFormat(0, 6, "Carbon-X Marketplace", "", 1, "C", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render certificate: %w", err)
	}
	return nil
}
