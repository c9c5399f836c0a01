// Package export renders the transaction history and credit holdings as
// downloadable CSV, XLSX or PDF documents.
package export

import (
	"fmt"
	"strings"

	"carbon-x/marketplace/marketplace-backend/internal/credits"
	"carbon-x/marketplace/marketplace-backend/internal/transactions"
)

// Format is a supported output format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts csv, xlsx (or excel) and pdf. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv"
	}
}

// Filename returns a download name for base.
func (f Format) Filename(base string) string {
	return base + "." + string(f)
}

// TransactionColumns are the history export columns in order.
var TransactionColumns = []string{"id", "type", "credit_id", "project_id", "amount", "from", "to", "tx_hash", "timestamp"}

// TransactionLabels are the human readable headers for TransactionColumns.
var TransactionLabels = []string{"ID", "Type", "Credit", "Project", "Amount", "From", "To", "Tx Hash", "Time"}

// CreditColumns are the holdings export columns in order.
var CreditColumns = []string{"id", "project_id", "region", "vintage_year", "quantity", "verified", "retired", "listed", "price", "owner"}

func transactionRows(records []transactions.Record) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		rows = append(rows, map[string]interface{}{
			"id":         r.ID,
			"type":       string(r.Type),
			"credit_id":  int64(r.CreditID),
			"project_id": r.ProjectID,
			"amount":     r.Amount,
			"from":       r.From,
			"to":         r.To,
			"tx_hash":    r.TxHash,
			"timestamp":  r.Timestamp,
		})
	}
	return rows
}

func creditRows(list []credits.Credit) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(list))
	for _, c := range list {
		rows = append(rows, map[string]interface{}{
			"id":           int64(c.ID),
			"project_id":   c.ProjectID,
			"region":       c.Region,
			"vintage_year": c.VintageYear,
			"quantity":     int64(c.Quantity),
			"verified":     c.Verified,
			"retired":      c.Retired,
			"listed":       c.Listed,
			"price":        c.PriceLabel(),
			"owner":        c.Owner,
		})
	}
	return rows
}
