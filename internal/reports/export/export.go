package export

import (
	"fmt"
	"io"

	"carbon-x/marketplace/marketplace-backend/internal/credits"
	"carbon-x/marketplace/marketplace-backend/internal/transactions"
)

// WriteHistory renders records (and, for xlsx, holdings) in format f.
func WriteHistory(w io.Writer, f Format, records []transactions.Record, holdings []credits.Credit) error {
	switch f {
	case FormatCSV:
		return WriteTransactionsCSV(w, records)
	case FormatXLSX:
		return WriteTransactionsXLSX(w, records, holdings)
	case FormatPDF:
		return WriteTransactionsPDF(w, records, DefaultPDFOptions())
	}
	return fmt.Errorf("unsupported export format %q", f)
}
