package export

import (
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"

	"carbon-x/marketplace/marketplace-backend/internal/transactions"
)

// PDFOptions configures the history report
type PDFOptions struct {
	Title          string
	FontFamily     string
	FontSize       float64
	HeaderColor    [3]int
	AlternateColor [3]int
}

// DefaultPDFOptions returns default PDF options
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		Title:          "Carbon-X Transaction History",
		FontFamily:     "Arial",
		FontSize:       8,
		HeaderColor:    [3]int{46, 125, 50},
		AlternateColor: [3]int{242, 242, 242},
	}
}

// pdfColumns omit the long id and full addresses, which do not fit a page.
var pdfColumns = []struct {
	key   string
	label string
	width float64
}{
	{"timestamp", "Time", 38},
	{"type", "Type", 22},
	{"credit_id", "Credit", 14},
	{"project_id", "Project", 24},
	{"amount", "Amount", 24},
	{"from", "From", 26},
	{"to", "To", 26},
	{"tx_hash", "Tx Hash", 0},
}

// WriteTransactionsPDF renders the history as a landscape table.
func WriteTransactionsPDF(w io.Writer, records []transactions.Record, options PDFOptions) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont(options.FontFamily, "B", 16)
	pdf.CellFormat(0, 10, options.Title, "", 1, "C", false, 0, "")
	pdf.SetFont(options.FontFamily, "", options.FontSize+1)
	pdf.SetTextColor(128, 128, 128)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format("2006-01-02 15:04 MST")), "", 1, "R", false, 0, "")
	pdf.Ln(4)

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	used := 0.0
	for _, col := range pdfColumns {
		used += col.width
	}
	lastWidth := pageWidth - left - right - used

	width := func(i int) float64 {
		if pdfColumns[i].width == 0 {
			return lastWidth
		}
		return pdfColumns[i].width
	}

	pdf.SetFont(options.FontFamily, "B", options.FontSize+1)
	pdf.SetFillColor(options.HeaderColor[0], options.HeaderColor[1], options.HeaderColor[2])
	pdf.SetTextColor(255, 255, 255)
	for i, col := range pdfColumns {
		pdf.CellFormat(width(i), 7, col.label, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont(options.FontFamily, "", options.FontSize)
	pdf.SetTextColor(0, 0, 0)
	for r, row := range transactionRows(records) {
		fill := r%2 == 1
		if fill {
			pdf.SetFillColor(options.AlternateColor[0], options.AlternateColor[1], options.AlternateColor[2])
		}
		for i, col := range pdfColumns {
			pdf.CellFormat(width(i), 6, pdfValue(col.key, row[col.key]), "1", 0, "L", fill, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(records) == 0 {
		pdf.CellFormat(0, 8, "No transactions recorded.", "", 1, "C", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}
	return nil
}

func pdfValue(key string, val interface{}) string {
	switch v := val.(type) {
	case time.Time:
		return v.UTC().Format("2006-01-02 15:04:05")
	case string:
		if key == "from" || key == "to" {
			return shorten(v, 5, 4)
		}
		if key == "tx_hash" {
			return shorten(v, 12, 8)
		}
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func shorten(s string, head, tail int) string {
	if len(s) <= head+tail+3 {
		return s
	}
	return s[:head] + "..." + s[len(s)-tail:]
}
