package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"carbon-x/marketplace/marketplace-backend/internal/transactions"
)

// CSVExporter exports rows to CSV format
type CSVExporter struct {
	writer  *csv.Writer
	options CSVOptions
}

// CSVOptions configures CSV export behavior
type CSVOptions struct {
	Delimiter       rune   `json:"delimiter"`
	UseCRLF         bool   `json:"use_crlf"`
	IncludeHeader   bool   `json:"include_header"`
	TimestampFormat string `json:"timestamp_format"`
	NullValue       string `json:"null_value"`
}

// DefaultCSVOptions returns default CSV export options
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:       ',',
		IncludeHeader:   true,
		TimestampFormat: time.RFC3339,
	}
}

// NewCSVExporter creates a new CSV exporter
func NewCSVExporter(w io.Writer, options CSVOptions) *CSVExporter {
	writer := csv.NewWriter(w)
	writer.Comma = options.Delimiter
	writer.UseCRLF = options.UseCRLF

	return &CSVExporter{
		writer:  writer,
		options: options,
	}
}

// WriteMapRows writes a header (when enabled) followed by rows in column
// order. Missing keys are written as NullValue.
func (e *CSVExporter) WriteMapRows(rows []map[string]interface{}, columns []string) error {
	if e.options.IncludeHeader {
		if err := e.writer.Write(columns); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	for _, row := range rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			val, ok := row[col]
			if !ok {
				record[i] = e.options.NullValue
				continue
			}
			record[i] = e.formatValue(val)
		}

		if err := e.writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return nil
}

// Flush writes any buffered data to the underlying writer
func (e *CSVExporter) Flush() error {
	e.writer.Flush()
	return e.writer.Error()
}

func (e *CSVExporter) formatValue(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return e.options.NullValue
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		if v.IsZero() {
			return e.options.NullValue
		}
		return v.Format(e.options.TimestampFormat)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// WriteTransactionsCSV writes the history, newest first.
func WriteTransactionsCSV(w io.Writer, records []transactions.Record) error {
	exporter := NewCSVExporter(w, DefaultCSVOptions())
	if err := exporter.WriteMapRows(transactionRows(records), TransactionColumns); err != nil {
		return err
	}
	return exporter.Flush()
}
