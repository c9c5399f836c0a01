package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"carbon-x/marketplace/marketplace-backend/internal/credits"
	"carbon-x/marketplace/marketplace-backend/internal/transactions"
)

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	FreezeHeader bool              `json:"freeze_header"`
	AutoFilter   bool              `json:"auto_filter"`
	AutoWidth    bool              `json:"auto_width"`
	HeaderStyle  *ExcelStyleConfig `json:"header_style,omitempty"`
}

// ExcelStyleConfig defines style for cells
type ExcelStyleConfig struct {
	FontBold  bool   `json:"font_bold"`
	FontSize  int    `json:"font_size"`
	FontColor string `json:"font_color"`
	FillColor string `json:"fill_color"`
	Alignment string `json:"alignment"`
}

// DefaultExcelOptions returns default Excel export options
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		FreezeHeader: true,
		AutoFilter:   true,
		AutoWidth:    true,
		HeaderStyle: &ExcelStyleConfig{
			FontBold:  true,
			FontSize:  11,
			FillColor: "2E7D32",
			FontColor: "FFFFFF",
			Alignment: "center",
		},
	}
}

// Workbook builds a multi-sheet XLSX document
type Workbook struct {
	file    *excelize.File
	options ExcelOptions
	sheets  int
}

// NewWorkbook creates an empty workbook
func NewWorkbook(options ExcelOptions) *Workbook {
	return &Workbook{
		file:    excelize.NewFile(),
		options: options,
	}
}

// AddSheet writes a styled header and rows to a new sheet.
func (wb *Workbook) AddSheet(name string, columns []string, rows []map[string]interface{}) error {
	if wb.sheets == 0 {
		if err := wb.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("failed to rename sheet: %w", err)
		}
	} else if _, err := wb.file.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	wb.sheets++

	if err := wb.writeHeader(name, columns); err != nil {
		return err
	}

	widths := make([]float64, len(columns))
	for i, col := range columns {
		widths[i] = float64(len(col))
	}

	for r, row := range rows {
		for c, col := range columns {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			val := row[col]
			if t, ok := val.(time.Time); ok {
				val = t.UTC().Format("2006-01-02 15:04:05")
			}
			if err := wb.file.SetCellValue(name, cell, val); err != nil {
				return fmt.Errorf("failed to set cell value: %w", err)
			}
			if w := float64(len(fmt.Sprintf("%v", val))) * 1.2; w > widths[c] {
				widths[c] = w
			}
		}
	}

	if wb.options.AutoFilter && len(rows) > 0 {
		lastCol, _ := excelize.CoordinatesToCellName(len(columns), len(rows)+1)
		if err := wb.file.AutoFilter(name, "A1:"+lastCol, nil); err != nil {
			return fmt.Errorf("failed to set auto filter: %w", err)
		}
	}

	if wb.options.AutoWidth {
		for i, width := range widths {
			colName, _ := excelize.ColumnNumberToName(i + 1)
			// Min width 10, max width 60
			if width < 10 {
				width = 10
			}
			if width > 60 {
				width = 60
			}
			wb.file.SetColWidth(name, colName, colName, width)
		}
	}
	return nil
}

func (wb *Workbook) writeHeader(sheet string, columns []string) error {
	styleID := 0
	if wb.options.HeaderStyle != nil {
		id, err := wb.createStyle(wb.options.HeaderStyle)
		if err != nil {
			return fmt.Errorf("failed to create header style: %w", err)
		}
		styleID = id
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		wb.file.SetCellValue(sheet, cell, col)
		if styleID > 0 {
			wb.file.SetCellStyle(sheet, cell, cell, styleID)
		}
	}

	if wb.options.FreezeHeader {
		wb.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}
	return nil
}

func (wb *Workbook) createStyle(config *ExcelStyleConfig) (int, error) {
	style := &excelize.Style{
		Font: &excelize.Font{
			Bold:  config.FontBold,
			Size:  float64(config.FontSize),
			Color: config.FontColor,
		},
	}
	if config.FillColor != "" {
		style.Fill = excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{config.FillColor},
		}
	}
	if config.Alignment != "" {
		style.Alignment = &excelize.Alignment{Horizontal: config.Alignment}
	}
	return wb.file.NewStyle(style)
}

// Write writes the workbook to w
func (wb *Workbook) Write(w io.Writer) error {
	return wb.file.Write(w)
}

// Close releases the workbook
func (wb *Workbook) Close() error {
	return wb.file.Close()
}

// WriteTransactionsXLSX writes a "Transactions" sheet and, when holdings is
// non-empty, a "Credits" sheet.
func WriteTransactionsXLSX(w io.Writer, records []transactions.Record, holdings []credits.Credit) error {
	wb := NewWorkbook(DefaultExcelOptions())
	defer wb.Close()

	if err := wb.AddSheet("Transactions", TransactionColumns, transactionRows(records)); err != nil {
		return err
	}
	if len(holdings) > 0 {
		if err := wb.AddSheet("Credits", CreditColumns, creditRows(holdings)); err != nil {
			return err
		}
	}
	return wb.Write(w)
}
