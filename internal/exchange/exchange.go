// Package exchange reads and writes purchase history as XLSX workbooks so a
// history can be backed up, edited in a spreadsheet and restored.
package exchange

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/price-tracker/internal/pricing"
	"github.com/zombor/price-tracker/internal/scanning"
)

// SheetName is the worksheet written by Export and preferred by Parse.
const SheetName = "Purchases"

const dateLayout = "2006-01-02"

var (
	ErrUnreadable     = errors.New("file is not a readable XLSX workbook")
	ErrNoSheets       = errors.New("workbook has no sheets")
	ErrMissingColumns = errors.New("missing required columns")
)

type column int

const (
	colID column = iota
	colProduct
	colActualName
	colShop
	colDate
	colTotalPrice
	colQuantity
	colUnit
	colPricePerUnit
	colCategory
)

var headers = []string{
	colID:           "ID",
	colProduct:      "Product",
	colActualName:   "Receipt Name",
	colShop:         "Shop",
	colDate:         "Date",
	colTotalPrice:   "Total Price",
	colQuantity:     "Quantity",
	colUnit:         "Unit",
	colPricePerUnit: "Price Per Unit",
	colCategory:     "Category",
}

// headerAliases maps lower-cased header text, English or German, to a column.
var headerAliases = map[string]column{
	"id":                  colID,
	"product":             colProduct,
	"produkt":             colProduct,
	"normalized name":     colProduct,
	"receipt name":        colActualName,
	"actual product name": colActualName,
	"bezeichnung":         colActualName,
	"shop":                colShop,
	"store":               colShop,
	"geschäft":            colShop,
	"markt":               colShop,
	"date":                colDate,
	"datum":               colDate,
	"total price":         colTotalPrice,
	"price":               colTotalPrice,
	"preis":               colTotalPrice,
	"gesamtpreis":         colTotalPrice,
	"quantity":            colQuantity,
	"menge":               colQuantity,
	"unit":                colUnit,
	"einheit":             colUnit,
	"price per unit":      colPricePerUnit,
	"category":            colCategory,
	"kategorie":           colCategory,
}

// Export writes one row per purchase to a Purchases sheet. Dates are full
// RFC 3339 timestamps and amounts exact decimal text, so a restore
// reproduces the stored purchases.
func Export(w io.Writer, history []pricing.ProductHistory) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return err
		}
	}

	row := 2
	for _, entry := range history {
		for _, p := range entry.Purchases {
			values := []any{
				colID:           p.ID,
				colProduct:      entry.Product.NormalizedName,
				colActualName:   p.ActualProductName,
				colShop:         p.ShopName,
				colDate:         p.Date.Format(time.RFC3339Nano),
				colTotalPrice:   p.TotalPrice.String(),
				colQuantity:     p.Quantity.String(),
				colUnit:         p.Unit,
				colPricePerUnit: p.PricePerUnit().Round(4).String(),
				colCategory:     entry.Product.Category,
			}
			for col, v := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row)
				if err := f.SetCellValue(SheetName, cell, v); err != nil {
					return err
				}
			}
			row++
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 38)
	_ = f.SetColWidth(SheetName, "B", "C", 28)
	_ = f.SetColWidth(SheetName, "D", "D", 18)
	_ = f.SetColWidth(SheetName, "E", "I", 14)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

// RowError describes a data row that could not be turned into a record.
type RowError struct {
	Row int   `json:"row"`
	Err error `json:"-"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

// Result is the outcome of parsing a workbook.
type Result struct {
	Records  []pricing.Record
	Rejected []RowError
}

// Parse reads purchase records from the Purchases sheet, or the first sheet
// when there is none. Columns are located by header, in English or German.
// Rows without a product or a valid price are rejected individually.
func Parse(r io.Reader) (*Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSheets
	}
	sheet := sheets[0]
	for _, name := range sheets {
		if name == SheetName {
			sheet = name
		}
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	if len(rows) == 0 {
		return &Result{Records: []pricing.Record{}}, nil
	}

	columns := mapColumns(rows[0])
	for _, required := range []column{colProduct, colTotalPrice} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumns, headers[required])
		}
	}

	result := &Result{Records: make([]pricing.Record, 0, len(rows)-1)}
	for i, cells := range rows[1:] {
		rowNumber := i + 2
		if blank(cells) {
			continue
		}
		record, err := parseRow(cells, columns)
		if err != nil {
			result.Rejected = append(result.Rejected, RowError{Row: rowNumber, Err: err})
			continue
		}
		result.Records = append(result.Records, record)
	}
	return result, nil
}

func mapColumns(header []string) map[column]int {
	columns := make(map[column]int)
	for i, name := range header {
		col, ok := headerAliases[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			continue
		}
		if _, seen := columns[col]; !seen {
			columns[col] = i
		}
	}
	return columns
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseRow(cells []string, columns map[column]int) (pricing.Record, error) {
	get := func(c column) string {
		i, ok := columns[c]
		if !ok || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	record := pricing.Record{
		ID:                get(colID),
		ProductName:       get(colProduct),
		ActualProductName: get(colActualName),
		ShopName:          get(colShop),
		Unit:              get(colUnit),
		Category:          get(colCategory),
		Quantity:          decimal.NewFromInt(1),
	}
	if record.ProductName == "" {
		return record, pricing.ErrEmptyName
	}

	price, err := parseNumber(get(colTotalPrice))
	if err != nil {
		return record, fmt.Errorf("total price: %w", err)
	}
	record.TotalPrice = price

	if raw := get(colQuantity); raw != "" {
		if record.Quantity, err = parseNumber(raw); err != nil {
			return record, fmt.Errorf("quantity: %w", err)
		}
	}

	if raw := get(colDate); raw != "" {
		date, err := parseDate(raw)
		if err != nil {
			return record, err
		}
		record.Date = date
	}
	return record, nil
}

// parseNumber accepts both 1.99 and the German 1,99.
func parseNumber(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, errors.New("empty value")
	}
	if !strings.Contains(raw, ".") {
		raw = strings.ReplaceAll(raw, ",", ".")
	}
	return decimal.NewFromString(raw)
}

// parseDate reads RFC 3339 timestamps, ISO and receipt-style dates as well
// as Excel serial dates.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(dateLayout, raw, time.Local); err == nil {
		return t, nil
	}
	if t, ok := scanning.ParseReceiptDate(raw); ok {
		return t, nil
	}
	if serial, err := decimal.NewFromString(raw); err == nil {
		t, err := excelize.ExcelDateToTime(serial.InexactFloat64(), false)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
