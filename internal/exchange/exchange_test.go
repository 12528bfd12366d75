package exchange

import (
	"bytes"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/price-tracker/internal/pricing"
)

// workbook builds an in-memory XLSX file from rows of cells.
func workbook(sheet string, rows [][]any) *bytes.Buffer {
	f := excelize.NewFile()
	defer f.Close()
	Expect(f.SetSheetName(f.GetSheetName(0), sheet)).To(Succeed())
	for r, cells := range rows {
		for c, v := range cells {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			Expect(f.SetCellValue(sheet, cell, v)).To(Succeed())
		}
	}
	buf, err := f.WriteToBuffer()
	Expect(err).NotTo(HaveOccurred())
	return buf
}

var _ = Describe("Exchange", func() {
	Describe("Export", func() {
		It("writes purchases that Parse reads back", func() {
			history := []pricing.ProductHistory{{
				Product: &pricing.Product{NormalizedName: "Äpfel", Category: "Obst"},
				Purchases: []*pricing.Purchase{{
					ID:                "u-1",
					ShopName:          "Merkur",
					Date:              time.Date(2025, 9, 1, 0, 0, 0, 0, time.Local),
					TotalPrice:        decimal.RequireFromString("3.20"),
					Quantity:          decimal.RequireFromString("1.5"),
					ActualProductName: "Äpfel Gala lose",
					Unit:              "kg",
				}},
			}}

			var buf bytes.Buffer
			Expect(Export(&buf, history)).To(Succeed())

			result, err := Parse(&buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Rejected).To(BeEmpty())
			Expect(result.Records).To(HaveLen(1))

			record := result.Records[0]
			Expect(record.ID).To(Equal("u-1"))
			Expect(record.ProductName).To(Equal("Äpfel"))
			Expect(record.ActualProductName).To(Equal("Äpfel Gala lose"))
			Expect(record.ShopName).To(Equal("Merkur"))
			Expect(record.Unit).To(Equal("kg"))
			Expect(record.Category).To(Equal("Obst"))
			Expect(record.TotalPrice.Equal(decimal.RequireFromString("3.2"))).To(BeTrue())
			Expect(record.Quantity.Equal(decimal.RequireFromString("1.5"))).To(BeTrue())
			Expect(record.Date.Format("2006-01-02")).To(Equal("2025-09-01"))
		})

		It("keeps the time of day and exact amounts", func() {
			bought := time.Date(2025, 9, 1, 17, 42, 5, 123000000, time.UTC)
			history := []pricing.ProductHistory{{
				Product: &pricing.Product{NormalizedName: "Käse"},
				Purchases: []*pricing.Purchase{{
					ID:         "u-2",
					ShopName:   "Spar",
					Date:       bought,
					TotalPrice: decimal.RequireFromString("12.345678901234567891"),
					Quantity:   decimal.RequireFromString("0.333333333333333333"),
				}},
			}}

			var buf bytes.Buffer
			Expect(Export(&buf, history)).To(Succeed())

			result, err := Parse(&buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Records).To(HaveLen(1))
			record := result.Records[0]
			Expect(record.Date.Equal(bought)).To(BeTrue(), "got %s", record.Date)
			Expect(record.TotalPrice.String()).To(Equal("12.345678901234567891"))
			Expect(record.Quantity.String()).To(Equal("0.333333333333333333"))
		})

		It("writes only a header for an empty history", func() {
			var buf bytes.Buffer
			Expect(Export(&buf, nil)).To(Succeed())

			result, err := Parse(&buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Records).To(BeEmpty())
		})
	})

	Describe("Parse", func() {
		It("maps German headers and decimal commas", func() {
			buf := workbook("Einkäufe", [][]any{
				{"Datum", "Produkt", "Geschäft", "Menge", "Preis"},
				{"01.09.2025", "Milch", "Billa", "2", "2,58"},
			})

			result, err := Parse(buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Records).To(HaveLen(1))
			record := result.Records[0]
			Expect(record.ProductName).To(Equal("Milch"))
			Expect(record.ShopName).To(Equal("Billa"))
			Expect(record.Quantity.Equal(decimal.NewFromInt(2))).To(BeTrue())
			Expect(record.TotalPrice.Equal(decimal.RequireFromString("2.58"))).To(BeTrue())
			Expect(record.Date.Day()).To(Equal(1))
			Expect(record.Date.Month()).To(Equal(time.September))
		})

		It("defaults the quantity to one", func() {
			buf := workbook(SheetName, [][]any{
				{"Product", "Total Price"},
				{"Brot", 2.49},
			})

			result, err := Parse(buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Records[0].Quantity.Equal(decimal.NewFromInt(1))).To(BeTrue())
			Expect(result.Records[0].Date.IsZero()).To(BeTrue())
		})

		It("rejects bad rows individually and skips blank ones", func() {
			buf := workbook(SheetName, [][]any{
				{"Product", "Total Price", "Date"},
				{"Brot", "abc", ""},
				{"", "", ""},
				{"", "1.00", ""},
				{"Käse", "3.99", "someday"},
				{"Butter", "2.29", "2025-03-01"},
			})

			result, err := Parse(buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Records).To(HaveLen(1))
			Expect(result.Records[0].ProductName).To(Equal("Butter"))
			Expect(result.Rejected).To(HaveLen(3))
			Expect(result.Rejected[0].Row).To(Equal(2))
			Expect(result.Rejected[1].Row).To(Equal(4))
			Expect(result.Rejected[1].Err).To(MatchError(pricing.ErrEmptyName))
			Expect(result.Rejected[2].Row).To(Equal(5))
		})

		It("requires a product and price column", func() {
			buf := workbook(SheetName, [][]any{{"Shop", "Date"}, {"Billa", "2025-01-01"}})

			_, err := Parse(buf)
			Expect(err).To(MatchError(ErrMissingColumns))
		})

		It("rejects data that is not a workbook", func() {
			_, err := Parse(bytes.NewBufferString("not a zip"))
			Expect(err).To(MatchError(ErrUnreadable))
		})
	})
})
