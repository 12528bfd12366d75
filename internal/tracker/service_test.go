package tracker

import (
	"bytes"
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/price-tracker/internal/common"
	"github.com/zombor/price-tracker/internal/pipeline"
	"github.com/zombor/price-tracker/internal/pricing"
)

var _ = Describe("Service", func() {
	var (
		ctx context.Context
		f   *fixture
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture(WithClock(func() time.Time {
			return time.Date(2025, 9, 2, 18, 30, 0, 0, time.UTC)
		}))
	})

	Describe("Scan", func() {
		It("returns normalized, validated items without storing anything", func() {
			result, err := f.service.Scan(ctx, []byte("image"), "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Items).To(HaveLen(1))
			Expect(result.Items[0].NormalizedName).To(Equal("Äpfel"))
			Expect(result.Shop).To(Equal("Merkur"))

			products, err := f.service.Products(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(products).To(BeEmpty())
		})

		It("reports a scan that outlives the timeout as unavailable", func() {
			f = newFixture(WithScanTimeout(20 * time.Millisecond))
			f.recognizer.block = make(chan struct{})

			_, err := f.service.Scan(ctx, []byte("image"), "image/png")
			Expect(errors.Is(err, common.ErrServiceUnavailable)).To(BeTrue())
		})

		It("passes cancellation through unclassified", func() {
			f.recognizer.block = make(chan struct{})
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := f.service.Scan(cancelled, []byte("image"), "image/png")
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(common.KindOf(err)).To(BeEmpty())
		})
	})

	Describe("ConfirmAndCommit", func() {
		It("tracks best and highest prices across receipts", func() {
			result, err := f.service.Scan(ctx, []byte("image"), "image/png")
			Expect(err).NotTo(HaveOccurred())

			purchases, err := f.service.ConfirmAndCommit(ctx, result.Items, "", time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(purchases).To(HaveLen(1))
			Expect(purchases[0].ShopName).To(Equal("Merkur"))
			Expect(purchases[0].ActualProductName).To(Equal("ÄPFEL GALA LOSE"))

			history, err := f.service.Product(ctx, "Äpfel")
			Expect(err).NotTo(HaveOccurred())
			Expect(history.Product.BestPricePerUnit.Equal(price("3.20"))).To(BeTrue())
			Expect(history.Product.BestPriceStore).To(Equal("Merkur"))
			Expect(history.Product.HighestPricePerUnit.Equal(price("3.20"))).To(BeTrue())
			Expect(history.Product.HighestPriceStore).To(Equal("Merkur"))

			lidl := []pipeline.ExtractedLineItem{{RawName: "Äpfel", NormalizedName: "Äpfel", Price: price("2.49"), Quantity: price("1"), Unit: "kg"}}
			_, err = f.service.ConfirmAndCommit(ctx, lidl, "Lidl", time.Date(2025, 9, 5, 0, 0, 0, 0, time.UTC))
			Expect(err).NotTo(HaveOccurred())

			history, err = f.service.Product(ctx, "Äpfel")
			Expect(err).NotTo(HaveOccurred())
			Expect(history.Product.BestPricePerUnit.Equal(price("2.49"))).To(BeTrue())
			Expect(history.Product.BestPriceStore).To(Equal("Lidl"))
			Expect(history.Product.HighestPricePerUnit.Equal(price("3.20"))).To(BeTrue())
			Expect(history.Product.HighestPriceStore).To(Equal("Merkur"))
		})

		It("defaults a missing quantity to one", func() {
			items := []pipeline.ExtractedLineItem{{RawName: "Brot", Price: price("2.49")}}
			purchases, err := f.service.ConfirmAndCommit(ctx, items, "Hofer", time.Time{})
			Expect(err).NotTo(HaveOccurred())
			Expect(purchases[0].Quantity.Equal(price("1"))).To(BeTrue())
		})

		It("rejects a negative quantity instead of defaulting it", func() {
			items := []pipeline.ExtractedLineItem{
				{RawName: "Brot", Price: price("2.49")},
				{RawName: "Milch", Price: price("1.49"), Quantity: price("-2")},
			}
			_, err := f.service.ConfirmAndCommit(ctx, items, "Hofer", time.Time{})
			Expect(err).To(MatchError(pricing.ErrInvalidQuantity))

			products, err := f.service.Products(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(products).To(BeEmpty())
		})

		It("stores nothing when any item is invalid", func() {
			items := []pipeline.ExtractedLineItem{
				{RawName: "Brot", Price: price("2.49")},
				{RawName: "Pfand", Price: price("0")},
			}
			_, err := f.service.ConfirmAndCommit(ctx, items, "Hofer", time.Time{})
			Expect(err).To(MatchError(pricing.ErrInvalidPrice))

			products, err := f.service.Products(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(products).To(BeEmpty())
		})
	})

	Describe("Stats", func() {
		It("summarizes a product's purchases", func() {
			_, err := f.service.BulkImport(ctx, []pricing.Record{
				{ProductName: "Milch", ShopName: "Billa", Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), TotalPrice: price("1.29"), Quantity: price("1")},
				{ProductName: "Milch", ShopName: "Spar", Date: time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC), TotalPrice: price("1.49"), Quantity: price("1")},
				{ProductName: "Milch", ShopName: "Billa", Date: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), TotalPrice: price("1.39"), Quantity: price("1")},
				{ProductName: "Milch", ShopName: "Hofer", Date: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), TotalPrice: price("1.59"), Quantity: price("1")},
			})
			Expect(err).NotTo(HaveOccurred())

			report, err := f.service.Stats(ctx, "milch", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Product.NormalizedName).To(Equal("Milch"))
			Expect(report.Snapshot.Count).To(Equal(4))
			Expect(report.Snapshot.Prices.Avg.Equal(price("1.44"))).To(BeTrue())
			Expect(report.Snapshot.Prices.Median.Equal(price("1.44"))).To(BeTrue())
			Expect(report.Snapshot.Shops[0].Shop).To(Equal("Billa"))
			Expect(report.Snapshot.Distribution).To(HaveLen(5))
			Expect(report.Snapshot.Monthly).To(HaveLen(2))
		})

		It("reports unknown products", func() {
			_, err := f.service.Stats(ctx, "Kaviar", 5)
			Expect(err).To(MatchError(pricing.ErrProductNotFound))
		})
	})

	Describe("workbooks and backups", func() {
		BeforeEach(func() {
			items := []pipeline.ExtractedLineItem{{RawName: "Brot", Price: price("2.49"), Quantity: price("1")}}
			_, err := f.service.ConfirmAndCommit(ctx, items, "Hofer", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
			Expect(err).NotTo(HaveOccurred())
		})

		It("imports an exported workbook into an empty tracker", func() {
			var buf bytes.Buffer
			Expect(f.service.ExportWorkbook(ctx, &buf)).To(Succeed())

			other := newFixture()
			report, err := other.service.ImportWorkbook(ctx, &buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.PurchasesImported).To(Equal(1))
			Expect(report.ProductsCreated).To(Equal(1))

			history, err := other.service.Product(ctx, "Brot")
			Expect(err).NotTo(HaveOccurred())
			Expect(history.Product.BestPriceStore).To(Equal("Hofer"))
		})

		It("stores a timestamped backup and restores it idempotently", func() {
			name, err := f.service.Backup(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("prices-20250902-183000.xlsx"))

			names, err := f.service.Backups()
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(ConsistOf(name))

			report, err := f.service.Restore(ctx, name)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Duplicates).To(Equal(1))
			Expect(report.PurchasesImported).To(BeZero())
		})

		It("keeps every backup taken within the same second", func() {
			first, err := f.service.Backup(ctx)
			Expect(err).NotTo(HaveOccurred())
			second, err := f.service.Backup(ctx)
			Expect(err).NotTo(HaveOccurred())
			third, err := f.service.Backup(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(second).To(Equal("prices-20250902-183000_02.xlsx"))
			names, err := f.service.Backups()
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal([]string{third, second, first}))
		})

		It("reports missing backups", func() {
			_, err := f.service.Restore(ctx, "prices-19990101-000000.xlsx")
			Expect(err).To(MatchError(ErrBackupNotFound))
		})

		It("fails clearly without a backup store", func() {
			service := NewService(nil, f.engine, nil)
			_, err := service.Backup(ctx)
			Expect(err).To(MatchError(ErrBackupsDisabled))
		})
	})

	Describe("editing and deleting", func() {
		It("recomputes after a purchase is deleted", func() {
			cheap := []pipeline.ExtractedLineItem{{RawName: "Milch", Price: price("0.99"), Quantity: price("1")}}
			dear := []pipeline.ExtractedLineItem{{RawName: "Milch", Price: price("1.49"), Quantity: price("1")}}
			_, err := f.service.ConfirmAndCommit(ctx, dear, "Spar", time.Time{})
			Expect(err).NotTo(HaveOccurred())
			purchases, err := f.service.ConfirmAndCommit(ctx, cheap, "Hofer", time.Time{})
			Expect(err).NotTo(HaveOccurred())

			product, err := f.service.DeletePurchase(ctx, purchases[0].ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(product.BestPriceStore).To(Equal("Spar"))
			Expect(product.BestPricePerUnit.Equal(price("1.49"))).To(BeTrue())
		})

		It("edits a purchase", func() {
			items := []pipeline.ExtractedLineItem{{RawName: "Milch", Price: price("1.49"), Quantity: price("1")}}
			purchases, err := f.service.ConfirmAndCommit(ctx, items, "Spar", time.Time{})
			Expect(err).NotTo(HaveOccurred())

			shop := "Billa"
			edited, err := f.service.EditPurchase(ctx, purchases[0].ID, pricing.PurchaseEdit{ShopName: &shop})
			Expect(err).NotTo(HaveOccurred())
			Expect(edited.ShopName).To(Equal("Billa"))

			product, err := f.service.Recompute(ctx, "Milch")
			Expect(err).NotTo(HaveOccurred())
			Expect(product.BestPriceStore).To(Equal("Billa"))
		})
	})
})
