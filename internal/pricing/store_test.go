package pricing

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Store", func() {
	for _, backend := range backends {
		backend := backend

		Describe(backend.name, func() {
			var (
				ctx     context.Context
				store   Store
				product *Product
			)

			BeforeEach(func() {
				ctx = context.Background()
				store = openStore(backend.open)
				product = &Product{
					ID:                  "p-1",
					NormalizedName:      "Äpfel",
					BestPricePerUnit:    d("1.99"),
					BestPriceStore:      "Lidl",
					HighestPricePerUnit: d("2.49"),
					HighestPriceStore:   "Merkur",
					Unit:                "kg",
					PurchaseCount:       2,
					LastUpdated:         day(2),
					CreatedAt:           day(1),
				}
				Expect(store.Update(ctx, func(tx Tx) error {
					return tx.SaveProduct(product)
				})).To(Succeed())
			})

			Describe("products", func() {
				It("finds a product by name ignoring case", func() {
					err := store.View(ctx, func(tx Tx) error {
						found, err := tx.ProductByName("ÄPFEL")
						Expect(err).NotTo(HaveOccurred())
						Expect(found.ID).To(Equal("p-1"))
						Expect(found.BestPricePerUnit.Equal(d("1.99"))).To(BeTrue())
						Expect(found.HighestPriceStore).To(Equal("Merkur"))
						Expect(found.PurchaseCount).To(Equal(2))
						Expect(found.CreatedAt.Equal(day(1))).To(BeTrue())
						return nil
					})
					Expect(err).NotTo(HaveOccurred())
				})

				It("reports unknown names", func() {
					err := store.View(ctx, func(tx Tx) error {
						_, err := tx.ProductByName("Birnen")
						return err
					})
					Expect(err).To(MatchError(ErrProductNotFound))
				})

				It("updates a product in place", func() {
					product.BestPricePerUnit = d("1.49")
					Expect(store.Update(ctx, func(tx Tx) error {
						return tx.SaveProduct(product)
					})).To(Succeed())

					Expect(store.View(ctx, func(tx Tx) error {
						products, err := tx.Products()
						Expect(err).NotTo(HaveOccurred())
						Expect(products).To(HaveLen(1))
						Expect(products[0].BestPricePerUnit.Equal(d("1.49"))).To(BeTrue())
						return nil
					})).To(Succeed())
				})
			})

			Describe("purchases", func() {
				var purchase *Purchase

				BeforeEach(func() {
					purchase = &Purchase{
						ID:                "u-1",
						ProductID:         "p-1",
						ShopName:          "Lidl",
						Date:              day(2),
						TotalPrice:        d("2.99"),
						Quantity:          d("1.5"),
						ActualProductName: "Äpfel Braeburn",
						Unit:              "kg",
						CreatedAt:         day(2),
					}
					Expect(store.Update(ctx, func(tx Tx) error {
						return tx.SavePurchase(purchase)
					})).To(Succeed())
				})

				It("lists the purchases of a product", func() {
					Expect(store.View(ctx, func(tx Tx) error {
						purchases, err := tx.PurchasesOf("p-1")
						Expect(err).NotTo(HaveOccurred())
						Expect(purchases).To(HaveLen(1))
						Expect(purchases[0].TotalPrice.Equal(d("2.99"))).To(BeTrue())
						Expect(purchases[0].Quantity.Equal(d("1.5"))).To(BeTrue())
						Expect(purchases[0].Date.Equal(day(2))).To(BeTrue())
						return nil
					})).To(Succeed())
				})

				It("rejects purchases for unknown products", func() {
					orphan := *purchase
					orphan.ID = "u-2"
					orphan.ProductID = "missing"
					err := store.Update(ctx, func(tx Tx) error {
						return tx.SavePurchase(&orphan)
					})
					Expect(err).To(MatchError(ErrProductNotFound))
				})

				It("deletes a purchase", func() {
					Expect(store.Update(ctx, func(tx Tx) error {
						return tx.DeletePurchase("u-1")
					})).To(Succeed())

					err := store.View(ctx, func(tx Tx) error {
						_, err := tx.Purchase("u-1")
						return err
					})
					Expect(err).To(MatchError(ErrPurchaseNotFound))
				})

				It("reports deleting an unknown purchase", func() {
					err := store.Update(ctx, func(tx Tx) error {
						return tx.DeletePurchase("nope")
					})
					Expect(err).To(MatchError(ErrPurchaseNotFound))
				})

				It("cascades product deletion to purchases", func() {
					Expect(store.Update(ctx, func(tx Tx) error {
						return tx.DeleteProduct("p-1")
					})).To(Succeed())

					Expect(store.View(ctx, func(tx Tx) error {
						_, err := tx.Purchase("u-1")
						Expect(err).To(MatchError(ErrPurchaseNotFound))
						_, err = tx.ProductByName("Äpfel")
						Expect(err).To(MatchError(ErrProductNotFound))
						return nil
					})).To(Succeed())
				})
			})

			It("rolls back everything when the transaction fails", func() {
				boom := errors.New("boom")
				err := store.Update(ctx, func(tx Tx) error {
					if err := tx.SaveProduct(&Product{ID: "p-2", NormalizedName: "Birnen", CreatedAt: day(1), LastUpdated: day(1)}); err != nil {
						return err
					}
					return boom
				})
				Expect(err).To(MatchError(boom))

				err = store.View(ctx, func(tx Tx) error {
					_, err := tx.ProductByName("Birnen")
					return err
				})
				Expect(err).To(MatchError(ErrProductNotFound))
			})

			It("refuses to start a transaction on a cancelled context", func() {
				cancelled, cancel := context.WithCancel(ctx)
				cancel()
				err := store.Update(cancelled, func(tx Tx) error { return nil })
				Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			})
		})
	}
})

var _ = Describe("StorageConfig", func() {
	It("uses the configured path for local storage", func() {
		path, err := StorageConfig{Mode: ModeLocal, Path: "data/prices.db"}.ResolvedPath()
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal("data/prices.db"))
	})

	It("moves the database into the sync directory", func() {
		path, err := StorageConfig{Path: "data/prices.db", CloudSyncEnabled: true, SyncDir: "/sync"}.ResolvedPath()
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal("/sync/prices.db"))
	})

	It("requires a sync directory when cloud sync is on", func() {
		_, err := StorageConfig{Path: "prices.db", CloudSyncEnabled: true}.ResolvedPath()
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown modes", func() {
		_, err := Open(StorageConfig{Mode: "postgres", Path: filepath.Join(GinkgoT().TempDir(), "x.db")})
		Expect(err).To(MatchError(ContainSubstring("unknown storage mode")))
	})

	It("opens each backend and creates missing directories", func() {
		dir := GinkgoT().TempDir()
		for _, mode := range []StorageMode{ModeLocal, ModeSQLite} {
			store, err := Open(StorageConfig{Mode: mode, Path: filepath.Join(dir, string(mode), "prices.db")})
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Close()).To(Succeed())
		}
	})
})
