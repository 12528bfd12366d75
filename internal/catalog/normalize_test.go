package catalog

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Normalize", func() {
	var (
		raw    string
		cat    *Catalog
		result string
	)

	BeforeEach(func() {
		cat = New()
	})

	JustBeforeEach(func() {
		result = Normalize(raw, cat)
	})

	When("the catalog already knows the product under another spelling", func() {
		BeforeEach(func() {
			cat = New("Milch")
			raw = "Ja! Natürlich Bio Vollmilch 1L"
		})

		It("returns the catalog spelling", func() {
			Expect(result).To(Equal("Milch"))
		})
	})

	When("the raw name differs only in case from a catalog entry", func() {
		BeforeEach(func() {
			cat = New("Äpfel")
			raw = "ÄPFEL"
		})

		It("returns the catalog spelling", func() {
			Expect(result).To(Equal("Äpfel"))
		})
	})

	When("a catalog name is only part of a different product", func() {
		BeforeEach(func() {
			cat = New("Butter")
			raw = "Butter Kekse 200g"
		})

		It("derives a name of its own", func() {
			Expect(result).To(Equal("Butter Kekse"))
		})
	})

	When("the catalog is empty", func() {
		BeforeEach(func() {
			raw = "Gut & Günstig Butter 250g"
		})

		It("strips brand and size and title-cases the rest", func() {
			Expect(result).To(Equal("Butter"))
		})
	})

	When("the name is shouted with qualifiers and packaging", func() {
		BeforeEach(func() {
			raw = "BIO BANANEN LOSE"
		})

		It("keeps only the product word", func() {
			Expect(result).To(Equal("Bananen"))
		})
	})

	When("the name carries a multipack size", func() {
		BeforeEach(func() {
			raw = "Mineralwasser 6x1,5l Flasche"
		})

		It("drops the pack size and packaging", func() {
			Expect(result).To(Equal("Mineralwasser"))
		})
	})

	When("stripping leaves nothing", func() {
		BeforeEach(func() {
			raw = "  Coca-Cola 0,5l "
		})

		It("returns the trimmed raw name", func() {
			Expect(result).To(Equal("Coca-Cola 0,5l"))
		})
	})

	When("the raw name is blank", func() {
		BeforeEach(func() {
			raw = "   "
		})

		It("returns an empty string", func() {
			Expect(result).To(BeEmpty())
		})
	})

	Describe("custom vocabulary", func() {
		It("removes extra noise words", func() {
			n := NewNormalizer(WithNoiseWords("Hausmarke"))
			Expect(n.Normalize("Hausmarke Joghurt 500g", New())).To(Equal("Joghurt"))
		})
	})
})
