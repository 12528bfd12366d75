package common

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/text/language"
)

var _ = Describe("Error", func() {
	It("matches the sentinel of the same kind through wrapping", func() {
		err := fmt.Errorf("scan: %w", E("extract", KindRateLimited, errors.New("429")))
		Expect(errors.Is(err, ErrRateLimited)).To(BeTrue())
		Expect(errors.Is(err, ErrServiceUnavailable)).To(BeFalse())
	})

	It("keeps the cause reachable", func() {
		cause := errors.New("boom")
		err := E("ocr", KindUnknown, cause)
		Expect(errors.Is(err, cause)).To(BeTrue())
		Expect(err.Error()).To(Equal("ocr: unknown: boom"))
	})

	Describe("KindOf", func() {
		It("treats deadlines as service unavailable", func() {
			Expect(KindOf(fmt.Errorf("call: %w", context.DeadlineExceeded))).To(Equal(KindServiceUnavailable))
		})

		It("does not classify cancellations", func() {
			Expect(KindOf(context.Canceled)).To(BeEmpty())
			Expect(IsCanceled(fmt.Errorf("x: %w", context.Canceled))).To(BeTrue())
		})

		It("falls back to unknown", func() {
			Expect(KindOf(errors.New("weird"))).To(Equal(KindUnknown))
		})
	})

	Describe("Classify", func() {
		It("leaves classified errors alone", func() {
			err := E("extract", KindSafetyRejected, nil)
			Expect(Classify("scan", err)).To(BeIdenticalTo(err))
		})

		It("wraps plain errors as unknown", func() {
			err := Classify("scan", errors.New("nope"))
			Expect(errors.Is(err, ErrUnknown)).To(BeTrue())
		})
	})
})

var _ = Describe("Message", func() {
	It("has one message per kind in every supported locale", func() {
		for _, kind := range Kinds {
			Expect(Message(kind, language.English)).NotTo(BeEmpty())
			Expect(Message(kind, language.German)).NotTo(Equal(Message(kind, language.English)))
		}
	})

	It("negotiates Accept-Language headers", func() {
		Expect(MatchLocale("de-AT,de;q=0.9,en;q=0.5")).To(Equal(language.German))
		Expect(MatchLocale("fr-FR")).To(Equal(language.English))
		Expect(MatchLocale("")).To(Equal(language.English))
	})

	It("renders German text for German users", func() {
		Expect(Message(KindNoItemsFound, MatchLocale("de"))).To(ContainSubstring("keine Artikel"))
	})

	It("falls back to the unknown message", func() {
		Expect(Message(Kind("bogus"), language.English)).To(Equal(Message(KindUnknown, language.English)))
	})
})
