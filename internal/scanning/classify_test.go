package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zombor/price-tracker/internal/common"
)

var _ = Describe("classifyGeminiError", func() {
	DescribeTable("maps backend failures to kinds",
		func(err error, kind common.Kind) {
			Expect(common.KindOf(classifyGeminiError("extract", err))).To(Equal(kind))
		},
		Entry("blocked content", &genai.BlockedError{}, common.KindSafetyRejected),
		Entry("quota", &googleapi.Error{Code: http.StatusTooManyRequests}, common.KindRateLimited),
		Entry("overloaded", &googleapi.Error{Code: http.StatusServiceUnavailable}, common.KindServiceUnavailable),
		Entry("prompt too long", &googleapi.Error{Code: http.StatusBadRequest, Message: "The input token count exceeds the maximum"}, common.KindInputTooLarge),
		Entry("region", &googleapi.Error{Code: http.StatusBadRequest, Message: "User location is not supported for the API use."}, common.KindUnsupportedLocale),
		Entry("grpc quota", status.Error(codes.ResourceExhausted, "quota"), common.KindRateLimited),
		Entry("grpc region", status.Error(codes.FailedPrecondition, "User location is not supported"), common.KindUnsupportedLocale),
		Entry("grpc unavailable", status.Error(codes.Unavailable, "try later"), common.KindServiceUnavailable),
		Entry("deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), common.KindServiceUnavailable),
		Entry("anything else", errors.New("boom"), common.KindUnknown),
	)

	It("passes cancellations through", func() {
		Expect(classifyGeminiError("extract", context.Canceled)).To(Equal(context.Canceled))
	})
})

var _ = Describe("waitForSlot", func() {
	It("admits calls within the budget", func() {
		Expect(waitForSlot(context.Background(), rate.NewLimiter(1, 1))).To(Succeed())
	})

	It("reports RateLimited when the deadline is too close", func() {
		limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
		Expect(limiter.Allow()).To(BeTrue())
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := waitForSlot(ctx, limiter)
		Expect(errors.Is(err, common.ErrRateLimited)).To(BeTrue())
	})

	It("allows a nil limiter", func() {
		Expect(waitForSlot(context.Background(), nil)).To(Succeed())
	})
})

var _ = Describe("availability", func() {
	It("reuses a probe result within the TTL", func() {
		clock := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
		a := availability{now: func() time.Time { return clock }}
		calls := 0
		probe := func(context.Context) error { calls++; return nil }

		Expect(a.get(context.Background(), probe)).To(BeTrue())
		Expect(a.get(context.Background(), probe)).To(BeTrue())
		Expect(calls).To(Equal(1))

		clock = clock.Add(2 * availabilityTTL)
		Expect(a.get(context.Background(), func(context.Context) error { calls++; return errors.New("down") })).To(BeFalse())
		Expect(calls).To(Equal(2))
	})
})
