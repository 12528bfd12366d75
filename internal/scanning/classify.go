package scanning

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zombor/price-tracker/internal/common"
)

var inputTooLargeHints = []string{"token", "too long", "too large", "context length", "exceeds"}

func mentionsAny(msg string, hints ...string) bool {
	msg = strings.ToLower(msg)
	for _, h := range hints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

// classifyStatus maps an HTTP status from a model backend onto an error kind.
func classifyStatus(code int, msg string) common.Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return common.KindRateLimited
	case code == http.StatusRequestEntityTooLarge:
		return common.KindInputTooLarge
	case code == http.StatusBadRequest && mentionsAny(msg, "location is not supported", "not available in your country", "region"):
		return common.KindUnsupportedLocale
	case code == http.StatusBadRequest && mentionsAny(msg, inputTooLargeHints...):
		return common.KindInputTooLarge
	case code == http.StatusServiceUnavailable, code == http.StatusBadGateway, code == http.StatusGatewayTimeout,
		code == http.StatusNotFound, code == http.StatusUnauthorized, code == http.StatusForbidden:
		return common.KindServiceUnavailable
	default:
		return common.KindUnknown
	}
}

// classifyCode maps a gRPC status code onto an error kind.
func classifyCode(c codes.Code, msg string) common.Kind {
	switch c {
	case codes.ResourceExhausted:
		return common.KindRateLimited
	case codes.Unavailable, codes.DeadlineExceeded, codes.NotFound, codes.Unauthenticated, codes.PermissionDenied:
		return common.KindServiceUnavailable
	case codes.FailedPrecondition:
		if mentionsAny(msg, "location") {
			return common.KindUnsupportedLocale
		}
		return common.KindServiceUnavailable
	case codes.InvalidArgument:
		if mentionsAny(msg, inputTooLargeHints...) {
			return common.KindInputTooLarge
		}
		return common.KindUnknown
	default:
		return common.KindUnknown
	}
}

// classifyGeminiError converts a genai error into a classified error.
func classifyGeminiError(op string, err error) error {
	if err == nil || common.IsCanceled(err) {
		return err
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return common.E(op, common.KindSafetyRejected, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return common.E(op, classifyStatus(apiErr.Code, apiErr.Message), err)
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return common.E(op, classifyCode(st.Code(), st.Message()), err)
	}
	return common.Classify(op, err)
}

// waitForSlot blocks until limiter admits one call. A wait that cannot
// complete before the context deadline is reported as RateLimited.
func waitForSlot(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return common.E("rate", common.KindRateLimited, err)
	}
	return nil
}

// availabilityTTL is how long a capability check result is reused.
const availabilityTTL = time.Minute

// availability caches the result of an adapter's capability probe.
type availability struct {
	mu      sync.Mutex
	checked time.Time
	ok      bool
	now     func() time.Time
}

func (a *availability) get(ctx context.Context, probe func(context.Context) error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	if !a.checked.IsZero() && now().Sub(a.checked) < availabilityTTL {
		return a.ok
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	a.ok = probe(probeCtx) == nil
	a.checked = now()
	return a.ok
}
