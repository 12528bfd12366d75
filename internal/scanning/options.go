package scanning

import (
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/zombor/price-tracker/internal/common"
)

// DefaultMaxInputChars bounds the OCR text sent to a model in one request.
const DefaultMaxInputChars = 24000

type adapterOptions struct {
	logger        *slog.Logger
	limiter       *rate.Limiter
	timeout       time.Duration
	maxInputChars int
	now           func() time.Time
}

// Option configures an OCR or extraction adapter.
type Option func(*adapterOptions)

// WithLogger sets the adapter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *adapterOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRateLimit limits outbound calls to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *adapterOptions) {
		if rps <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout bounds a single backend call.
func WithTimeout(d time.Duration) Option {
	return func(o *adapterOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxInputChars rejects longer OCR text with InputTooLarge before calling out.
func WithMaxInputChars(n int) Option {
	return func(o *adapterOptions) {
		if n > 0 {
			o.maxInputChars = n
		}
	}
}

// withClock overrides the time source used for date fallbacks.
func withClock(now func() time.Time) Option {
	return func(o *adapterOptions) {
		o.now = now
	}
}

func newAdapterOptions(defaultTimeout time.Duration, opts []Option) adapterOptions {
	o := adapterOptions{
		logger:        slog.Default(),
		timeout:       defaultTimeout,
		maxInputChars: DefaultMaxInputChars,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o adapterOptions) checkInput(text string) error {
	if n := utf8.RuneCountInString(text); n > o.maxInputChars {
		return common.E("extract", common.KindInputTooLarge,
			fmt.Errorf("receipt text has %d characters, limit is %d", n, o.maxInputChars))
	}
	return nil
}

// outputTokenBudget sizes the response so maxItems lines fit but a runaway
// generation is cut off.
func outputTokenBudget(maxItems int) int32 {
	return int32(256 + maxItems*80)
}
