package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/price-tracker/internal/catalog"
	"github.com/zombor/price-tracker/internal/common"
	"github.com/zombor/price-tracker/internal/scanning"
)

// Config tunes the extraction stage.
type Config struct {
	Locale   string
	MaxItems int
}

// Pipeline runs OCR, structured extraction, normalization and validation
// for one receipt image. Stages run strictly one after another.
type Pipeline struct {
	recognizer scanning.Recognizer
	extractor  scanning.Extractor
	names      catalog.Source
	normalizer *catalog.Normalizer
	config     Config
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *catalog.Normalizer) Option {
	return func(p *Pipeline) {
		if n != nil {
			p.normalizer = n
		}
	}
}

// WithClock overrides the processing timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline. names supplies the catalog used as model context
// and for name convergence.
func New(recognizer scanning.Recognizer, extractor scanning.Extractor, names catalog.Source, config Config, opts ...Option) *Pipeline {
	if config.MaxItems <= 0 {
		config.MaxItems = scanning.DefaultMaxItems
	}
	p := &Pipeline{
		recognizer: recognizer,
		extractor:  extractor,
		names:      names,
		normalizer: catalog.NewNormalizer(),
		config:     config,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available reports whether both external services can take a scan.
func (p *Pipeline) Available(ctx context.Context) bool {
	return p.recognizer.Available(ctx) && p.extractor.Available(ctx)
}

// Scan turns a receipt image into purchase candidates. Nothing is persisted.
// Failures are *common.Error values, except cancellations which come back
// as the context error.
func (p *Pipeline) Scan(ctx context.Context, image []byte, contentType string) (*RecognitionResult, error) {
	start := p.now()
	log := p.logger.With("scan_id", uuid.NewString())

	if !p.recognizer.Available(ctx) {
		return nil, common.E("scan", common.KindServiceUnavailable, errors.New("ocr service unavailable"))
	}
	if !p.extractor.Available(ctx) {
		return nil, common.E("scan", common.KindServiceUnavailable, errors.New("extraction service unavailable"))
	}

	lines, err := p.recognizer.Recognize(ctx, image, contentType)
	if err != nil {
		log.Warn("scan.ocr.failed", "error", err)
		return nil, common.Classify("ocr", err)
	}
	if err := ctx.Err(); err != nil {
		log.Info("scan.canceled", "stage", "ocr")
		return nil, common.Classify("scan", err)
	}
	rawText := strings.Join(lines, "\n")
	log.Info("scan.ocr.ok", "lines", len(lines), "bytes", len(image))
	if strings.TrimSpace(rawText) == "" {
		return nil, common.E("scan", common.KindNoItemsFound, errors.New("no text recognized"))
	}

	cat, err := catalog.Load(ctx, p.names)
	if err != nil {
		log.Warn("scan.catalog.unavailable", "error", err)
		cat = catalog.New()
	}

	parsed, err := p.extractor.Extract(ctx, scanning.ExtractRequest{
		Text:     rawText,
		Catalog:  cat.Names(),
		Locale:   p.config.Locale,
		MaxItems: p.config.MaxItems,
	})
	if err != nil {
		log.Warn("scan.extract.failed", "kind", common.KindOf(err), "error", err)
		return nil, common.Classify("extract", err)
	}

	kept := Validate(parsed.Items)
	filtered := *parsed
	filtered.Items = kept
	confidence := Score(filtered)

	if len(kept) == 0 {
		log.Info("scan.no_items", "returned", len(parsed.Items))
		return nil, common.E("scan", common.KindNoItemsFound,
			fmt.Errorf("%d extracted items, none usable", len(parsed.Items)))
	}

	items := make([]ExtractedLineItem, 0, len(kept))
	for _, item := range kept {
		items = append(items, p.lineItem(item, parsed, cat))
	}

	log.Info("scan.ok", "items", len(items), "dropped", len(parsed.Items)-len(kept),
		"confidence", confidence, "elapsed_ms", p.now().Sub(start).Milliseconds())

	return &RecognitionResult{
		Items:       items,
		Confidence:  confidence,
		Shop:        parsed.ShopName,
		Date:        parsed.Date,
		RawText:     rawText,
		ProcessedAt: p.now(),
	}, nil
}

// lineItem normalizes one validated item. A model-supplied normalized name
// is still checked against the catalog so synonyms converge.
func (p *Pipeline) lineItem(item scanning.ParsedItem, receipt *scanning.ParsedReceipt, cat *catalog.Catalog) ExtractedLineItem {
	source := item.NormalizedName
	if source == "" {
		source = item.Name
	}
	name := p.normalizer.Normalize(source, cat)
	if name == "" {
		name = strings.TrimSpace(item.Name)
	}
	cat.Add(name)

	quantity := decimal.NewFromInt(1)
	if item.Quantity.Valid && item.Quantity.Decimal.IsPositive() {
		quantity = item.Quantity.Decimal
	}

	return ExtractedLineItem{
		RawName:        item.Name,
		NormalizedName: name,
		Quantity:       quantity,
		Unit:           normalizeUnit(item.Unit),
		Price:          item.Price,
		Category:       item.Category,
		Shop:           receipt.ShopName,
		Date:           receipt.Date,
	}
}
