// Package tracker exposes the price tracker's operations to callers and
// serves them over HTTP.
package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/price-tracker/internal/common"
	"github.com/zombor/price-tracker/internal/exchange"
	"github.com/zombor/price-tracker/internal/pipeline"
	"github.com/zombor/price-tracker/internal/pricing"
	"github.com/zombor/price-tracker/internal/stats"
)

// DefaultScanTimeout bounds one scan, OCR and extraction included.
const DefaultScanTimeout = 90 * time.Second

// Scanner turns a receipt image into purchase candidates.
type Scanner interface {
	Scan(ctx context.Context, image []byte, contentType string) (*pipeline.RecognitionResult, error)
	Available(ctx context.Context) bool
}

// StatsReport is a product together with statistics over its purchases.
type StatsReport struct {
	Product  *pricing.Product `json:"product"`
	Snapshot stats.Snapshot   `json:"stats"`
}

// ImportReport describes the outcome of a workbook import.
type ImportReport struct {
	pricing.ImportSummary
	Rejected []exchange.RowError `json:"rejected,omitempty"`
}

// Service handles price tracker operations
type Service struct {
	scanner     Scanner
	engine      *pricing.Engine
	backups     Backups
	scanTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithScanTimeout bounds each scan. Zero disables the bound.
func WithScanTimeout(d time.Duration) Option {
	return func(s *Service) { s.scanTimeout = d }
}

// WithClock overrides the clock used for backup names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. backups may be nil when backups are disabled.
func NewService(scanner Scanner, engine *pricing.Engine, backups Backups, opts ...Option) *Service {
	s := &Service{
		scanner:     scanner,
		engine:      engine,
		backups:     backups,
		scanTimeout: DefaultScanTimeout,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether scanning can currently run.
func (s *Service) Available(ctx context.Context) bool {
	return s.scanner.Available(ctx)
}

// Scan recognizes a receipt image. Nothing is stored until the items are
// confirmed. Running past the scan timeout counts as ServiceUnavailable.
func (s *Service) Scan(ctx context.Context, image []byte, contentType string) (*pipeline.RecognitionResult, error) {
	if s.scanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.scanTimeout)
		defer cancel()
	}

	result, err := s.scanner.Scan(ctx, image, contentType)
	if err != nil {
		return nil, common.Classify("scan", err)
	}
	return result, nil
}

func lineFromItem(item pipeline.ExtractedLineItem) pricing.Line {
	name := strings.TrimSpace(item.NormalizedName)
	if name == "" {
		name = strings.TrimSpace(item.RawName)
	}
	// An absent quantity means one piece; a negative one is rejected later.
	quantity := item.Quantity
	if quantity.IsZero() {
		quantity = decimal.NewFromInt(1)
	}
	return pricing.Line{
		ProductName:       name,
		ActualProductName: item.RawName,
		TotalPrice:        item.Price,
		Quantity:          quantity,
		Unit:              item.Unit,
		Category:          item.Category,
	}
}

// ConfirmAndCommit records the items a user confirmed, one commit per item.
// shop and date override the values carried by each item when set. Every
// item is checked before the first commit, so an invalid item stores nothing.
func (s *Service) ConfirmAndCommit(ctx context.Context, items []pipeline.ExtractedLineItem, shop string, date time.Time) ([]*pricing.Purchase, error) {
	lines := make([]pricing.Line, len(items))
	for i, item := range items {
		lines[i] = lineFromItem(item)
		if lines[i].ProductName == "" {
			return nil, fmt.Errorf("item %d: %w", i, pricing.ErrEmptyName)
		}
		if !lines[i].Quantity.IsPositive() {
			return nil, fmt.Errorf("item %d: %w", i, pricing.ErrInvalidQuantity)
		}
		if !lines[i].TotalPrice.IsPositive() {
			return nil, fmt.Errorf("item %d: %w", i, pricing.ErrInvalidPrice)
		}
	}

	purchases := make([]*pricing.Purchase, 0, len(items))
	for i, item := range items {
		itemShop, itemDate := shop, date
		if itemShop == "" {
			itemShop = item.Shop
		}
		if itemDate.IsZero() {
			itemDate = item.Date
		}

		purchase, err := s.engine.Commit(ctx, lines[i], itemShop, itemDate)
		if err != nil {
			return purchases, fmt.Errorf("item %d (%s): %w", i, lines[i].ProductName, err)
		}
		purchases = append(purchases, purchase)
	}

	s.logger.InfoContext(ctx, "commit.ok", "items", len(purchases), "shop", shop)
	return purchases, nil
}

// BulkImport stores historical records and recomputes each affected product.
func (s *Service) BulkImport(ctx context.Context, records []pricing.Record) (pricing.ImportSummary, error) {
	return s.engine.BulkImport(ctx, records)
}

// ImportWorkbook parses an XLSX workbook and bulk imports its rows.
func (s *Service) ImportWorkbook(ctx context.Context, r io.Reader) (*ImportReport, error) {
	start := s.now()
	parsed, err := exchange.Parse(r)
	if err != nil {
		return nil, err
	}
	summary, err := s.engine.BulkImport(ctx, parsed.Records)
	if err != nil {
		return nil, err
	}
	summary.Skipped += len(parsed.Rejected)

	s.logger.InfoContext(ctx, "import.xlsx.ok",
		"rows", len(parsed.Records)+len(parsed.Rejected),
		"imported", summary.PurchasesImported,
		"rejected", len(parsed.Rejected),
		"elapsed_ms", s.now().Sub(start).Milliseconds(),
	)
	return &ImportReport{ImportSummary: summary, Rejected: parsed.Rejected}, nil
}

// ExportWorkbook writes the full purchase history as XLSX.
func (s *Service) ExportWorkbook(ctx context.Context, w io.Writer) error {
	history, err := s.engine.History(ctx)
	if err != nil {
		return err
	}
	if err := exchange.Export(w, history); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "export.xlsx.ok", "products", len(history))
	return nil
}

// Stats computes statistics for one product from a consistent read of its
// purchases.
func (s *Service) Stats(ctx context.Context, name string, buckets int) (*StatsReport, error) {
	history, err := s.engine.Product(ctx, name)
	if err != nil {
		return nil, err
	}
	return &StatsReport{
		Product:  history.Product,
		Snapshot: stats.Compute(history.Purchases, buckets),
	}, nil
}

// Products lists every product.
func (s *Service) Products(ctx context.Context) ([]*pricing.Product, error) {
	return s.engine.Products(ctx)
}

// Product returns a product with its purchases.
func (s *Service) Product(ctx context.Context, name string) (*pricing.ProductHistory, error) {
	return s.engine.Product(ctx, name)
}

// DeletePurchase removes a purchase; its product is recomputed.
func (s *Service) DeletePurchase(ctx context.Context, id string) (*pricing.Product, error) {
	return s.engine.DeletePurchase(ctx, id)
}

// EditPurchase changes a purchase; its product is recomputed.
func (s *Service) EditPurchase(ctx context.Context, id string, edit pricing.PurchaseEdit) (*pricing.Purchase, error) {
	return s.engine.EditPurchase(ctx, id, edit)
}

// DeleteProduct removes a product and its purchases.
func (s *Service) DeleteProduct(ctx context.Context, name string) error {
	return s.engine.DeleteProduct(ctx, name)
}

// Recompute rebuilds one product from its purchases.
func (s *Service) Recompute(ctx context.Context, name string) (*pricing.Product, error) {
	return s.engine.Recompute(ctx, name)
}

// RecomputeAllProducts rebuilds every product.
func (s *Service) RecomputeAllProducts(ctx context.Context) (int, error) {
	return s.engine.RecomputeAll(ctx)
}

// ErrBackupsDisabled is returned by backup operations without a backup store.
var ErrBackupsDisabled = errors.New("backups are not configured")

const maxBackupsPerSecond = 99

// Backup exports the history into the backup store and returns its name.
func (s *Service) Backup(ctx context.Context) (string, error) {
	if s.backups == nil {
		return "", ErrBackupsDisabled
	}
	var buf bytes.Buffer
	if err := s.ExportWorkbook(ctx, &buf); err != nil {
		return "", err
	}
	stamp := s.now().UTC().Format("20060102-150405")
	name := fmt.Sprintf("prices-%s.xlsx", stamp)
	for n := 2; ; n++ {
		saved, err := s.backups.Save(name, buf.Bytes())
		if !errors.Is(err, ErrBackupExists) {
			return saved, err
		}
		if n > maxBackupsPerSecond {
			return "", err
		}
		// "_" sorts after ".", so later backups of the same second list first.
		name = fmt.Sprintf("prices-%s_%02d.xlsx", stamp, n)
	}
}

// Backups lists stored backups, newest first.
func (s *Service) Backups() ([]string, error) {
	if s.backups == nil {
		return nil, ErrBackupsDisabled
	}
	return s.backups.List()
}

// BackupFile returns the raw workbook of a stored backup.
func (s *Service) BackupFile(name string) ([]byte, error) {
	if s.backups == nil {
		return nil, ErrBackupsDisabled
	}
	return s.backups.Get(name)
}

// DeleteBackup removes a stored backup.
func (s *Service) DeleteBackup(name string) error {
	if s.backups == nil {
		return ErrBackupsDisabled
	}
	return s.backups.Delete(name)
}

// Restore imports a stored backup. Purchases already present are kept and
// counted as duplicates.
func (s *Service) Restore(ctx context.Context, name string) (*ImportReport, error) {
	data, err := s.BackupFile(name)
	if err != nil {
		return nil, err
	}
	return s.ImportWorkbook(ctx, bytes.NewReader(data))
}
