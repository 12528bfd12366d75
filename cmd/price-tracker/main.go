package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/generative-ai-go/genai"
	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/price-tracker/internal/pipeline"
	"github.com/zombor/price-tracker/internal/pricing"
	"github.com/zombor/price-tracker/internal/scanning"
	"github.com/zombor/price-tracker/internal/tracker"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	flags := ff.NewFlagSet("price-tracker")
	var (
		port          = flags.IntLong("port", 8080, "HTTP server port")
		dbPath        = flags.StringLong("db", "prices.db", "Database file path")
		storageMode   = flags.StringLong("storage-mode", "local", "Storage backend: 'local' (bbolt) or 'sqlite'")
		cloudSync     = flags.BoolLong("cloud-sync", "Keep the database inside --sync-dir")
		syncDir       = flags.StringLong("sync-dir", "", "Cloud-synced directory used when --cloud-sync is set")
		backupDir     = flags.StringLong("backup-dir", "", "Workbook backup directory (default: next to the database)")
		ocrBackend    = flags.StringLong("ocr", "gemini", "OCR backend: 'gemini' or 'tesseract'")
		tesseractBin  = flags.StringLong("tesseract-path", "tesseract", "Tesseract executable")
		ocrLanguages  = flags.StringLong("ocr-languages", "de,en", "Comma-separated OCR languages in priority order")
		ocrAccuracy   = flags.StringLong("ocr-accuracy", string(scanning.AccuracyAccurate), "OCR accuracy: 'fast' or 'accurate'")
		extractorType = flags.StringLong("extractor", "gemini", "Extraction backend: 'gemini' or 'ollama'")
		geminiKey     = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = flags.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL     = flags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = flags.StringLong("ollama-model", "llama3.1", "Ollama model name")
		locale        = flags.StringLong("locale", "de", "Receipt locale used for extraction instructions")
		maxItems      = flags.IntLong("max-items", scanning.DefaultMaxItems, "Maximum line items per receipt")
		maxInputChars = flags.IntLong("max-input-chars", 20000, "Maximum OCR text length sent to the extractor")
		scanTimeout   = flags.DurationLong("scan-timeout", tracker.DefaultScanTimeout, "Upper bound for one scan")
		llmRPS        = flags.Float64Long("llm-rps", 1, "Requests per second allowed against the LLM backends (0 disables)")
		recompute     = flags.BoolLong("recompute-on-start", "Recompute every product's aggregates before serving")
		authUser      = flags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = flags.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel      = flags.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat     = flags.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		showVersion   = flags.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flags, os.Args[1:],
		ff.WithEnvVarPrefix("PRICE_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flags))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	storage := pricing.StorageConfig{
		Mode:             pricing.StorageMode(*storageMode),
		Path:             *dbPath,
		CloudSyncEnabled: *cloudSync,
		SyncDir:          *syncDir,
	}
	resolved, err := storage.ResolvedPath()
	if err != nil {
		fatal("Invalid storage configuration", err)
	}
	slog.Info("Initializing database...", "mode", storage.Mode, "path", resolved)
	store, err := pricing.Open(storage)
	if err != nil {
		fatal("Failed to initialize database", err)
	}
	defer store.Close()

	engine := pricing.NewEngine(store, pricing.WithLogger(logger))
	if *recompute {
		n, err := engine.RecomputeAll(ctx)
		if err != nil {
			fatal("Failed to recompute products", err)
		}
		slog.Info("Recomputed products", "count", n)
	}

	adapterOpts := []scanning.Option{
		scanning.WithLogger(logger),
		scanning.WithRateLimit(*llmRPS, 1),
		scanning.WithMaxInputChars(*maxInputChars),
	}
	ocrConfig := scanning.OCRConfig{
		Languages: splitList(*ocrLanguages),
		Accuracy:  scanning.Accuracy(*ocrAccuracy),
	}

	var geminiClient *genai.Client
	gemini := func() *genai.Client {
		if geminiClient != nil {
			return geminiClient
		}
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			fatal("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable", nil)
		}
		client, err := scanning.NewGeminiClient(ctx, apiKey)
		if err != nil {
			fatal("Failed to initialize Gemini", err)
		}
		geminiClient = client
		return client
	}

	// Initialize recognizer based on type
	var recognizer scanning.Recognizer
	switch *ocrBackend {
	case "gemini":
		slog.Info("Initializing Gemini OCR...", "languages", ocrConfig.Languages, "accuracy", ocrConfig.Accuracy)
		recognizer = scanning.NewGeminiOCR(gemini(), "", ocrConfig, adapterOpts...)
	case "tesseract":
		slog.Info("Initializing Tesseract OCR...", "binary", *tesseractBin, "languages", ocrConfig.Languages)
		recognizer = scanning.NewTesseract(*tesseractBin, ocrConfig, adapterOpts...)
	default:
		fatal("Invalid OCR backend", fmt.Errorf("%q: want gemini or tesseract", *ocrBackend))
	}
	defer recognizer.Close()

	// Initialize extractor based on type
	var extractor scanning.Extractor
	switch *extractorType {
	case "gemini":
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		extractor = scanning.NewGeminiExtractor(gemini(), *geminiModel, adapterOpts...)
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		extractor = scanning.NewOllamaExtractor(*ollamaURL, *ollamaModel, adapterOpts...)
	default:
		fatal("Invalid extractor", fmt.Errorf("%q: want gemini or ollama", *extractorType))
	}
	defer extractor.Close()
	if geminiClient != nil {
		defer geminiClient.Close()
	}

	scanner := pipeline.New(recognizer, extractor, engine, pipeline.Config{
		Locale:   *locale,
		MaxItems: *maxItems,
	}, pipeline.WithLogger(logger))

	// Initialize backups
	dir := *backupDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(resolved), "backups")
	}
	slog.Info("Initializing backups...", "dir", dir)
	backups, err := tracker.NewLocalBackups(dir)
	if err != nil {
		fatal("Failed to initialize backups", err)
	}

	// Initialize service
	service := tracker.NewService(scanner, engine, backups,
		tracker.WithLogger(logger),
		tracker.WithScanTimeout(*scanTimeout),
	)

	// Initialize server
	basicAuth := tracker.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := tracker.NewServer(service, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server starting", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down")
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fatal(msg string, err error) {
	if err != nil {
		slog.Error(msg, "error", err)
	} else {
		slog.Error(msg)
	}
	os.Exit(1)
}
