package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/zombor/price-tracker/internal/common"
)

// Runner executes external commands. Tests stub it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		r.logger.Error("exec failed", "cmd", name, "duration_ms", time.Since(start).Milliseconds(),
			"error", err, "stderr", truncate(errb.String(), 8<<10))
	} else {
		r.logger.Debug("exec ok", "cmd", name, "args", strings.Join(args, " "),
			"duration_ms", time.Since(start).Milliseconds(), "stdout_bytes", out.Len())
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// tesseractLanguages maps ISO 639-1 codes to tesseract traineddata names.
var tesseractLanguages = map[string]string{
	"de": "deu",
	"en": "eng",
	"fr": "fra",
	"it": "ita",
	"es": "spa",
	"nl": "nld",
	"pl": "pol",
	"cs": "ces",
	"hu": "hun",
	"sl": "slv",
	"hr": "hrv",
}

// Tesseract implements Recognizer with the tesseract command line tool.
type Tesseract struct {
	binary string
	config OCRConfig
	runner Runner
	opts   adapterOptions
}

// NewTesseract creates a Recognizer that shells out to binary ("tesseract" by default).
func NewTesseract(binary string, config OCRConfig, opts ...Option) *Tesseract {
	return NewTesseractWithRunner(binary, config, nil, opts...)
}

// NewTesseractWithRunner creates a Recognizer with a custom command runner for testing.
func NewTesseractWithRunner(binary string, config OCRConfig, runner Runner, opts ...Option) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	if len(config.Languages) == 0 {
		config.Languages = []string{"de", "en"}
	}
	o := newAdapterOptions(90*time.Second, opts)
	if runner == nil {
		runner = execRunner{logger: o.logger}
	}
	return &Tesseract{binary: binary, config: config, runner: runner, opts: o}
}

// args builds the command line for reading path and printing to stdout.
func (t *Tesseract) args(path string) []string {
	langs := make([]string, 0, len(t.config.Languages))
	for _, l := range t.config.Languages {
		if mapped, ok := tesseractLanguages[strings.ToLower(l)]; ok {
			l = mapped
		}
		langs = append(langs, l)
	}
	args := []string{path, "stdout", "-l", strings.Join(langs, "+"), "--oem", "1"}
	if t.config.Accuracy == AccuracyAccurate {
		// Single column of text in variable sizes, typical for till rolls.
		args = append(args, "--psm", "4", "-c", "preserve_interword_spaces=1")
	} else {
		args = append(args, "--psm", "6", "-c", "tessedit_do_invert=0")
	}
	return args
}

// Recognize writes the image to a temporary PNG and runs tesseract on it.
func (t *Tesseract) Recognize(ctx context.Context, image []byte, contentType string) ([]string, error) {
	start := time.Now()
	pngData, err := toPNG(image, contentType)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "receipt-*.png")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(pngData); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.timeout)
	defer cancel()

	out, _, err := t.runner.Run(ctx, t.binary, t.args(f.Name())...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, common.Classify("ocr", ctxErr)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, common.E("ocr", common.KindServiceUnavailable, err)
		}
		return nil, common.E("ocr", common.KindUnknown, fmt.Errorf("tesseract: %w", err))
	}

	lines := cleanLines(strings.Split(string(out), "\n"))
	t.opts.logger.Info("ocr.ok", "provider", "tesseract", "lines", len(lines),
		"elapsed_ms", time.Since(start).Milliseconds())
	return lines, nil
}

// Available reports whether the tesseract binary is on PATH.
func (t *Tesseract) Available(ctx context.Context) bool {
	_, err := exec.LookPath(t.binary)
	return err == nil
}

// Close is a no-op.
func (t *Tesseract) Close() error {
	return nil
}
