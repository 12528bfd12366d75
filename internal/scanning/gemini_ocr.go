package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/zombor/price-tracker/internal/common"
)

// GeminiOCR implements Recognizer using a Gemini vision model as the OCR engine.
type GeminiOCR struct {
	client    *genai.Client
	modelName string
	config    OCRConfig
	opts      adapterOptions
	avail     availability
}

// NewGeminiOCR creates a Recognizer backed by client. Without an explicit
// model the accuracy mode picks one.
func NewGeminiOCR(client *genai.Client, modelName string, config OCRConfig, opts ...Option) *GeminiOCR {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
		if config.Accuracy == AccuracyAccurate {
			modelName = "gemini-2.5-pro"
		}
	}
	if len(config.Languages) == 0 {
		config.Languages = []string{"de", "en"}
	}
	return &GeminiOCR{
		client:    client,
		modelName: modelName,
		config:    config,
		opts:      newAdapterOptions(60*time.Second, opts),
	}
}

func (g *GeminiOCR) instructions() string {
	return fmt.Sprintf(`Transcribe the receipt in the image line by line, top to bottom.
The text is in one of these languages: %s.
Copy every printed line exactly, including prices, quantities and dates. Do not translate,
summarize, correct or reorder anything. Skip barcodes and logos.
Respond with JSON: {"lines": ["first line", "second line", ...]}.`, strings.Join(g.config.Languages, ", "))
}

// Recognize returns the receipt's text lines in reading order.
func (g *GeminiOCR) Recognize(ctx context.Context, image []byte, contentType string) ([]string, error) {
	start := time.Now()
	log := g.opts.logger.With("provider", "gemini", "model", g.modelName)

	pngData, err := toPNG(image, contentType)
	if err != nil {
		return nil, err
	}
	if err := waitForSlot(ctx, g.opts.limiter); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(0)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(g.instructions())}}
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"lines": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		},
		Required: []string{"lines"},
	}

	// genai.ImageData takes the format suffix, not the MIME type.
	resp, err := model.GenerateContent(ctx, genai.ImageData("png", pngData), genai.Text("Transcribe this receipt."))
	if err != nil {
		classified := classifyGeminiError("ocr", err)
		log.Warn("ocr.failed", "kind", common.KindOf(classified), "error", err)
		return nil, classified
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	var out struct {
		Lines []string `json:"lines"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, common.E("ocr", common.KindMalformedResponse, fmt.Errorf("decoding lines: %w", err))
	}

	lines := cleanLines(out.Lines)
	log.Info("ocr.ok", "lines", len(lines), "elapsed_ms", time.Since(start).Milliseconds())
	return lines, nil
}

// Available checks that the configured model answers metadata requests.
func (g *GeminiOCR) Available(ctx context.Context) bool {
	return g.avail.get(ctx, func(ctx context.Context) error {
		_, err := g.client.GenerativeModel(g.modelName).Info(ctx)
		return err
	})
}

// Close is a no-op; the shared client is closed by its owner.
func (g *GeminiOCR) Close() error {
	return nil
}

// cleanLines trims lines and drops empty ones, keeping order.
func cleanLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
