package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/zombor/price-tracker/internal/common"
)

const defaultGeminiModel = "gemini-2.5-flash"

// NewGeminiClient creates the client shared by the Gemini adapters. The
// caller owns it and must close it.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return client, nil
}

// GeminiExtractor implements Extractor with schema-constrained Gemini output.
type GeminiExtractor struct {
	client    *genai.Client
	modelName string
	opts      adapterOptions
	avail     availability
}

// NewGeminiExtractor creates an Extractor backed by client.
func NewGeminiExtractor(client *genai.Client, modelName string, opts ...Option) *GeminiExtractor {
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	return &GeminiExtractor{
		client:    client,
		modelName: modelName,
		opts:      newAdapterOptions(60*time.Second, opts),
	}
}

// Extract sends the receipt text with the versioned instructions and schema.
func (g *GeminiExtractor) Extract(ctx context.Context, req ExtractRequest) (*ParsedReceipt, error) {
	start := time.Now()
	log := g.opts.logger.With("req_id", uuid.NewString(), "provider", "gemini", "model", g.modelName)

	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if err := g.opts.checkInput(req.Text); err != nil {
		return nil, err
	}
	instructions, err := BuildInstructions(req.Locale, req.Catalog, maxItems)
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
	model.SetMaxOutputTokens(outputTokenBudget(maxItems))
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instructions)}}
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = receiptGenaiSchema()

	log.Info("extract.start", "text_chars", len(req.Text), "catalog_size", len(req.Catalog), "max_items", maxItems)
	resp, err := model.GenerateContent(ctx, genai.Text(BuildPrompt(req.Text)))
	if err != nil {
		classified := classifyGeminiError("extract", err)
		log.Warn("extract.failed", "kind", common.KindOf(classified), "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, classified
	}

	text, err := responseText(resp)
	if err != nil {
		log.Warn("extract.empty_response", "error", err)
		return nil, err
	}
	receipt, err := parseReceiptJSON(text, maxItems, g.opts.now())
	if err != nil {
		log.Warn("extract.schema_validation_failed", "error", err, "response_chars", len(text))
		return nil, err
	}

	log.Info("extract.ok", "items", len(receipt.Items), "shop", receipt.ShopName,
		"elapsed_ms", time.Since(start).Milliseconds())
	return receipt, nil
}

// Available checks that the configured model answers metadata requests.
func (g *GeminiExtractor) Available(ctx context.Context) bool {
	return g.avail.get(ctx, func(ctx context.Context) error {
		_, err := g.client.GenerativeModel(g.modelName).Info(ctx)
		return err
	})
}

// Close is a no-op; the shared client is closed by its owner.
func (g *GeminiExtractor) Close() error {
	return nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", common.E("extract", common.KindMalformedResponse, fmt.Errorf("no candidates in response"))
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", common.E("extract", common.KindMalformedResponse, fmt.Errorf("response has no text"))
	}
	return b.String(), nil
}
