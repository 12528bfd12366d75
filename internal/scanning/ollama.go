package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/price-tracker/internal/common"
)

// OllamaExtractor implements Extractor using a local Ollama server.
type OllamaExtractor struct {
	baseURL string
	model   string
	client  *http.Client
	opts    adapterOptions
	avail   availability
}

// NewOllamaExtractor creates an Extractor talking to baseURL. Text-only
// models such as llama3.1 or qwen2.5 are enough since OCR runs beforehand.
func NewOllamaExtractor(baseURL string, modelName string, opts ...Option) *OllamaExtractor {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llama3.1"
	}
	o := newAdapterOptions(120*time.Second, opts)
	return &OllamaExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client:  &http.Client{},
		opts:    o,
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   map[string]any  `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int32   `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// Extract asks the model for JSON constrained by the receipt schema.
func (o *OllamaExtractor) Extract(ctx context.Context, req ExtractRequest) (*ParsedReceipt, error) {
	start := time.Now()
	log := o.opts.logger.With("req_id", uuid.NewString(), "provider", "ollama", "model", o.model)

	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if err := o.opts.checkInput(req.Text); err != nil {
		return nil, err
	}
	instructions, err := BuildInstructions(req.Locale, req.Catalog, maxItems)
	if err != nil {
		return nil, err
	}
	if err := waitForSlot(ctx, o.opts.limiter); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: ReceiptJSONSchema(maxItems),
		Options: ollamaOptions{
			Temperature: 0,
			NumPredict:  outputTokenBudget(maxItems),
		},
		Messages: []ollamaMessage{
			{Role: "system", Content: instructions},
			{Role: "user", Content: BuildPrompt(req.Text)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Info("extract.start", "text_chars", len(req.Text), "catalog_size", len(req.Catalog), "max_items", maxItems)
	resp, err := o.client.Do(httpReq)
	if err != nil {
		if common.IsCanceled(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, common.Classify("extract", err)
		}
		log.Warn("extract.failed", "error", err)
		return nil, common.E("extract", common.KindServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr ollamaError
		msg := string(raw)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		kind := classifyStatus(resp.StatusCode, msg)
		log.Warn("extract.failed", "status", resp.StatusCode, "kind", kind, "error", msg)
		return nil, common.E("extract", kind, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, msg))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, common.E("extract", common.KindMalformedResponse, fmt.Errorf("decoding response: %w", err))
	}

	receipt, err := parseReceiptJSON(chatResp.Message.Content, maxItems, o.opts.now())
	if err != nil {
		log.Warn("extract.schema_validation_failed", "error", err)
		return nil, err
	}

	log.Info("extract.ok", "items", len(receipt.Items), "shop", receipt.ShopName,
		"elapsed_ms", time.Since(start).Milliseconds())
	return receipt, nil
}

// Available checks that the Ollama server responds.
func (o *OllamaExtractor) Available(ctx context.Context) bool {
	return o.avail.get(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
		if err != nil {
			return err
		}
		resp, err := o.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	})
}

// Close is a no-op for the HTTP client.
func (o *OllamaExtractor) Close() error {
	return nil
}
