// Package llmclient wraps the on-appliance LLM inference server used for
// AI-based document analysis (title, summary, keyword, category
// suggestion) and, separately, Anthropic's hosted API as an escalation
// path when the local model's output fails validation. Both paths are
// best-effort: ingest falls back to TF-based heuristics if neither
// answers in time.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Analysis is the structured result of document analysis, regardless of
// which backend produced it.
type Analysis struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Category string   `json:"category"`
}

// LocalClient calls the on-appliance inference server's completion
// endpoint with a fixed analysis prompt template.
type LocalClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewLocalClient(baseURL string) *LocalClient {
	return &LocalClient{baseURL: baseURL, httpClient: &http.Client{Timeout: 45 * time.Second}}
}

type localRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
}

type localResponse struct {
	Response string `json:"response"`
}

// Analyze asks the local model to produce a JSON analysis of excerpt. The
// model is instructed to answer with raw JSON only; a response that fails
// to parse is treated as a failure so the caller falls back to term-frequency
// heuristics rather than indexing a garbled title.
func (c *LocalClient) Analyze(ctx context.Context, model, excerpt string) (*Analysis, error) {
	prompt := fmt.Sprintf(`Analysiere das folgende Dokument und antworte ausschliesslich mit JSON der Form
{"title": "...", "summary": "...", "keywords": ["..."], "category": "..."}.

Dokument:
%s`, excerpt)

	body, err := json.Marshal(localRequest{Model: model, Prompt: prompt, Stream: false, Temperature: 0.1})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local inference server returned status %d", resp.StatusCode)
	}

	var raw localResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(raw.Response), &analysis); err != nil {
		return nil, fmt.Errorf("local model did not return valid analysis JSON: %w", err)
	}
	return &analysis, nil
}

// AnthropicClient escalates document analysis to Anthropic's hosted API,
// used only when configured and only after the local model's output has
// failed validation, keeping normal ingest fully on-appliance.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.ModelClaude3_5HaikuLatest,
	}
}

func (c *AnthropicClient) Analyze(ctx context.Context, excerpt string) (*Analysis, error) {
	prompt := fmt.Sprintf(`Analysiere das folgende Dokument und antworte ausschliesslich mit JSON der Form
{"title": "...", "summary": "...", "keywords": ["..."], "category": "..."}.

Dokument:
%s`, excerpt)

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic analysis request: %w", err)
	}
	if len(msg.Content) == 0 {
		return nil, fmt.Errorf("anthropic analysis returned no content")
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(msg.Content[0].Text), &analysis); err != nil {
		return nil, fmt.Errorf("anthropic did not return valid analysis JSON: %w", err)
	}
	return &analysis, nil
}
