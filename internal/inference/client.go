package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"

	"github.com/cascadeai/modelmesh/internal/errors"
	"github.com/cascadeai/modelmesh/internal/httpkit"
	"github.com/cascadeai/modelmesh/internal/registry"
)

// Client is a thin typed wrapper over one inference server's OpenAI-compatible
// completion endpoint, grounded on the teacher's pattern of one long-lived SDK
// client per downstream peer (adapted here from an OpenAI-key-authenticated
// client to an unauthenticated loopback one per model server).
type Client struct {
	modelID string
	tier    registry.Tier
	sdk     *openai.Client
}

// New constructs a Client bound to one server's base URL. The SDK's own retry
// loop is disabled (option.WithMaxRetries(0)) because retry/backoff/deadline
// semantics here are tier-driven and must be layered explicitly — see Complete.
func New(modelID string, tier registry.Tier, baseURL string) *Client {
	normalized, err := httpkit.NormalizeBaseURL(baseURL)
	if err != nil {
		normalized = baseURL
	}
	// The client-level timeout is a backstop above the powerful tier's 120s
	// deadline; per-call cancellation is the context deadline Complete applies.
	httpClient := httpkit.NewClient(httpkit.ClientConfig{BaseURL: normalized, Timeout: 150 * time.Second}, httpkit.DefaultClientDefaults())

	sdk := openai.NewClient(
		option.WithBaseURL(normalized),
		option.WithAPIKey("unused"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)
	return &Client{modelID: modelID, tier: tier, sdk: &sdk}
}

// Complete runs one prompt to completion, enforcing the tier's outer deadline
// and retrying only Transient failures with the tier's linear backoff
// (spec.md §4.C). It returns ErrDeadline if the tier deadline has already
// passed before an attempt, or if the time left is no longer than the backoff
// that would precede the next retry.
func (c *Client) Complete(ctx context.Context, prompt string, opts Options) (Completion, error) {
	cfg := configFor(c.tier)

	deadlineCtx, cancel := context.WithTimeout(ctx, cfg.Deadline)
	defer cancel()

	deadline, _ := deadlineCtx.Deadline()

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryCount; attempt++ {
		if time.Until(deadline) <= 0 {
			return Completion{}, errors.Deadline("inference")
		}

		completion, raw, err := c.complete(deadlineCtx, prompt, opts)
		if err == nil {
			return Completion{
				Content:    completion,
				TokenCount: tokenCountOf(raw, completion),
				Raw:        raw,
			}, nil
		}
		lastErr = err

		if !transient(err) || attempt == cfg.RetryCount {
			return Completion{}, fmt.Errorf("inference %s: %w", c.modelID, err)
		}
		if time.Until(deadline) <= cfg.RetryDelay {
			return Completion{}, errors.Deadline("inference")
		}

		select {
		case <-time.After(cfg.RetryDelay):
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		}
	}
	return Completion{}, fmt.Errorf("inference %s: %w", c.modelID, lastErr)
}

func (c *Client) complete(ctx context.Context, prompt string, opts Options) (content string, raw string, err error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.modelID,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if len(opts.Stop) > 0 {
		params.Stop.OfStringArray = opts.Stop
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", "", err
	}
	if len(resp.Choices) == 0 {
		return "", "", errors.Internal("inference server returned no choices", nil)
	}

	rawJSON := resp.RawJSON()
	return resp.Choices[0].Message.Content, rawJSON, nil
}

// tokenCountOf prefers the server-reported usage field; falls back to a
// whitespace heuristic per spec.md §4.C when the field is absent.
func tokenCountOf(raw string, content string) int {
	if n := gjson.Get(raw, "usage.completion_tokens"); n.Exists() {
		return int(n.Int())
	}
	return len(strings.Fields(content))
}
