package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/yourorg/mianshi/internal/logging"
	"github.com/yourorg/mianshi/pkg/types"
)

// Request is one question/answer pair to evaluate.
type Request struct {
	Question string
	Answer   string
	// Template overrides DefaultTemplate when non-blank.
	Template string
	Model    string
	APIKey   string
}

// Client scores answers against an OpenAI-compatible chat completions API.
type Client struct {
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	Temperature  float64
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Score fills the template, sends it with the examiner system prompt and
// returns the first choice verbatim. Template and credential errors are
// returned before any request is made.
func (c *Client) Score(ctx context.Context, req Request) (string, error) {
	tpl := SelectTemplate(req.Template)
	if err := ValidateTemplate(tpl); err != nil {
		return "", err
	}
	prompt, err := Fill(tpl, req.Question, req.Answer)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return "", fmt.Errorf("%w: chat api key is empty", types.ErrConfiguration)
	}
	model := req.Model
	if model == "" {
		model = c.DefaultModel
	}
	if model == "" {
		model = DefaultModel
	}

	logger := logging.OrDiscard(c.Logger)
	logger.Debug("scoring request", "base_url", c.BaseURL, "model", model, "prompt_len", len(prompt))

	start := time.Now()
	resp, err := c.newClient(req.APIKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   c.MaxTokens,
		Temperature: float32(c.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: BuildSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrScoring, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", types.ErrScoring)
	}
	content := resp.Choices[0].Message.Content
	logger.Debug("scoring response", "model", model, "tokens", resp.Usage.TotalTokens, "elapsed", time.Since(start))
	return content, nil
}

func (c *Client) newClient(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if c.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(c.BaseURL, "/")
	}
	if c.HTTPClient != nil {
		cfg.HTTPClient = c.HTTPClient
	} else {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	return openai.NewClientWithConfig(cfg)
}
