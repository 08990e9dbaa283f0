package transcribe

import (
	"bytes"
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

const (
	// FileName is the multipart file name sent with every payload. go-openai
	// writes the part as application/octet-stream, not audio/wav, so the
	// service identifies the format by this extension alone.
	FileName = "audio.wav"
	// Fallback is returned when the service answers without any text.
	Fallback = "未能识别到文字"
	// FailurePrefix marks a transcript that carries an error instead of speech.
	FailurePrefix = "语音转换失败: "
)

// Client sends WAV payloads to an OpenAI-compatible /audio/transcriptions endpoint.
type Client struct {
	BaseURL    string
	Model      string
	Language   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Transcribe returns the recognized text of audio. A response without text
// yields Fallback and a nil error; every other failure wraps ErrTranscription.
func (c *Client) Transcribe(ctx context.Context, audio []byte, apiKey string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: empty audio payload", types.ErrTranscription)
	}
	if strings.TrimSpace(apiKey) == "" {
		return "", fmt.Errorf("%w: transcription api key is empty", types.ErrConfiguration)
	}
	language := c.Language
	if language == "" {
		language = "chinese"
	}
	model := c.Model
	if model == "" {
		model = openai.Whisper1
	}

	logger := logging.OrDiscard(c.Logger)
	logger.Debug("transcription request", "base_url", c.BaseURL, "bytes", len(audio), "language", language)

	start := time.Now()
	resp, err := c.newClient(apiKey).CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: FileName,
		Reader:   bytes.NewReader(audio),
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrTranscription, err)
	}
	text := strings.TrimSpace(resp.Text)
	logger.Debug("transcription response", "chars", len([]rune(text)), "elapsed", time.Since(start))
	if text == "" {
		return Fallback, nil
	}
	return text, nil
}

// FailureText renders err the way a failed transcript is shown to the user.
func FailureText(err error) string {
	return FailurePrefix + err.Error()
}

// IsFailureText reports whether text was produced by FailureText.
func IsFailureText(text string) bool {
	return strings.HasPrefix(text, FailurePrefix)
}

func (c *Client) newClient(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if c.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(c.BaseURL, "/")
	}
	if c.HTTPClient != nil {
		cfg.HTTPClient = c.HTTPClient
	} else {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return openai.NewClientWithConfig(cfg)
}
