// Package settings holds the per-client credentials, model selection and
// prompt template. The schema is fixed to four keys.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/mianshi/internal/scoring"
)

// Key names one setting.
type Key string

const (
	KeyChatAPIKey          Key = "openrouter_api_key"
	KeyTranscriptionAPIKey Key = "lemonfox_api_key"
	KeyModelID             Key = "selected_model_id"
	KeyPromptTemplate      Key = "custom_interview_prompt"
)

var (
	ErrUnknownKey   = errors.New("unknown settings key")
	ErrUnknownModel = errors.New("unknown model id")
)

var allKeys = []Key{KeyChatAPIKey, KeyTranscriptionAPIKey, KeyModelID, KeyPromptTemplate}

// Keys returns the schema in display order.
func Keys() []Key {
	out := make([]Key, len(allKeys))
	copy(out, allKeys)
	return out
}

// Valid reports whether k belongs to the schema.
func (k Key) Valid() bool {
	for _, v := range allKeys {
		if v == k {
			return true
		}
	}
	return false
}

// Secret reports whether k holds a credential.
func (k Key) Secret() bool {
	return k == KeyChatAPIKey || k == KeyTranscriptionAPIKey
}

// ParseKey maps a raw name onto the schema.
func ParseKey(name string) (Key, error) {
	k := Key(strings.TrimSpace(name))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, name)
	}
	return k, nil
}

// Store is a key/value settings store for one client. It does not validate values.
type Store interface {
	Get(ctx context.Context, key Key) (string, bool, error)
	Set(ctx context.Context, key Key, value string) error
}

// Snapshot is a typed read of all four keys.
type Snapshot struct {
	ChatAPIKey          string `json:"openrouter_api_key" yaml:"openrouter_api_key"`
	TranscriptionAPIKey string `json:"lemonfox_api_key" yaml:"lemonfox_api_key"`
	ModelID             string `json:"selected_model_id" yaml:"selected_model_id"`
	PromptTemplate      string `json:"custom_interview_prompt" yaml:"custom_interview_prompt"`
}

// Load reads every key. Absent keys stay empty.
func Load(ctx context.Context, s Store) (Snapshot, error) {
	var snap Snapshot
	for _, k := range allKeys {
		v, _, err := s.Get(ctx, k)
		if err != nil {
			return Snapshot{}, err
		}
		*snap.field(k) = v
	}
	return snap, nil
}

// Value returns the snapshot value for k.
func (s Snapshot) Value(k Key) string {
	return *s.field(k)
}

func (s *Snapshot) field(k Key) *string {
	switch k {
	case KeyChatAPIKey:
		return &s.ChatAPIKey
	case KeyTranscriptionAPIKey:
		return &s.TranscriptionAPIKey
	case KeyModelID:
		return &s.ModelID
	default:
		return &s.PromptTemplate
	}
}

// SaveTemplate stores tpl after checking it references {question} and
// {answer}. A rejected template leaves the store untouched.
func SaveTemplate(ctx context.Context, s Store, tpl string) error {
	if err := scoring.ValidateTemplate(tpl); err != nil {
		return err
	}
	return s.Set(ctx, KeyPromptTemplate, tpl)
}

// ResetTemplate clears the custom template so the default is used again.
func ResetTemplate(ctx context.Context, s Store) error {
	return s.Set(ctx, KeyPromptTemplate, "")
}

// SaveModel stores id when it is one of scoring.Models.
func SaveModel(ctx context.Context, s Store, id string) error {
	id = strings.TrimSpace(id)
	if !scoring.IsKnownModel(id) {
		return fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return s.Set(ctx, KeyModelID, id)
}

// SaveCredential stores a trimmed API key under one of the secret keys.
func SaveCredential(ctx context.Context, s Store, key Key, value string) error {
	if !key.Secret() {
		return fmt.Errorf("%w: %q is not a credential", ErrUnknownKey, key)
	}
	return s.Set(ctx, key, strings.TrimSpace(value))
}

// Check validates value for key without writing it.
func Check(key Key, value string) error {
	switch key {
	case KeyChatAPIKey, KeyTranscriptionAPIKey:
		return nil
	case KeyModelID:
		if id := strings.TrimSpace(value); !scoring.IsKnownModel(id) {
			return fmt.Errorf("%w: %q", ErrUnknownModel, id)
		}
		return nil
	case KeyPromptTemplate:
		if strings.TrimSpace(value) == "" {
			return nil
		}
		return scoring.ValidateTemplate(value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
}

// Save routes a raw key/value pair to the matching validating save action.
func Save(ctx context.Context, s Store, key Key, value string) error {
	switch key {
	case KeyChatAPIKey, KeyTranscriptionAPIKey:
		return SaveCredential(ctx, s, key, value)
	case KeyModelID:
		return SaveModel(ctx, s, value)
	case KeyPromptTemplate:
		if strings.TrimSpace(value) == "" {
			return ResetTemplate(ctx, s)
		}
		return SaveTemplate(ctx, s, value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
}
