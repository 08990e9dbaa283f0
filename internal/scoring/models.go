package scoring

import "github.com/yourorg/mianshi/pkg/types"

// DefaultModel is used when no model has been selected.
const DefaultModel = "google/gemini-3-flash-preview"

var models = []types.Model{
	{ID: "google/gemini-3-flash-preview", Label: "Gemini 3 Flash"},
	{ID: "deepseek/deepseek-chat", Label: "DeepSeek V3"},
	{ID: "qwen/qwen-2.5-72b-instruct", Label: "Qwen 2.5 72B"},
	{ID: "openai/gpt-4o-mini", Label: "GPT-4o mini"},
	{ID: "anthropic/claude-sonnet-4.5", Label: "Claude Sonnet 4.5"},
}

// Models returns the selectable model ids in display order.
func Models() []types.Model {
	out := make([]types.Model, len(models))
	copy(out, models)
	return out
}

// IsKnownModel reports whether id is one of Models.
func IsKnownModel(id string) bool {
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}
