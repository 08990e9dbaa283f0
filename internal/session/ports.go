package session

import (
	"context"

	"github.com/yourorg/mianshi/internal/scoring"
	"github.com/yourorg/mianshi/pkg/types"
)

// Transcriber turns a WAV payload into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, apiKey string) (string, error)
}

// Scorer evaluates one question/answer pair.
type Scorer interface {
	Score(ctx context.Context, req scoring.Request) (string, error)
}

// RecordWriter persists a scored exchange.
type RecordWriter interface {
	Insert(ctx context.Context, question, answer, result string) (types.PracticeRecord, error)
}

// Recorder yields one finite audio payload. A nil payload with a nil error
// means nothing was recorded.
type Recorder interface {
	Record(ctx context.Context) ([]byte, error)
}

// Display renders flow state and surfaces errors to the user.
type Display interface {
	Render(snap Snapshot)
	Error(err error)
}

type nopDisplay struct{}

func (nopDisplay) Render(Snapshot) {}
func (nopDisplay) Error(error)     {}
