package store

import (
	"context"
	"errors"

	"github.com/yourorg/mianshi/pkg/types"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("record not found")

// HistoryStore persists practice records.
type HistoryStore interface {
	// List returns records newest first. It returns an empty slice when the
	// backing store cannot be read.
	List(ctx context.Context) []types.PracticeRecord
	Get(ctx context.Context, id int64) (*types.PracticeRecord, error)
	Insert(ctx context.Context, question, answer, result string) (types.PracticeRecord, error)
	// DeleteByID reports whether a record with id existed and was removed.
	DeleteByID(ctx context.Context, id int64) (bool, error)

	Close() error
}
