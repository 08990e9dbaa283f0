package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend is the row access SQLStore needs; store.SQLStore implements it.
type Backend interface {
	GetSetting(ctx context.Context, clientID, key string) (string, bool, error)
	PutSetting(ctx context.Context, clientID, key, value string) error
}

// SQLStore keeps one client's settings as (client_id, key) rows.
type SQLStore struct {
	backend  Backend
	clientID string
}

func NewSQLStore(backend Backend, clientID string) (*SQLStore, error) {
	if backend == nil {
		return nil, errors.New("settings backend is nil")
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, errors.New("client id is empty")
	}
	return &SQLStore{backend: backend, clientID: clientID}, nil
}

// ClientID is the owner of the rows.
func (s *SQLStore) ClientID() string { return s.clientID }

func (s *SQLStore) Get(ctx context.Context, key Key) (string, bool, error) {
	if !key.Valid() {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return s.backend.GetSetting(ctx, s.clientID, string(key))
}

func (s *SQLStore) Set(ctx context.Context, key Key, value string) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return s.backend.PutSetting(ctx, s.clientID, string(key), value)
}
