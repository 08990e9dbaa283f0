package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/yourorg/mianshi/internal/logging"
	"github.com/yourorg/mianshi/pkg/types"
)

const selectRecords = `SELECT id,created_at,question,answer,result FROM interview_history`

// SQLStore is the database/sql backed HistoryStore. It also carries the
// client_settings table used by settings.SQLStore.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes an SQLStore.
type Option func(*SQLStore)

// WithLogger sets the logger used for soft-failed reads.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLStore) { s.logger = l }
}

// WithClock overrides the insert timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) { s.now = now }
}

// Open connects to driver (sqlite, postgres or mysql) and creates the schema.
func Open(driver, dsn string, opts ...Option) (*SQLStore, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	if d.name == "mysql" {
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: db, dialect: d, logger: logging.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if d.name == "sqlite" {
		// One writer at a time keeps sqlite from returning SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore opens a sqlite database file.
func NewSQLiteStore(path string, opts ...Option) (*SQLStore, error) {
	return Open("sqlite", path, opts...)
}

func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN(), nil
}

func (s *SQLStore) Init() error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

// Driver returns the configured dialect name.
func (s *SQLStore) Driver() string { return s.dialect.Name() }

func (s *SQLStore) List(ctx context.Context) []types.PracticeRecord {
	out := make([]types.PracticeRecord, 0)
	rows, err := s.db.QueryContext(ctx, selectRecords+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		s.logger.Warn("history unavailable", "op", "list", "err", err)
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var r types.PracticeRecord
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Question, &r.Answer, &r.Result); err != nil {
			s.logger.Warn("history unavailable", "op", "scan", "err", err)
			return make([]types.PracticeRecord, 0)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("history unavailable", "op", "rows", "err", err)
		return make([]types.PracticeRecord, 0)
	}
	return out
}

func (s *SQLStore) Get(ctx context.Context, id int64) (*types.PracticeRecord, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(selectRecords+` WHERE id=?`), id)
	var r types.PracticeRecord
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.Question, &r.Answer, &r.Result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get record %d: %v", types.ErrPersistence, id, err)
	}
	return &r, nil
}

func (s *SQLStore) Insert(ctx context.Context, question, answer, result string) (types.PracticeRecord, error) {
	rec := types.PracticeRecord{
		CreatedAt: s.now().UTC(),
		Question:  question,
		Answer:    answer,
		Result:    result,
	}
	query := `INSERT INTO interview_history(created_at,question,answer,result) VALUES(?,?,?,?)`
	if s.dialect.returning {
		row := s.db.QueryRowContext(ctx, s.dialect.rebind(query+` RETURNING id`), rec.CreatedAt, rec.Question, rec.Answer, rec.Result)
		if err := row.Scan(&rec.ID); err != nil {
			return types.PracticeRecord{}, fmt.Errorf("%w: insert record: %v", types.ErrPersistence, err)
		}
		return rec, nil
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(query), rec.CreatedAt, rec.Question, rec.Answer, rec.Result)
	if err != nil {
		return types.PracticeRecord{}, fmt.Errorf("%w: insert record: %v", types.ErrPersistence, err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return types.PracticeRecord{}, fmt.Errorf("%w: insert record id: %v", types.ErrPersistence, err)
	}
	return rec, nil
}

func (s *SQLStore) DeleteByID(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM interview_history WHERE id=?`), id)
	if err != nil {
		return false, fmt.Errorf("%w: delete record %d: %v", types.ErrPersistence, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: delete record %d: %v", types.ErrPersistence, id, err)
	}
	return n == 1, nil
}

// GetSetting reads one client setting row.
func (s *SQLStore) GetSetting(ctx context.Context, clientID, key string) (string, bool, error) {
	q := s.dialect.rebind(`SELECT value FROM client_settings WHERE client_id=? AND ` + s.dialect.quoteKey() + `=?`)
	var v string
	err := s.db.QueryRowContext(ctx, q, clientID, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: read setting %s: %v", types.ErrPersistence, key, err)
	}
	return v, true, nil
}

// PutSetting inserts or replaces one client setting row.
func (s *SQLStore) PutSetting(ctx context.Context, clientID, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertSetting(), clientID, key, value, s.now().UTC()); err != nil {
		return fmt.Errorf("%w: write setting %s: %v", types.ErrPersistence, key, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return errors.New("store is nil")
	}
	return s.db.Close()
}
