package store

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type dialect struct {
	name       string
	driver     string
	schema     []string
	positional bool // $1, $2 placeholders instead of ?
	returning  bool // INSERT ... RETURNING id
}

var dialects = map[string]dialect{
	"sqlite": {
		name:   "sqlite",
		driver: "sqlite",
		schema: []string{
			`PRAGMA journal_mode=WAL;`,
			`CREATE TABLE IF NOT EXISTS interview_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at DATETIME NOT NULL,
				question TEXT NOT NULL,
				answer TEXT NOT NULL,
				result TEXT NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_history_created ON interview_history(created_at);`,
			`CREATE TABLE IF NOT EXISTS client_settings (
				client_id TEXT NOT NULL,
				key TEXT NOT NULL,
				value TEXT NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY(client_id, key)
			);`,
		},
		returning: true,
	},
	"postgres": {
		name:   "postgres",
		driver: "pgx",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS interview_history (
				id BIGSERIAL PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL,
				question TEXT NOT NULL,
				answer TEXT NOT NULL,
				result TEXT NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_history_created ON interview_history(created_at);`,
			`CREATE TABLE IF NOT EXISTS client_settings (
				client_id TEXT NOT NULL,
				key TEXT NOT NULL,
				value TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY(client_id, key)
			);`,
		},
		positional: true,
		returning:  true,
	},
	"mysql": {
		name:   "mysql",
		driver: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS interview_history (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				created_at DATETIME(6) NOT NULL,
				question TEXT NOT NULL,
				answer MEDIUMTEXT NOT NULL,
				result MEDIUMTEXT NOT NULL,
				INDEX idx_history_created (created_at)
			);`,
			"CREATE TABLE IF NOT EXISTS client_settings (" +
				"client_id VARCHAR(64) NOT NULL," +
				"`key` VARCHAR(64) NOT NULL," +
				"value TEXT NOT NULL," +
				"updated_at DATETIME(6) NOT NULL," +
				"PRIMARY KEY(client_id, `key`)" +
				");",
		},
	},
}

func lookupDialect(name string) (dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
	return d, nil
}

// Name is the config name of the dialect.
func (d dialect) Name() string { return d.name }

// rebind rewrites ? placeholders for dialects that need positional ones.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// quoteKey quotes the settings key column, which is reserved in mysql.
func (d dialect) quoteKey() string {
	if d.name == "mysql" {
		return "`key`"
	}
	return "key"
}

// upsertSetting is the insert-or-replace statement for client_settings.
func (d dialect) upsertSetting() string {
	k := d.quoteKey()
	if d.name == "mysql" {
		return d.rebind(`INSERT INTO client_settings(client_id,` + k + `,value,updated_at) VALUES(?,?,?,?)
		ON DUPLICATE KEY UPDATE value=VALUES(value), updated_at=VALUES(updated_at)`)
	}
	return d.rebind(`INSERT INTO client_settings(client_id,` + k + `,value,updated_at) VALUES(?,?,?,?)
	ON CONFLICT(client_id,` + k + `) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`)
}
