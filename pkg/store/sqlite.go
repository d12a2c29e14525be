package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/bedekelly/twistchat/pkg/model"
)

// SQLiteStore keeps the credential mapping in a SQLite database. Each Save
// replaces the whole table inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite database and runs migrations.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version: 1,
			statements: []string{
				`CREATE TABLE IF NOT EXISTS credentials (
					username    TEXT    PRIMARY KEY CHECK(length(username) > 0),
					secret      TEXT    NOT NULL,
					is_operator INTEGER NOT NULL DEFAULT 0 CHECK(is_operator IN (0, 1))
				)`,
				// saved is flipped on the first Save so an empty mapping can be
				// told apart from a fresh database.
				`CREATE TABLE IF NOT EXISTS store_state (
					saved INTEGER NOT NULL DEFAULT 0
				)`,
				`INSERT INTO store_state (saved) VALUES (0)`,
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store: migrate v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("store: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("store: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("store: update schema version: %w", err)
	}
	return nil
}

// Load returns every stored credential.
func (s *SQLiteStore) Load() (model.Credentials, error) {
	ctx := context.Background()

	var saved int
	if err := s.db.QueryRowContext(ctx, "SELECT saved FROM store_state LIMIT 1").Scan(&saved); err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	if saved == 0 {
		return nil, ErrNotExist
	}

	rows, err := s.db.QueryContext(ctx, "SELECT username, secret, is_operator FROM credentials")
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	defer func() { _ = rows.Close() }()

	creds := model.Credentials{}
	for rows.Next() {
		var (
			name string
			cred model.Credential
			op   int
		)
		if err := rows.Scan(&name, &cred.Secret, &op); err != nil {
			return nil, fmt.Errorf("store: load: %w", err)
		}
		cred.Operator = op != 0
		creds[name] = cred
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	return creds, nil
}

// Save replaces the stored mapping in a single transaction.
func (s *SQLiteStore) Save(creds model.Credentials) (err error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM credentials"); err != nil {
		return fmt.Errorf("store: save: clear: %w", err)
	}
	for _, name := range creds.Names() {
		cred := creds[name]
		op := 0
		if cred.Operator {
			op = 1
		}
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO credentials (username, secret, is_operator) VALUES (?, ?, ?)",
			name, cred.Secret, op); err != nil {
			return fmt.Errorf("store: save %q: %w", name, err)
		}
	}
	if _, err = tx.ExecContext(ctx, "UPDATE store_state SET saved = 1"); err != nil {
		return fmt.Errorf("store: save: mark saved: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: save: commit: %w", err)
	}
	return nil
}
