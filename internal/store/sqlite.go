package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/MJE43/pf-slot-go/internal/session"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteDB stores session records and spin history.
type SQLiteDB struct {
	db *sql.DB
}

var _ session.KV = (*SQLiteDB)(nil)

// Open opens or creates the database at path and applies migrations.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*SQLiteDB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes

	s := &SQLiteDB{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteDB) Close() error { return s.db.Close() }

// Migrate applies pending embedded migrations.
func (s *SQLiteDB) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("store: migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Version returns the applied schema version.
func (s *SQLiteDB) Version(ctx context.Context) (int64, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return 0, err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

// --------- KV ---------

// Get implements session.KV.
func (s *SQLiteDB) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	return value, nil
}

// Put implements session.KV.
func (s *SQLiteDB) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv(key, value, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// --------- Spins ---------

// SaveSpin appends rec to the history. It reports false when the wallet
// already has a record for the seed.
func (s *SQLiteDB) SaveSpin(ctx context.Context, rec *SpinRecord) (bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Wallet = strings.ToLower(strings.TrimSpace(rec.Wallet))

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO spins(id, wallet, seed, tier, reel0, reel1, reel2, score, kind, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(wallet, seed) DO NOTHING`,
		rec.ID.String(), rec.Wallet, rec.Seed, rec.Tier,
		rec.Outcome[0], rec.Outcome[1], rec.Outcome[2],
		rec.Score, rec.Kind, rec.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("store: save spin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListSpins returns a page of wallet's spins, newest first.
func (s *SQLiteDB) ListSpins(ctx context.Context, wallet string, page, perPage int) (*SpinsPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 || perPage > 500 {
		perPage = 50
	}
	wallet = strings.ToLower(strings.TrimSpace(wallet))

	out := &SpinsPage{Spins: []SpinRecord{}, Page: page, PerPage: perPage}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(score), 0) FROM spins WHERE wallet=?`, wallet,
	).Scan(&out.TotalCount, &out.TotalScore)
	if err != nil {
		return nil, fmt.Errorf("store: count spins: %w", err)
	}
	out.TotalPages = (out.TotalCount + perPage - 1) / perPage

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet, seed, tier, reel0, reel1, reel2, score, kind, created_at
		FROM spins WHERE wallet=?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`,
		wallet, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("store: list spins: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec SpinRecord
			id  string
		)
		if err := rows.Scan(&id, &rec.Wallet, &rec.Seed, &rec.Tier,
			&rec.Outcome[0], &rec.Outcome[1], &rec.Outcome[2],
			&rec.Score, &rec.Kind, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan spin: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("store: spin id %q: %w", id, err)
		}
		out.Spins = append(out.Spins, rec)
	}
	return out, rows.Err()
}
