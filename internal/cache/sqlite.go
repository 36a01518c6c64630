package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the durable sqlite-backed Cache. database/sql serializes access
// to the single connection, so Store satisfies the Cache concurrency
// contract without extra locking.
type Store struct {
	db *sql.DB
}

var _ Cache = (*Store)(nil)

// Open opens (creating if needed) the cache database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS translation_cache (
		key TEXT PRIMARY KEY,
		source_text TEXT NOT NULL,
		translated_text TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		term_version TEXT NOT NULL,
		usage_count INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS terminology (
		id TEXT PRIMARY KEY,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		surface TEXT NOT NULL,
		normalized TEXT NOT NULL,
		translation TEXT,
		frequency INTEGER DEFAULT 0,
		user_term BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_lang, target_lang, normalized)
	);

	CREATE INDEX IF NOT EXISTS idx_cache_langs ON translation_cache(source_lang, target_lang);
	CREATE INDEX IF NOT EXISTS idx_terminology_lookup ON terminology(source_lang, target_lang);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var translated string
	err := s.db.QueryRowContext(ctx,
		`SELECT translated_text FROM translation_cache WHERE key = ?`,
		key).Scan(&translated)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE translation_cache SET usage_count = usage_count + 1, last_used = ? WHERE key = ?`,
		time.Now(), key)
	return translated, true, err
}

// Put inserts the entry unless the key already exists. INSERT OR IGNORE
// gives the first writer the win and makes concurrent identical writes
// no-ops, which is the at-most-one-writer-per-key contract.
func (s *Store) Put(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO translation_cache
		 (key, source_text, translated_text, source_lang, target_lang, term_version)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Key, e.SourceText, e.TranslatedText, e.SourceLang, e.TargetLang, e.TermVersion)
	return err
}

// List returns all entries ordered by most recently used.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, source_text, translated_text, source_lang, target_lang, term_version, usage_count
		 FROM translation_cache ORDER BY last_used DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.SourceText, &e.TranslatedText,
			&e.SourceLang, &e.TargetLang, &e.TermVersion, &e.UsageCount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns summary statistics for the cache CLI.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(usage_count), 0) FROM translation_cache`).
		Scan(&stats.TotalEntries, &stats.TotalUsage)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Clear removes all cached translations and reports how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_cache`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TermRecord is one persisted terminology entry for a language pair.
type TermRecord struct {
	ID          string
	SourceLang  string
	TargetLang  string
	Surface     string
	Normalized  string
	Translation string
	Frequency   int
	UserTerm    bool
}

// SaveTerms persists extracted or imported terminology, replacing existing
// entries with the same normalized form for the language pair.
func (s *Store) SaveTerms(ctx context.Context, records []TermRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range records {
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO terminology
			 (id, source_lang, target_lang, surface, normalized, translation, frequency, user_term)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, r.SourceLang, r.TargetLang, r.Surface, r.Normalized,
			r.Translation, r.Frequency, r.UserTerm); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListTerms returns the persisted terminology for a language pair, ordered
// by descending frequency.
func (s *Store) ListTerms(ctx context.Context, sourceLang, targetLang string) ([]TermRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_lang, target_lang, surface, normalized, translation, frequency, user_term
		 FROM terminology WHERE source_lang = ? AND target_lang = ?
		 ORDER BY frequency DESC, surface`,
		sourceLang, targetLang)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TermRecord
	for rows.Next() {
		var r TermRecord
		var translation sql.NullString
		if err := rows.Scan(&r.ID, &r.SourceLang, &r.TargetLang, &r.Surface,
			&r.Normalized, &translation, &r.Frequency, &r.UserTerm); err != nil {
			return nil, err
		}
		r.Translation = translation.String
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
