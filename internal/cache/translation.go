package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/epubtrans/epubtrans/internal/unit"
)

// TranslationEntry is one row for PutBatch.
type TranslationEntry struct {
	Key         unit.CacheKey
	SourceText  string
	Translation string
}

// Get looks up one cached translation. Absence is not an error.
func (s *Store) Get(ctx context.Context, key unit.CacheKey) (string, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT translation FROM translations
		 WHERE text_hash = ? AND source_lang = ? AND target_lang = ? AND service = ?`,
		key.PayloadHash, key.SourceLang, key.TargetLang, key.Service,
	)
	var translation string
	if err := row.Scan(&translation); err != nil {
		if err == sql.ErrNoRows {
			s.misses.Add(1)
			return "", false, nil
		}
		return "", false, err
	}
	s.hits.Add(1)
	return translation, true, nil
}

// Put stores one translation. Re-putting the same key is an idempotent
// upsert; concurrent puts converge on the last writer.
func (s *Store) Put(ctx context.Context, key unit.CacheKey, sourceText, translation string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO translations (
			text_hash, source_lang, target_lang, service, source_text, translation, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(text_hash, source_lang, target_lang, service) DO UPDATE SET
			source_text=excluded.source_text,
			translation=excluded.translation`,
		key.PayloadHash,
		key.SourceLang,
		key.TargetLang,
		key.Service,
		sourceText,
		translation,
		time.Now().UTC(),
	)
	return err
}

// GetBatch resolves many keys in one query per (source, target,
// service) group. The result maps key.String() to the cached value;
// missing keys are simply absent.
func (s *Store) GetBatch(ctx context.Context, keys []unit.CacheKey) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	type group struct {
		sourceLang, targetLang, service string
	}
	hashesByGroup := make(map[group][]string)
	keysByHash := make(map[group]map[string][]unit.CacheKey)
	for _, key := range keys {
		g := group{key.SourceLang, key.TargetLang, key.Service}
		if keysByHash[g] == nil {
			keysByHash[g] = make(map[string][]unit.CacheKey)
		}
		if len(keysByHash[g][key.PayloadHash]) == 0 {
			hashesByGroup[g] = append(hashesByGroup[g], key.PayloadHash)
		}
		keysByHash[g][key.PayloadHash] = append(keysByHash[g][key.PayloadHash], key)
	}

	results := make(map[string]string)
	found := 0
	for g, hashes := range hashesByGroup {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
		query := fmt.Sprintf(
			`SELECT text_hash, translation FROM translations
			 WHERE text_hash IN (%s) AND source_lang = ? AND target_lang = ? AND service = ?`,
			placeholders,
		)
		args := make([]any, 0, len(hashes)+3)
		for _, hash := range hashes {
			args = append(args, hash)
		}
		args = append(args, g.sourceLang, g.targetLang, g.service)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var hash, translation string
			if err := rows.Scan(&hash, &translation); err != nil {
				rows.Close()
				return nil, err
			}
			for _, key := range keysByHash[g][hash] {
				results[key.String()] = translation
				found++
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	s.hits.Add(int64(found))
	s.misses.Add(int64(len(keys) - found))
	return results, nil
}

// PutBatch stores many translations in one transaction.
func (s *Store) PutBatch(ctx context.Context, entries []TranslationEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for _, entry := range entries {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO translations (
				text_hash, source_lang, target_lang, service, source_text, translation, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(text_hash, source_lang, target_lang, service) DO UPDATE SET
				source_text=excluded.source_text,
				translation=excluded.translation`,
			entry.Key.PayloadHash,
			entry.Key.SourceLang,
			entry.Key.TargetLang,
			entry.Key.Service,
			entry.SourceText,
			entry.Translation,
			now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Stats describes the cache contents and this process's hit rate.
type Stats struct {
	TranslationCount int64
	VerdictCount     int64
	SizeBytes        int64
	OldestEntry      time.Time
	NewestEntry      time.Time
	Hits             int64
	Misses           int64
}

func (st Stats) HitRate() float64 {
	total := st.Hits + st.Misses
	if total == 0 {
		return 0
	}
	return float64(st.Hits) / float64(total)
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translations`).Scan(&stats.TranslationCount); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ocr_verdicts`).Scan(&stats.VerdictCount); err != nil {
		return Stats{}, err
	}

	// MIN/MAX strip the column's declared type, so the sqlite driver
	// hands the aggregate back as a string in Go's default time format
	// rather than a value scannable into sql.NullTime.
	var oldest, newest sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(created_at), MAX(created_at) FROM translations`).Scan(&oldest, &newest); err != nil {
		return Stats{}, err
	}
	const storedTimeLayout = "2006-01-02 15:04:05.999999999 -0700 MST"
	if oldest.Valid {
		if t, err := time.Parse(storedTimeLayout, oldest.String); err == nil {
			stats.OldestEntry = t
		}
	}
	if newest.Valid {
		if t, err := time.Parse(storedTimeLayout, newest.String); err == nil {
			stats.NewestEntry = t
		}
	}

	if info, err := osStat(s.path); err == nil {
		stats.SizeBytes = info
	}

	stats.Hits = s.hits.Load()
	stats.Misses = s.misses.Load()
	return stats, nil
}

// PruneOlderThan deletes entries older than the cutoff from both
// tables and returns how many rows were removed.
func (s *Store) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	var removed int64
	res, err := s.db.ExecContext(ctx, `DELETE FROM translations WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	removed += n

	res, err = s.db.ExecContext(ctx, `DELETE FROM ocr_verdicts WHERE created_at < ?`, cutoff)
	if err != nil {
		return removed, err
	}
	n, _ = res.RowsAffected()
	removed += n
	return removed, nil
}

// Clear removes every cached entry and resets the counters.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM translations`); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ocr_verdicts`); err != nil {
		return err
	}
	s.hits.Store(0)
	s.misses.Store(0)
	return nil
}
