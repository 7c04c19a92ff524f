package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/epubtrans/epubtrans/internal/ocr"
	"github.com/epubtrans/epubtrans/internal/unit"
)

// GetVerdict looks up a cached OCR prescan verdict for an image key.
func (s *Store) GetVerdict(ctx context.Context, key unit.CacheKey) (ocr.Verdict, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT regions_json FROM ocr_verdicts
		 WHERE image_hash = ? AND source_lang = ? AND media_type = ? AND confidence_threshold = ?`,
		key.PayloadHash, key.SourceLang, key.MediaType, key.ConfidenceThreshold,
	)
	var regionsJSON string
	if err := row.Scan(&regionsJSON); err != nil {
		if err == sql.ErrNoRows {
			s.misses.Add(1)
			return ocr.Verdict{}, false, nil
		}
		return ocr.Verdict{}, false, err
	}

	var regions []ocr.Region
	if err := json.Unmarshal([]byte(regionsJSON), &regions); err != nil {
		return ocr.Verdict{}, false, err
	}
	s.hits.Add(1)
	return ocr.Verdict{Regions: regions}, true, nil
}

// PutVerdict stores a prescan verdict. An empty region list is the
// "no translatable text" verdict and is stored like any other.
func (s *Store) PutVerdict(ctx context.Context, key unit.CacheKey, verdict ocr.Verdict) error {
	regions := verdict.Regions
	if regions == nil {
		regions = []ocr.Region{}
	}
	payload, err := json.Marshal(regions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO ocr_verdicts (
			image_hash, source_lang, media_type, confidence_threshold, regions_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(image_hash, source_lang, media_type, confidence_threshold) DO UPDATE SET
			regions_json=excluded.regions_json`,
		key.PayloadHash,
		key.SourceLang,
		key.MediaType,
		key.ConfidenceThreshold,
		string(payload),
		time.Now().UTC(),
	)
	return err
}
