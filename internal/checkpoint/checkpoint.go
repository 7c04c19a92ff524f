// Package checkpoint persists per-unit progress for a translation run
// as an append-only JSONL file next to the output, so an interrupted
// run can resume without redoing finished work.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/epubtrans/epubtrans/pkg/log"
)

// Status of a unit in the checkpoint log. Later lines for the same
// unit supersede earlier ones, so a retry after a failure ends up Done.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

const (
	refInlinePrefix = "inline:"
	refCachePrefix  = "cache:"
)

// Record is one checkpoint line.
type Record struct {
	UnitID    string    `json:"unit_id"`
	Status    Status    `json:"status"`
	ResultRef string    `json:"result_ref,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InlineValue returns the translated value when the record carries it
// inline rather than as a cache reference.
func (r Record) InlineValue() (string, bool) {
	if strings.HasPrefix(r.ResultRef, refInlinePrefix) {
		return strings.TrimPrefix(r.ResultRef, refInlinePrefix), true
	}
	return "", false
}

// CacheRef returns the cache key string when the record points at the
// shared cache instead of carrying the value inline.
func (r Record) CacheRef() (string, bool) {
	if strings.HasPrefix(r.ResultRef, refCachePrefix) {
		return strings.TrimPrefix(r.ResultRef, refCachePrefix), true
	}
	return "", false
}

// InlineRef builds a result_ref that embeds the value itself.
func InlineRef(value string) string { return refInlinePrefix + value }

// CacheKeyRef builds a result_ref that points at a cache entry.
func CacheKeyRef(key string) string { return refCachePrefix + key }

// PathFor derives the checkpoint file path for an output file.
func PathFor(outputPath string) string {
	return outputPath + ".checkpoint.jsonl"
}

// Manager appends records for one run. Writes are serialized; every
// append hits the file immediately so a crash loses at most the line
// being written.
type Manager struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open creates or reopens the checkpoint file for appending.
func Open(path string) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	return &Manager{path: path, f: f}, nil
}

// Load reads a checkpoint file into a map keyed by unit ID. A missing
// file means a fresh run and yields an empty map. Corrupt lines (for
// example a torn tail after a crash) are skipped with a warning so a
// resume never fails on its own checkpoint.
func Load(path string) (map[string]Record, error) {
	records := make(map[string]Record)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return records, nil
		}
		return nil, fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	skipped := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.UnitID == "" {
			skipped++
			continue
		}
		records[rec.UnitID] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	if skipped > 0 {
		log.Warn("checkpoint %s: skipped %d corrupt line(s) of %d", path, skipped, lineNo)
	}
	return records, nil
}

// RecordDone marks a unit finished and stores where its result lives.
func (m *Manager) RecordDone(unitID, resultRef string) error {
	return m.append(Record{
		UnitID:    unitID,
		Status:    StatusDone,
		ResultRef: resultRef,
		UpdatedAt: time.Now().UTC(),
	})
}

// RecordFailed marks a unit as permanently failed for this run.
func (m *Manager) RecordFailed(unitID, reason string) error {
	return m.append(Record{
		UnitID:    unitID,
		Status:    StatusFailed,
		Reason:    reason,
		UpdatedAt: time.Now().UTC(),
	})
}

func (m *Manager) append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return fmt.Errorf("checkpoint %s: already closed", m.path)
	}
	if _, err := m.f.Write(data); err != nil {
		return fmt.Errorf("append checkpoint %s: %w", m.path, err)
	}
	return nil
}

// Flush forces the appended records to stable storage.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	return m.f.Sync()
}

// Close syncs and closes the file. The manager must not be used after.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Sync()
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	m.f = nil
	return err
}

// Remove deletes the checkpoint file once a run completed cleanly.
func Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
