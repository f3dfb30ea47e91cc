// Package analytics computes failure trends, rule effectiveness, and file
// hotspots from FailureEvents, using INSERT OR IGNORE for per-day dedup.
package analytics

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ai-framework/daemon/internal/errkind"
	"github.com/ai-framework/daemon/internal/storage"
)

// Category enumerates FailureEvent.category.
type Category string

const (
	CategoryLint Category = "lint"
	CategoryTest Category = "test"
	CategoryTDD  Category = "tdd"
)

// FailureEvent is a hook observation of a lint/test/TDD failure.
type FailureEvent struct {
	Category      Category
	FilePath      string
	Detail        string // truncated to 200 chars
	Day           string // UTC date, YYYY-MM-DD
	SignatureHash string
}

const detailMaxLen = 200

// NewFailureEvent builds a FailureEvent with detail truncated and
// signature_hash derived per-day dedup invariant.
func NewFailureEvent(category Category, filePath, detail string, day time.Time) FailureEvent {
	if len(detail) > detailMaxLen {
		detail = detail[:detailMaxLen]
	}
	dayStr := day.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", category, filePath, detail, dayStr)))
	return FailureEvent{
		Category:      category,
		FilePath:      filePath,
		Detail:        detail,
		Day:           dayStr,
		SignatureHash: hex.EncodeToString(sum[:]),
	}
}

// Store persists failure events.
type Store struct {
	eng *storage.Engine
}

var Migrations = []storage.Migration{
	{Name: "analytics_init", Func: func(db *sql.DB) error {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS failure_events (
				signature_hash TEXT PRIMARY KEY,
				category TEXT NOT NULL,
				file_path TEXT NOT NULL,
				detail TEXT NOT NULL,
				day TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_failure_events_day ON failure_events(day)`,
			`CREATE INDEX IF NOT EXISTS idx_failure_events_file ON failure_events(file_path)`,
		}
		for _, s := range stmts {
			if _, err := db.Exec(s); err != nil {
				return err
			}
		}
		return nil
	}},
}

func Open(path string) (*Store, error) {
	eng, err := storage.Open(path, Migrations)
	if err != nil {
		return nil, err
	}
	return &Store{eng: eng}, nil
}

func (s *Store) Close() error { return s.eng.Close() }

// RecordFailure dedups ev by signature_hash via INSERT OR IGNORE
//. Returns true if this was a new event.
func (s *Store) RecordFailure(ctx context.Context, ev FailureEvent) (bool, error) {
	var inserted bool
	err := s.eng.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT OR IGNORE INTO failure_events (signature_hash, category, file_path, detail, day)
			VALUES (?, ?, ?, ?, ?)`, ev.SignatureHash, string(ev.Category), ev.FilePath, ev.Detail, ev.Day)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, errkind.Wrap(errkind.StorageUnavailable, err, "record failure event")
	}
	return inserted, nil
}

// TrendPoint is one day's failure count in a trend window.
type TrendPoint struct {
	Day   string
	Count int
}

// Trend buckets failure events by UTC date over the last days days
//.
func (s *Store) Trend(ctx context.Context, category Category, days int, now time.Time) ([]TrendPoint, error) {
	since := now.UTC().AddDate(0, 0, -days).Format("2006-01-02")
	rows, err := s.eng.DB().QueryContext(ctx, `
		SELECT day, COUNT(*) FROM failure_events
		WHERE day >= ? AND (? = '' OR category = ?)
		GROUP BY day ORDER BY day ASC`, since, string(category), string(category))
	if err != nil {
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "compute trend")
	}
	defer rows.Close()

	var out []TrendPoint
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Day, &p.Count); err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "scan trend point")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Hotspot is a file ranked by failure count within a window.
type Hotspot struct {
	FilePath string
	Count    int
}

// Hotspots returns the top files by failure count within the last days
// days.
func (s *Store) Hotspots(ctx context.Context, days, topN int, now time.Time) ([]Hotspot, error) {
	if topN <= 0 {
		topN = 10
	}
	since := now.UTC().AddDate(0, 0, -days).Format("2006-01-02")
	rows, err := s.eng.DB().QueryContext(ctx, `
		SELECT file_path, COUNT(*) as c FROM failure_events
		WHERE day >= ? GROUP BY file_path ORDER BY c DESC LIMIT ?`, since, topN)
	if err != nil {
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "compute hotspots")
	}
	defer rows.Close()

	var out []Hotspot
	for rows.Next() {
		var h Hotspot
		if err := rows.Scan(&h.FilePath, &h.Count); err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "scan hotspot")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// EffectivenessVerdict enumerates the rule-effectiveness bands.
type EffectivenessVerdict string

const (
	Effective   EffectivenessVerdict = "effective"
	Neutral     EffectivenessVerdict = "neutral"
	Ineffective EffectivenessVerdict = "ineffective"
)

// Effectiveness computes a rule's effectiveness score and verdict given
// its baseline and current failure rates:
// ratio = current / max(baseline, 0.01); score = clamp(1 - ratio/2, 0, 1).
func Effectiveness(baselineFailuresPerDay, currentFailuresPerDay float64) (score float64, verdict EffectivenessVerdict) {
	baseline := baselineFailuresPerDay
	if baseline < 0.01 {
		baseline = 0.01
	}
	ratio := currentFailuresPerDay / baseline
	score = 1 - ratio/2
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	switch {
	case score > 0.6:
		verdict = Effective
	case score >= 0.4:
		verdict = Neutral
	default:
		verdict = Ineffective
	}
	return score, verdict
}

// CurrentFailuresPerDay derives a rate from a failure count over a window,
// used to feed Effectiveness from Trend/category totals.
func CurrentFailuresPerDay(totalFailures int, windowDays int) float64 {
	if windowDays <= 0 {
		windowDays = 1
	}
	return float64(totalFailures) / float64(windowDays)
}
