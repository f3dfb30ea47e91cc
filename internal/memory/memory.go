// Package memory persists MemoryEvent and Session records in the memory.db
// subsystem database, with FTS5 full-text search over event text kept in
// sync via insert/delete triggers on the base table.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ai-framework/daemon/internal/errkind"
	"github.com/ai-framework/daemon/internal/storage"
)

// EventType enumerates MemoryEvent.type.
type EventType string

const (
	Decision        EventType = "decision"
	Discovery       EventType = "discovery"
	Lesson          EventType = "lesson"
	RejectedPattern EventType = "rejected_pattern"
	PatternCand     EventType = "pattern_candidate"
	Event           EventType = "event"
)

// MemoryEvent is a durable, immutable observation.
type MemoryEvent struct {
	ID          string
	CreatedAt   time.Time
	Type        EventType
	Text        string
	Tags        []string
	Refs        map[string]string
	Importance  float64
	SessionID   string // empty means no session
}

// Session is a contiguous assistant conversation.
type Session struct {
	SessionID     string
	StartedAt     time.Time
	EndedAt       *time.Time
	Project       string
	InitialPrompt string
}

// Store persists MemoryEvent and Session rows.
type Store struct {
	eng *storage.Engine
}

var Migrations = []storage.Migration{
	{Name: "memory_init", Func: func(db *sql.DB) error {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS memory_events (
				id TEXT PRIMARY KEY,
				created_at DATETIME NOT NULL,
				type TEXT NOT NULL,
				text TEXT NOT NULL,
				tags TEXT NOT NULL DEFAULT '',
				refs TEXT NOT NULL DEFAULT '{}',
				importance REAL NOT NULL DEFAULT 0,
				session_id TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_memory_events_session ON memory_events(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_memory_events_type ON memory_events(type)`,
			`CREATE INDEX IF NOT EXISTS idx_memory_events_created ON memory_events(created_at)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS memory_events_fts USING fts5(
				text, tags,
				content='memory_events',
				content_rowid='rowid'
			)`,
			`CREATE TABLE IF NOT EXISTS sessions (
				session_id TEXT PRIMARY KEY,
				started_at DATETIME NOT NULL,
				ended_at DATETIME,
				project TEXT NOT NULL DEFAULT '',
				initial_prompt TEXT NOT NULL DEFAULT ''
			)`,
		}
		for _, s := range stmts {
			if _, err := db.Exec(s); err != nil {
				return err
			}
		}
		return nil
	}},
	{Name: "memory_fts_triggers", Func: func(db *sql.DB) error {
		stmts := []string{
			`CREATE TRIGGER IF NOT EXISTS memory_events_ai AFTER INSERT ON memory_events BEGIN
				INSERT INTO memory_events_fts(rowid, text, tags) VALUES (new.rowid, new.text, new.tags);
			END`,
			`CREATE TRIGGER IF NOT EXISTS memory_events_ad AFTER DELETE ON memory_events BEGIN
				INSERT INTO memory_events_fts(memory_events_fts, rowid, text, tags) VALUES ('delete', old.rowid, old.text, old.tags);
			END`,
		}
		for _, s := range stmts {
			if _, err := db.Exec(s); err != nil {
				return err
			}
		}
		return nil
	}},
}

// Open opens (or creates) the memory database at path.
func Open(path string) (*Store, error) {
	eng, err := storage.Open(path, Migrations)
	if err != nil {
		return nil, err
	}
	return &Store{eng: eng}, nil
}

func (s *Store) Close() error { return s.eng.Close() }

// SaveEvent persists ev, generating an id and created_at if unset.
func (s *Store) SaveEvent(ctx context.Context, ev MemoryEvent) (MemoryEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Importance < 0 || ev.Importance > 1 {
		return MemoryEvent{}, errkind.New(errkind.Validation, "importance must be in [0,1], got %f", ev.Importance)
	}
	ev.Tags = normalizeTags(ev.Tags)
	tagsStr := strings.Join(ev.Tags, ",")
	refsJSON, err := json.Marshal(ev.Refs)
	if err != nil {
		return MemoryEvent{}, errkind.Wrap(errkind.Validation, err, "marshal refs")
	}

	err = s.eng.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO memory_events (id, created_at, type, text, tags, refs, importance, session_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.CreatedAt.Format(time.RFC3339Nano), string(ev.Type), ev.Text, tagsStr, string(refsJSON), ev.Importance, ev.SessionID)
		return err
	})
	if err != nil {
		return MemoryEvent{}, errkind.Wrap(errkind.StorageUnavailable, err, "save memory event")
	}
	return ev, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Search performs FTS5 full-text search over event text/tags, ordered by
// bm25 relevance.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]MemoryEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.eng.DB().QueryContext(ctx, `
		SELECT e.id, e.created_at, e.type, e.text, e.tags, e.refs, e.importance, e.session_id
		FROM memory_events e
		JOIN memory_events_fts f ON e.rowid = f.rowid
		WHERE memory_events_fts MATCH ?
		ORDER BY bm25(memory_events_fts)
		LIMIT ?
	`, ftsQuery(query), limit)
	if err != nil {
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "search memory events")
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ftsQuery escapes a free-form query into a safe FTS5 MATCH expression by
// quoting each token, so punctuation in the query is treated as literal
// terms rather than FTS5 query syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return `""`
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// Timeline returns events with created_at in [since, until), sorted
// ascending (readers must sort explicitly ).
func (s *Store) Timeline(ctx context.Context, since, until time.Time) ([]MemoryEvent, error) {
	rows, err := s.eng.DB().QueryContext(ctx, `
		SELECT id, created_at, type, text, tags, refs, importance, session_id
		FROM memory_events
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC
	`, since.Format(time.RFC3339Nano), until.Format(time.RFC3339Nano))
	if err != nil {
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "timeline")
	}
	defer rows.Close()
	return scanEvents(rows)
}

// FetchByIDs returns events by id, in the order their ids were given where found.
func (s *Store) FetchByIDs(ctx context.Context, ids []string) ([]MemoryEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = strings.TrimSuffix(placeholders, ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.eng.DB().QueryContext(ctx, `
		SELECT id, created_at, type, text, tags, refs, importance, session_id
		FROM memory_events WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "fetch by ids")
	}
	defer rows.Close()
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]MemoryEvent, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}
	ordered := make([]MemoryEvent, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

func scanEvents(rows *sql.Rows) ([]MemoryEvent, error) {
	var out []MemoryEvent
	for rows.Next() {
		var e MemoryEvent
		var createdAt, tagsStr, refsStr string
		if err := rows.Scan(&e.ID, &createdAt, &e.Type, &e.Text, &tagsStr, &refsStr, &e.Importance, &e.SessionID); err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "scan memory event")
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "parse created_at")
		}
		e.CreatedAt = t
		if tagsStr != "" {
			e.Tags = strings.Split(tagsStr, ",")
		}
		_ = json.Unmarshal([]byte(refsStr), &e.Refs)
		out = append(out, e)
	}
	return out, rows.Err()
}

// InitSession creates or resumes a session.
func (s *Store) InitSession(ctx context.Context, sessionID, project, initialPrompt string) (Session, error) {
	if sessionID == "" {
		sessionID = "default"
	}
	sess := Session{SessionID: sessionID, StartedAt: time.Now().UTC(), Project: project, InitialPrompt: initialPrompt}
	err := s.eng.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT OR IGNORE INTO sessions (session_id, started_at, project, initial_prompt) VALUES (?, ?, ?, ?)`,
			sess.SessionID, sess.StartedAt.Format(time.RFC3339Nano), sess.Project, sess.InitialPrompt)
		return err
	})
	if err != nil {
		return Session{}, errkind.Wrap(errkind.StorageUnavailable, err, "init session")
	}
	return sess, nil
}

// ListSessions returns the most recently started sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.eng.DB().QueryContext(ctx, `
		SELECT session_id, started_at, ended_at, project, initial_prompt
		FROM sessions ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "list sessions")
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var started string
		var ended sql.NullString
		if err := rows.Scan(&sess.SessionID, &started, &ended, &sess.Project, &sess.InitialPrompt); err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "scan session")
		}
		sess.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if ended.Valid {
			t, _ := time.Parse(time.RFC3339Nano, ended.String)
			sess.EndedAt = &t
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
