// Package governance indexes markdown/doc files with header-level chunking,
// content-hash change detection, and BM25 keyword ranking over an FTS5
// virtual table.
package governance

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ai-framework/daemon/internal/errkind"
	"github.com/ai-framework/daemon/internal/storage"
)

// DocType enumerates GovernanceChunk.doc_type.
type DocType string

const (
	DocRule         DocType = "rule"
	DocADR          DocType = "adr"
	DocTemplate     DocType = "template"
	DocSkill        DocType = "skill"
	DocAgent        DocType = "agent"
	DocArchitecture DocType = "architecture"
	DocProject      DocType = "project"
)

// GovernanceChunk is one retrievable piece of a doc.
type GovernanceChunk struct {
	FilePath    string
	ChunkIndex  int
	DocType     DocType
	Heading     string
	Body        string
	ContentHash string
	UpdatedAt   time.Time
}

// Store persists governance chunks in governance.db.
type Store struct {
	eng *storage.Engine
}

var Migrations = []storage.Migration{
	{Name: "governance_init", Func: func(db *sql.DB) error {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS governance_chunks (
				file_path TEXT NOT NULL,
				chunk_index INTEGER NOT NULL,
				doc_type TEXT NOT NULL,
				heading TEXT NOT NULL DEFAULT '',
				body TEXT NOT NULL,
				content_hash TEXT NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (file_path, chunk_index)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_governance_chunks_doctype ON governance_chunks(doc_type)`,
			`CREATE INDEX IF NOT EXISTS idx_governance_chunks_hash ON governance_chunks(file_path, content_hash)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS governance_chunks_fts USING fts5(
				heading, body,
				content='governance_chunks',
				content_rowid='rowid',
				tokenize='porter unicode61'
			)`,
			`CREATE TRIGGER IF NOT EXISTS governance_chunks_ai AFTER INSERT ON governance_chunks BEGIN
				INSERT INTO governance_chunks_fts(rowid, heading, body) VALUES (new.rowid, new.heading, new.body);
			END`,
			`CREATE TRIGGER IF NOT EXISTS governance_chunks_ad AFTER DELETE ON governance_chunks BEGIN
				INSERT INTO governance_chunks_fts(governance_chunks_fts, rowid, heading, body) VALUES ('delete', old.rowid, old.heading, old.body);
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

// Open opens (or creates) the governance database at path.
func Open(path string) (*Store, error) {
	eng, err := storage.Open(path, Migrations)
	if err != nil {
		return nil, err
	}
	return &Store{eng: eng}, nil
}

func (s *Store) Close() error { return s.eng.Close() }

// Root pairs a crawl directory with the doc_type it seeds, e.g. {DocRule, ".claude/rules"}.
type Root struct {
	DocType DocType
	Dir     string
}

// Reindex crawls every root, chunking changed markdown files and removing
// rows for files no longer on disk. Returns the number of files that were
// (re)indexed. Indexing is resumable: a file's chunks are replaced in a
// single transaction, so an interrupted run never leaves a partially
// chunked file.
func (s *Store) Reindex(ctx context.Context, roots []Root) (int, error) {
	seen := map[string]bool{}
	reindexed := 0

	for _, root := range roots {
		err := filepath.WalkDir(root.Dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // best-effort: skip unreadable entries
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".md") {
				return nil
			}
			seen[path] = true

			content, rerr := os.ReadFile(path)
			if rerr != nil {
				return nil
			}
			hash := sha256Hex(content)

			changed, cerr := s.fileChanged(ctx, path, hash)
			if cerr != nil {
				return cerr
			}
			if !changed {
				return nil
			}

			chunks := chunkMarkdown(string(content))
			if err := s.replaceFile(ctx, path, root.DocType, hash, chunks); err != nil {
				return err
			}
			reindexed++
			return nil
		})
		if err != nil {
			return reindexed, errkind.Wrap(errkind.Internal, err, "crawl %s", root.Dir)
		}
	}

	if err := s.removeStale(ctx, seen); err != nil {
		return reindexed, err
	}
	return reindexed, nil
}

func (s *Store) fileChanged(ctx context.Context, path, hash string) (bool, error) {
	var existing string
	err := s.eng.DB().QueryRowContext(ctx, `SELECT content_hash FROM governance_chunks WHERE file_path = ? LIMIT 1`, path).Scan(&existing)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, errkind.Wrap(errkind.StorageUnavailable, err, "check content hash")
	}
	return existing != hash, nil
}

func (s *Store) replaceFile(ctx context.Context, path string, docType DocType, hash string, chunks []rawChunk) error {
	now := time.Now().UTC()
	return s.eng.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM governance_chunks WHERE file_path = ?`, path); err != nil {
			return err
		}
		for i, c := range chunks {
			if _, err := tx.Exec(`INSERT INTO governance_chunks (file_path, chunk_index, doc_type, heading, body, content_hash, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				path, i, string(docType), c.Heading, c.Body, hash, now.Format(time.RFC3339Nano)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) removeStale(ctx context.Context, seen map[string]bool) error {
	rows, err := s.eng.DB().QueryContext(ctx, `SELECT DISTINCT file_path FROM governance_chunks`)
	if err != nil {
		return errkind.Wrap(errkind.StorageUnavailable, err, "list indexed files")
	}
	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return errkind.Wrap(errkind.Internal, err, "scan file path")
		}
		if !seen[path] {
			stale = append(stale, path)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errkind.Wrap(errkind.StorageUnavailable, err, "iterate indexed files")
	}

	for _, path := range stale {
		if err := s.eng.Tx(ctx, func(tx *sql.Tx) error {
			_, err := tx.Exec(`DELETE FROM governance_chunks WHERE file_path = ?`, path)
			return err
		}); err != nil {
			return errkind.Wrap(errkind.StorageUnavailable, err, "remove stale file %s", path)
		}
	}
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
