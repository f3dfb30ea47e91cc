package governance

import (
	"context"
	"strings"
	"time"

	"github.com/ai-framework/daemon/internal/errkind"
)

// Result is one ranked hit from Search.
type Result struct {
	Chunk GovernanceChunk
	Score float64 // bounded [0,1], higher is more relevant
}

// Search runs an FTS5 query over chunk heading+body, optionally restricted
// to docType, returning at most topK results ordered by descending score
// with ties broken by most-recently-updated first.
func (s *Store) Search(ctx context.Context, query string, docType DocType, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 10
	}

	args := []any{ftsQuery(query)}
	filter := ""
	if docType != "" {
		filter = "AND c.doc_type = ?"
		args = append(args, string(docType))
	}
	args = append(args, topK)

	rows, err := s.eng.DB().QueryContext(ctx, `
		SELECT c.file_path, c.chunk_index, c.doc_type, c.heading, c.body, c.content_hash, c.updated_at,
		       bm25(governance_chunks_fts) AS rank
		FROM governance_chunks c
		JOIN governance_chunks_fts f ON c.rowid = f.rowid
		WHERE governance_chunks_fts MATCH ? `+filter+`
		ORDER BY rank, c.updated_at DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "search governance chunks")
	}
	defer rows.Close()

	var raw []struct {
		chunk GovernanceChunk
		rank  float64
	}
	minRank, maxRank := 0.0, 0.0
	for rows.Next() {
		var c GovernanceChunk
		var docTypeStr, updatedAt string
		var rank float64
		if err := rows.Scan(&c.FilePath, &c.ChunkIndex, &docTypeStr, &c.Heading, &c.Body, &c.ContentHash, &updatedAt, &rank); err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "scan governance chunk")
		}
		c.DocType = DocType(docTypeStr)
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

		if len(raw) == 0 || rank < minRank {
			minRank = rank
		}
		if len(raw) == 0 || rank > maxRank {
			maxRank = rank
		}
		raw = append(raw, struct {
			chunk GovernanceChunk
			rank  float64
		}{c, rank})
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "iterate governance search")
	}

	// bm25() in SQLite returns lower-is-better, unbounded scores. Normalize
	// into [0,1] with higher-is-better by min-max scaling across this
	// result set; a single result collapses to 1.0.
	out := make([]Result, len(raw))
	spread := maxRank - minRank
	for i, r := range raw {
		var score float64
		if spread <= 0 {
			score = 1.0
		} else {
			score = 1.0 - (r.rank-minRank)/spread
		}
		out[i] = Result{Chunk: r.chunk, Score: score}
	}
	return out, nil
}

// ftsQuery quotes each whitespace-delimited token so FTS5 treats bare
// punctuation as a literal term rather than query syntax.
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
