// Package learning turns PatternCandidates into Proposals and carries them
// through accept/reject/ignore/snooze decisions, persisting artifacts with
// an atomic temp-file + rename write and SQLite-backed bookkeeping.
package learning

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ai-framework/daemon/internal/errkind"
	"github.com/ai-framework/daemon/internal/heuristics"
	"github.com/ai-framework/daemon/internal/storage"
)

// ProposalType enumerates the artifact kinds a Proposal can produce
//.
type ProposalType string

const (
	TypeRule         ProposalType = "rule"
	TypeADR          ProposalType = "adr"
	TypeTemplate     ProposalType = "template"
	TypeSkill        ProposalType = "skill"
	TypeProjectGraph ProposalType = "project_graph"
)

// ProposalStatus enumerates Proposal.status.
type ProposalStatus string

const (
	StatusPending  ProposalStatus = "pending"
	StatusAccepted ProposalStatus = "accepted"
	StatusRejected ProposalStatus = "rejected"
	StatusIgnored  ProposalStatus = "ignored"
	StatusSnoozed  ProposalStatus = "snoozed"
)

// Proposal is an actionable artifact suggestion.
type Proposal struct {
	ProposalID          string
	CandidateFingerprint string
	Type                ProposalType
	Title               string
	Rationale           string
	ProposedContent     string
	Confidence          float64
	Status              ProposalStatus
	CreatedAt           time.Time
	DecidedAt           *time.Time
	EditedContent       *string
}

// RuleBaseline snapshots a rule's domain failure rate at acceptance time
//.
type RuleBaseline struct {
	BaselineID            string
	ProposalID            string
	Category              string
	BaselineFailuresPerDay float64
	BaselineWindowDays     int
	CreatedAt              time.Time
	CategorySource         string // heuristic | manual
}

// Store persists proposals and rule baselines in learning.db.
type Store struct {
	eng *storage.Engine
}

var Migrations = []storage.Migration{
	{Name: "learning_init", Func: func(db *sql.DB) error {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS proposals (
				proposal_id TEXT PRIMARY KEY,
				candidate_fingerprint TEXT NOT NULL,
				type TEXT NOT NULL,
				title TEXT NOT NULL,
				rationale TEXT NOT NULL,
				proposed_content TEXT NOT NULL,
				confidence REAL NOT NULL,
				status TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				decided_at DATETIME,
				edited_content TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status)`,
			`CREATE INDEX IF NOT EXISTS idx_proposals_fingerprint ON proposals(candidate_fingerprint)`,
			`CREATE TABLE IF NOT EXISTS rule_baselines (
				baseline_id TEXT PRIMARY KEY,
				proposal_id TEXT NOT NULL,
				category TEXT NOT NULL,
				baseline_failures_per_day REAL NOT NULL,
				baseline_window_days INTEGER NOT NULL,
				created_at DATETIME NOT NULL,
				category_source TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS prior_decisions (
				fingerprint TEXT PRIMARY KEY,
				factor REAL NOT NULL DEFAULT 1.0
			)`,
			`CREATE TABLE IF NOT EXISTS pattern_cooldowns (
				fingerprint TEXT PRIMARY KEY,
				cooldown_until DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS audit_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp DATETIME NOT NULL,
				category TEXT NOT NULL,
				message TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp)`,
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

// heuristicToType maps heuristic IDs to artifact types.
func heuristicToType(id heuristics.HeuristicID) ProposalType {
	switch id {
	case heuristics.H1RepeatedBlock, heuristics.H3Inconsistent:
		return TypeRule
	case heuristics.H4SecurityShape:
		return TypeRule
	case heuristics.H5PerformanceShape:
		return TypeRule
	case heuristics.H2MissingStandard:
		return TypeADR
	case heuristics.H6TestGap:
		return TypeSkill
	case heuristics.H7DocGap:
		return TypeTemplate
	default:
		return TypeProjectGraph
	}
}

// Generate maps at most maxProposals surviving candidates to Proposals,
// templating title/rationale/proposed_content deterministically.
func Generate(candidates []heuristics.PatternCandidate, now time.Time, maxProposals int) []Proposal {
	if maxProposals <= 0 {
		maxProposals = 3
	}
	sorted := append([]heuristics.PatternCandidate{}, candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	if len(sorted) > maxProposals {
		sorted = sorted[:maxProposals]
	}

	out := make([]Proposal, 0, len(sorted))
	for _, c := range sorted {
		ptype := heuristicToType(c.HeuristicID)
		proposalID := uuid.NewString()
		title := templateTitle(c)
		rationale := templateRationale(c)
		content := templateContent(ptype, title, rationale, proposalID, c)

		out = append(out, Proposal{
			ProposalID:           proposalID,
			CandidateFingerprint: c.Fingerprint,
			Type:                 ptype,
			Title:                title,
			Rationale:            rationale,
			ProposedContent:      content,
			Confidence:           c.Confidence,
			Status:               StatusPending,
			CreatedAt:            now,
		})
	}
	return out
}

func templateTitle(c heuristics.PatternCandidate) string {
	return fmt.Sprintf("%s: recurring pattern in %d files", c.HeuristicID, c.DistinctFiles)
}

func templateRationale(c heuristics.PatternCandidate) string {
	return fmt.Sprintf(
		"Observed %d occurrences across %d files since %s, with confidence %.2f.",
		c.OccurrenceCount, c.DistinctFiles, c.FirstSeen.Format("2006-01-02"), c.Confidence,
	)
}

func templateContent(ptype ProposalType, title, rationale, proposalID string, c heuristics.PatternCandidate) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "name: %s\n", slugify(title))
	fmt.Fprintf(&b, "description: %s\n", rationale)
	fmt.Fprintf(&b, "tags: [%s, %s]\n", ptype, c.HeuristicID)
	b.WriteString("source: learning\n")
	fmt.Fprintf(&b, "proposal_id: %s\n", proposalID)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString(rationale)
	b.WriteString("\n\nExample:\n\n```\n")
	b.WriteString(c.ExampleText)
	b.WriteString("\n```\n")
	return b.String()
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}

// ArtifactPath returns the canonical on-disk path for a proposal's
// artifact.
func ArtifactPath(gitRoot, slug string, ptype ProposalType) string {
	switch ptype {
	case TypeRule:
		return filepath.Join(gitRoot, ".claude", "rules", fmt.Sprintf("learning-%s.md", slug))
	case TypeADR:
		return filepath.Join(gitRoot, "docs", "decisions", slug+".md")
	case TypeTemplate:
		return filepath.Join(gitRoot, ".claude", "templates", slug+".md")
	case TypeSkill:
		return filepath.Join(gitRoot, ".claude", "skills", slug, "prompt.md")
	default:
		return filepath.Join(gitRoot, ".ai-framework", "project-graph.json")
	}
}

// Save persists a new Proposal.
func (s *Store) Save(ctx context.Context, p Proposal) error {
	return s.eng.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO proposals (proposal_id, candidate_fingerprint, type, title, rationale, proposed_content, confidence, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ProposalID, p.CandidateFingerprint, string(p.Type), p.Title, p.Rationale, p.ProposedContent, p.Confidence, string(p.Status), p.CreatedAt.Format(time.RFC3339Nano))
		return err
	})
}

// Get fetches a proposal by id.
func (s *Store) Get(ctx context.Context, proposalID string) (Proposal, error) {
	row := s.eng.DB().QueryRowContext(ctx, `
		SELECT proposal_id, candidate_fingerprint, type, title, rationale, proposed_content, confidence, status, created_at, decided_at, edited_content
		FROM proposals WHERE proposal_id = ?`, proposalID)
	return scanProposal(row)
}

// List returns proposals with confidence >= minConfidence, newest first.
func (s *Store) List(ctx context.Context, maxCount int, minConfidence float64) ([]Proposal, error) {
	if maxCount <= 0 {
		maxCount = 20
	}
	rows, err := s.eng.DB().QueryContext(ctx, `
		SELECT proposal_id, candidate_fingerprint, type, title, rationale, proposed_content, confidence, status, created_at, decided_at, edited_content
		FROM proposals WHERE confidence >= ? ORDER BY created_at DESC LIMIT ?`, minConfidence, maxCount)
	if err != nil {
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "list proposals")
	}
	defer rows.Close()

	var out []Proposal
	for rows.Next() {
		p, err := scanProposalRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (Proposal, error) {
	var p Proposal
	var ptype, status, createdAt string
	var decidedAt, editedContent sql.NullString
	if err := row.Scan(&p.ProposalID, &p.CandidateFingerprint, &ptype, &p.Title, &p.Rationale, &p.ProposedContent, &p.Confidence, &status, &createdAt, &decidedAt, &editedContent); err != nil {
		if err == sql.ErrNoRows {
			return Proposal{}, errkind.New(errkind.NotFound, "proposal not found")
		}
		return Proposal{}, errkind.Wrap(errkind.Internal, err, "scan proposal")
	}
	p.Type = ProposalType(ptype)
	p.Status = ProposalStatus(status)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if decidedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, decidedAt.String)
		p.DecidedAt = &t
	}
	if editedContent.Valid {
		p.EditedContent = &editedContent.String
	}
	return p, nil
}

func scanProposalRows(rows *sql.Rows) (Proposal, error) { return scanProposal(rows) }

// Outcome enumerates decide() outcomes.
type Outcome string

const (
	OutcomeAccept Outcome = "accept"
	OutcomeReject Outcome = "reject"
	OutcomeIgnore Outcome = "ignore"
	OutcomeSnooze Outcome = "snooze"
)

// DecisionResult is what decide() returns to the caller, including whether
// this was a fresh decision or a replay of a prior one.
type DecisionResult struct {
	Proposal     Proposal
	AlreadyDecided bool
	ArtifactPath string
}

// Decide applies outcome to a proposal. It is idempotent: calling Decide
// again on an already-decided proposal returns the prior outcome without
// duplicate side effects.
func (s *Store) Decide(ctx context.Context, gitRoot, slug, proposalID string, outcome Outcome, editedContent *string, prior heuristics.PriorDecisions, now time.Time) (DecisionResult, error) {
	p, err := s.Get(ctx, proposalID)
	if err != nil {
		return DecisionResult{}, err
	}

	if p.Status != StatusPending {
		return DecisionResult{Proposal: p, AlreadyDecided: true}, nil
	}

	var artifactPath string
	var cooldownUntil time.Time
	switch outcome {
	case OutcomeAccept:
		content := p.ProposedContent
		if editedContent != nil {
			content = *editedContent
		}
		artifactPath = ArtifactPath(gitRoot, slugify(p.Title), p.Type)
		if err := writeArtifactAtomic(artifactPath, content); err != nil {
			return DecisionResult{}, errkind.Wrap(errkind.Internal, err, "write artifact")
		}
		p.Status = StatusAccepted
		if prior != nil {
			prior.RecordAccept(p.CandidateFingerprint)
		}
	case OutcomeReject:
		p.Status = StatusRejected
		if prior != nil {
			prior.RecordReject(p.CandidateFingerprint)
		}
		cooldownUntil = now.Add(heuristics.CooldownDays * 24 * time.Hour)
	case OutcomeIgnore:
		p.Status = StatusIgnored
		if prior != nil {
			// Smaller decrement than reject.
			prior.RecordReject(p.CandidateFingerprint)
			prior[p.CandidateFingerprint] = (prior.Get(p.CandidateFingerprint) + 1.0) / 2
		}
		cooldownUntil = now.Add(heuristics.CooldownDays * 24 * time.Hour)
	case OutcomeSnooze:
		p.Status = StatusSnoozed
	default:
		return DecisionResult{}, errkind.New(errkind.Validation, "unknown outcome %q", outcome)
	}

	p.DecidedAt = &now
	p.EditedContent = editedContent

	err = s.eng.Tx(ctx, func(tx *sql.Tx) error {
		var editedVal any
		if editedContent != nil {
			editedVal = *editedContent
		}
		if _, err := tx.Exec(`UPDATE proposals SET status = ?, decided_at = ?, edited_content = ? WHERE proposal_id = ?`,
			string(p.Status), now.Format(time.RFC3339Nano), editedVal, proposalID); err != nil {
			return err
		}
		if !cooldownUntil.IsZero() {
			_, err := tx.Exec(`INSERT INTO pattern_cooldowns (fingerprint, cooldown_until) VALUES (?, ?)
				ON CONFLICT(fingerprint) DO UPDATE SET cooldown_until = excluded.cooldown_until`,
				p.CandidateFingerprint, cooldownUntil.Format(time.RFC3339Nano))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return DecisionResult{}, errkind.Wrap(errkind.StorageUnavailable, err, "persist decision")
	}

	_ = s.Log(ctx, "decision", "proposal %s (%s) decided: %s", p.ProposalID, p.Title, outcome)
	return DecisionResult{Proposal: p, ArtifactPath: artifactPath}, nil
}

// writeArtifactAtomic writes content to path via temp-file + rename so a
// crash mid-write never leaves a partial artifact.
func writeArtifactAtomic(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveBaseline persists a RuleBaseline created on proposal acceptance
//.
func (s *Store) SaveBaseline(ctx context.Context, b RuleBaseline) error {
	if b.BaselineID == "" {
		b.BaselineID = uuid.NewString()
	}
	return s.eng.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO rule_baselines (baseline_id, proposal_id, category, baseline_failures_per_day, baseline_window_days, created_at, category_source)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.BaselineID, b.ProposalID, b.Category, b.BaselineFailuresPerDay, b.BaselineWindowDays, b.CreatedAt.Format(time.RFC3339Nano), b.CategorySource)
		return err
	})
}

// PriorDecisionsFromStore loads persisted prior_decision_factor values.
func (s *Store) PriorDecisionsFromStore(ctx context.Context) (heuristics.PriorDecisions, error) {
	rows, err := s.eng.DB().QueryContext(ctx, `SELECT fingerprint, factor FROM prior_decisions`)
	if err != nil {
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "load prior decisions")
	}
	defer rows.Close()
	out := heuristics.PriorDecisions{}
	for rows.Next() {
		var fp string
		var factor float64
		if err := rows.Scan(&fp, &factor); err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "scan prior decision")
		}
		out[fp] = factor
	}
	return out, rows.Err()
}

// CooldownsFromStore loads every persisted fingerprint with its
// cooldown_until time, expired or not; Filter excludes those whose time is
// still after now from the next mining pass.
func (s *Store) CooldownsFromStore(ctx context.Context) (heuristics.Cooldowns, error) {
	rows, err := s.eng.DB().QueryContext(ctx, `SELECT fingerprint, cooldown_until FROM pattern_cooldowns`)
	if err != nil {
		return nil, errkind.Wrap(errkind.StorageUnavailable, err, "load pattern cooldowns")
	}
	defer rows.Close()
	out := heuristics.Cooldowns{}
	for rows.Next() {
		var fp, until string
		if err := rows.Scan(&fp, &until); err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "scan pattern cooldown")
		}
		t, err := time.Parse(time.RFC3339Nano, until)
		if err != nil {
			continue
		}
		out[fp] = t
	}
	return out, rows.Err()
}

// AuditEntry is one timestamped observation from a mining or decision
// cycle, persisted so an operator can see why the pipeline did what it did.
type AuditEntry struct {
	Timestamp time.Time
	Category  string // mining, decision, reindex
	Message   string
}

// Log appends one audit entry. Failures to write the entry are swallowed
// by the caller via the returned error; callers that treat audit logging
// as best-effort may ignore it.
func (s *Store) Log(ctx context.Context, category, format string, args ...interface{}) error {
	_, err := s.eng.DB().ExecContext(ctx,
		`INSERT INTO audit_log (timestamp, category, message) VALUES (?, ?, ?)`,
		time.Now().UTC(), category, fmt.Sprintf(format, args...))
	return err
}

// RecentAudit returns up to limit audit entries, newest first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.eng.DB().QueryContext(ctx,
		`SELECT timestamp, category, message FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.Timestamp, &e.Category, &e.Message); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PersistPriorDecisions writes the in-memory PriorDecisions map back to
// storage after a learning run.
func (s *Store) PersistPriorDecisions(ctx context.Context, prior heuristics.PriorDecisions) error {
	return s.eng.Tx(ctx, func(tx *sql.Tx) error {
		for fp, factor := range prior {
			if _, err := tx.Exec(`INSERT INTO prior_decisions (fingerprint, factor) VALUES (?, ?)
				ON CONFLICT(fingerprint) DO UPDATE SET factor = excluded.factor`, fp, factor); err != nil {
				return err
			}
		}
		return nil
	})
}
