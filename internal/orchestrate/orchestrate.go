// Package orchestrate is the pure spec-lifecycle state machine:
// planning -> implementing -> verifying -> {learning | fixing} -> done, with
// abort from any phase. It persists SpecState as JSON via atomic
// temp-file + rename and performs no RPC to model backends, generating no
// prompts itself — it only sequences worktree operations and records
// transitions.
package orchestrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ai-framework/daemon/internal/errkind"
	"github.com/ai-framework/daemon/internal/review"
	"github.com/ai-framework/daemon/internal/worktree"
)

// Phase enumerates SpecState.phase.
type Phase string

const (
	Planning    Phase = "planning"
	Implementing Phase = "implementing"
	Verifying   Phase = "verifying"
	Fixing      Phase = "fixing"
	Learning    Phase = "learning"
	Done        Phase = "done"
	Aborted     Phase = "aborted"
)

// MaxReviewIterations bounds the fix loop.
const MaxReviewIterations = 3

// StaleBusyHorizon is the default staleness window for is_busy.
const StaleBusyHorizon = 4 * time.Hour

// SpecState is the persisted state of one in-flight spec.
type SpecState struct {
	Slug               string    `json:"slug"`
	Phase              Phase     `json:"phase"`
	TotalTasks         int       `json:"total_tasks"`
	CompletedTasks     int       `json:"completed_tasks"`
	ReviewIteration    int       `json:"review_iteration"`
	PlanFingerprint    string    `json:"plan_fingerprint"`
	StartedAt          time.Time `json:"started_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	WorktreeSHA8       string    `json:"worktree_sha8"`
	WorktreeBaseCommit string    `json:"worktree_base_commit,omitempty"`
	AbortReason        string    `json:"abort_reason,omitempty"`
}

// Store persists SpecState as one JSON file per slug and serializes every transition per
// slug.
type Store struct {
	dir string
	mu  sync.Mutex
	wt  *worktree.Manager
}

func NewStore(specsDir string, wt *worktree.Manager) *Store {
	return &Store{dir: specsDir, wt: wt}
}

func (s *Store) path(slug string) string {
	return filepath.Join(s.dir, slug+".json")
}

func (s *Store) load(slug string) (SpecState, error) {
	data, err := os.ReadFile(s.path(slug))
	if os.IsNotExist(err) {
		return SpecState{}, errkind.New(errkind.NotFound, "no spec state for %q", slug)
	}
	if err != nil {
		return SpecState{}, errkind.Wrap(errkind.StorageUnavailable, err, "read spec state")
	}
	var st SpecState
	if err := json.Unmarshal(data, &st); err != nil {
		return SpecState{}, errkind.Wrap(errkind.Internal, err, "parse spec state")
	}
	return st, nil
}

func (s *Store) persist(st SpecState) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errkind.Wrap(errkind.StorageUnavailable, err, "create specs dir")
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "marshal spec state")
	}
	tmp := s.path(st.Slug) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errkind.Wrap(errkind.StorageUnavailable, err, "write spec state")
	}
	if err := os.Rename(tmp, s.path(st.Slug)); err != nil {
		return errkind.Wrap(errkind.StorageUnavailable, err, "rename spec state")
	}
	return nil
}

func planFingerprint(slug, planPath string) string {
	if planPath == "" {
		return vcsSHA256Hex([]byte(slug))
	}
	content, err := os.ReadFile(planPath)
	if err != nil {
		return vcsSHA256Hex([]byte(slug))
	}
	return vcsSHA256Hex(content)
}

// Start creates SpecState in `planning`.
func (s *Store) Start(slug, planPath string) (SpecState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	st := SpecState{
		Slug:            slug,
		Phase:           Planning,
		PlanFingerprint: planFingerprint(slug, planPath),
		StartedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.persist(st); err != nil {
		return SpecState{}, err
	}
	return st, nil
}

// ApprovePlan transitions planning -> implementing and creates the spec's
// worktree.
func (s *Store) ApprovePlan(slug string, totalTasks int) (SpecState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(slug)
	if err != nil {
		return SpecState{}, err
	}
	if st.Phase != Planning {
		return SpecState{}, errkind.New(errkind.State, "approve_plan requires phase=planning, got %s", st.Phase)
	}
	if totalTasks <= 0 {
		return SpecState{}, errkind.New(errkind.Validation, "total_tasks must be > 0")
	}

	sha8 := st.PlanFingerprint[:8]
	if s.wt != nil {
		info, err := s.wt.Create(context.Background(), slug, sha8)
		if err != nil {
			return SpecState{}, errkind.Wrap(errkind.Vcs, err, "create worktree")
		}
		st.WorktreeBaseCommit = info.BaseCommit
	}
	st.WorktreeSHA8 = sha8

	st.Phase = Implementing
	st.TotalTasks = totalTasks
	st.UpdatedAt = time.Now().UTC()
	if err := s.persist(st); err != nil {
		return SpecState{}, err
	}
	return st, nil
}

// StartTask records that task n has begun. Pure progress marker; no phase
// change.
func (s *Store) StartTask(slug string, n int) (SpecState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(slug)
	if err != nil {
		return SpecState{}, err
	}
	if st.Phase != Implementing {
		return SpecState{}, errkind.New(errkind.State, "start_task requires phase=implementing, got %s", st.Phase)
	}
	st.UpdatedAt = time.Now().UTC()
	if err := s.persist(st); err != nil {
		return SpecState{}, err
	}
	return st, nil
}

// CompleteTask increments completed_tasks monotonically. Emits no phase
// change even when completed_tasks reaches total_tasks — the caller must
// invoke StartVerify.
func (s *Store) CompleteTask(slug string, n int) (SpecState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(slug)
	if err != nil {
		return SpecState{}, err
	}
	if st.Phase != Implementing {
		return SpecState{}, errkind.New(errkind.State, "complete_task requires phase=implementing, got %s", st.Phase)
	}
	if st.CompletedTasks < st.TotalTasks {
		st.CompletedTasks++
	}
	st.UpdatedAt = time.Now().UTC()
	if err := s.persist(st); err != nil {
		return SpecState{}, err
	}
	return st, nil
}

// StartVerify transitions implementing -> verifying once all tasks are
// complete.
func (s *Store) StartVerify(slug string) (SpecState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(slug)
	if err != nil {
		return SpecState{}, err
	}
	if st.Phase != Implementing || st.CompletedTasks != st.TotalTasks {
		return SpecState{}, errkind.New(errkind.State, "start_verify requires phase=implementing with completed_tasks==total_tasks")
	}
	st.Phase = Verifying
	st.UpdatedAt = time.Now().UTC()
	if err := s.persist(st); err != nil {
		return SpecState{}, err
	}
	return st, nil
}

// verdictSets is an in-process accumulator of submitted verdicts per slug,
// since SpecState's on-disk shape doesn't carry the raw verdict payloads
//.
var verdictSets = struct {
	mu sync.Mutex
	m  map[string][]review.ReviewVerdict
}{m: map[string][]review.ReviewVerdict{}}

// SubmitVerdict appends a verdict to the current iteration set
//.
func (s *Store) SubmitVerdict(slug string, v review.ReviewVerdict) (SpecState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(slug)
	if err != nil {
		return SpecState{}, err
	}
	if st.Phase != Verifying {
		return SpecState{}, errkind.New(errkind.State, "submit_verdict requires phase=verifying, got %s", st.Phase)
	}
	verdictSets.mu.Lock()
	verdictSets.m[slug] = append(verdictSets.m[slug], v)
	verdictSets.mu.Unlock()
	return st, nil
}

// ResolveVerify is called once all expected reviewer verdicts have
// arrived. All PASS -> learning; any FAIL with budget remaining -> fixing;
// otherwise -> aborted(unfixed).
func (s *Store) ResolveVerify(slug string) (SpecState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(slug)
	if err != nil {
		return SpecState{}, err
	}
	if st.Phase != Verifying {
		return SpecState{}, errkind.New(errkind.State, "resolve_verify requires phase=verifying, got %s", st.Phase)
	}

	verdictSets.mu.Lock()
	verdicts := verdictSets.m[slug]
	delete(verdictSets.m, slug)
	verdictSets.mu.Unlock()

	if review.Aggregate(verdicts) == review.Pass {
		st.Phase = Learning
		if s.wt != nil {
			if _, err := s.wt.Sync(context.Background(), slug, st.WorktreeSHA8); err != nil {
				return SpecState{}, errkind.Wrap(errkind.Vcs, err, "sync worktree")
			}
		}
	} else if st.ReviewIteration < MaxReviewIterations {
		st.Phase = Fixing
		st.ReviewIteration++
	} else {
		st.Phase = Aborted
		st.AbortReason = "unfixed"
	}
	st.UpdatedAt = time.Now().UTC()
	if err := s.persist(st); err != nil {
		return SpecState{}, err
	}
	return st, nil
}

// ReenterImplementing moves fixing -> implementing to restart the task
// loop.
func (s *Store) ReenterImplementing(slug string) (SpecState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(slug)
	if err != nil {
		return SpecState{}, err
	}
	if st.Phase != Fixing {
		return SpecState{}, errkind.New(errkind.State, "reenter_implementing requires phase=fixing, got %s", st.Phase)
	}
	st.Phase = Implementing
	st.UpdatedAt = time.Now().UTC()
	if err := s.persist(st); err != nil {
		return SpecState{}, err
	}
	return st, nil
}

// StartLearn transitions verifying-resolved state into learning and syncs
// the worktree. In normal flow ResolveVerify already performs this sync;
// StartLearn exists as an explicit entrypoint for callers that drive
// phases directly.
func (s *Store) StartLearn(slug string) (SpecState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(slug)
	if err != nil {
		return SpecState{}, err
	}
	if st.Phase != Verifying && st.Phase != Learning {
		return SpecState{}, errkind.New(errkind.State, "start_learn requires phase=verifying, got %s", st.Phase)
	}
	if st.Phase == Verifying {
		if s.wt != nil {
			if _, err := s.wt.Sync(context.Background(), slug, st.WorktreeSHA8); err != nil {
				return SpecState{}, errkind.Wrap(errkind.Vcs, err, "sync worktree")
			}
		}
		st.Phase = Learning
		st.UpdatedAt = time.Now().UTC()
		if err := s.persist(st); err != nil {
			return SpecState{}, err
		}
	}
	return st, nil
}

// Complete cleans up the worktree and transitions learning -> done
//.
func (s *Store) Complete(slug string) (SpecState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(slug)
	if err != nil {
		return SpecState{}, err
	}
	if st.Phase != Learning {
		return SpecState{}, errkind.New(errkind.State, "complete requires phase=learning, got %s", st.Phase)
	}
	if s.wt != nil {
		if err := s.wt.Cleanup(context.Background(), slug, st.WorktreeSHA8); err != nil {
			return SpecState{}, errkind.Wrap(errkind.Vcs, err, "cleanup worktree")
		}
	}
	st.Phase = Done
	st.UpdatedAt = time.Now().UTC()
	if err := s.persist(st); err != nil {
		return SpecState{}, err
	}
	return st, nil
}

// Abort transitions any phase to aborted.
func (s *Store) Abort(slug, reason string) (SpecState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(slug)
	if err != nil {
		return SpecState{}, err
	}
	st.Phase = Aborted
	st.AbortReason = reason
	st.UpdatedAt = time.Now().UTC()
	if err := s.persist(st); err != nil {
		return SpecState{}, err
	}
	return st, nil
}

// IsBusy reports true iff phase is one of implementing/verifying/fixing
// and updated_at is within horizon of now; stale busy states report false
// so exits are not blocked indefinitely.
func (s *Store) IsBusy(slug string, now time.Time, horizon time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(slug)
	if err != nil {
		if errkind.KindOf(err) == errkind.NotFound {
			return false, nil
		}
		return false, err
	}
	if horizon <= 0 {
		horizon = StaleBusyHorizon
	}
	switch st.Phase {
	case Implementing, Verifying, Fixing:
		return now.Sub(st.UpdatedAt) < horizon, nil
	default:
		return false, nil
	}
}

// StuckSpec reports one in-flight spec whose phase has not advanced within
// the staleness horizon — a candidate for operator attention, not an
// automatic abort.
type StuckSpec struct {
	Slug      string
	Phase     Phase
	UpdatedAt time.Time
	Idle      time.Duration
}

// ListSlugs returns the slug of every persisted spec, derived from the
// state directory's *.json files.
func (s *Store) ListSlugs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errkind.Wrap(errkind.Internal, err, "reading spec state directory")
	}
	var slugs []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		slugs = append(slugs, strings.TrimSuffix(e.Name(), ".json"))
	}
	return slugs, nil
}

// StuckSpecs scans every persisted spec and reports those that are busy
// (implementing/verifying/fixing) but have not been updated within horizon.
// It never mutates state; reconciliation is a log-and-report sweep, and
// aborting a stuck spec remains an explicit Abort call.
func (s *Store) StuckSpecs(now time.Time, horizon time.Duration) ([]StuckSpec, error) {
	if horizon <= 0 {
		horizon = StaleBusyHorizon
	}
	slugs, err := s.ListSlugs()
	if err != nil {
		return nil, err
	}
	var stuck []StuckSpec
	for _, slug := range slugs {
		s.mu.Lock()
		st, err := s.load(slug)
		s.mu.Unlock()
		if err != nil {
			continue
		}
		switch st.Phase {
		case Implementing, Verifying, Fixing:
			idle := now.Sub(st.UpdatedAt)
			if idle >= horizon {
				stuck = append(stuck, StuckSpec{Slug: st.Slug, Phase: st.Phase, UpdatedAt: st.UpdatedAt, Idle: idle})
			}
		}
	}
	return stuck, nil
}

func vcsSHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
