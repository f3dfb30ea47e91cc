package orchestrate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ai-framework/daemon/internal/review"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "specs"), nil)
}

func TestFullHappyPathReachesDone(t *testing.T) {
	s := newTestStore(t)
	slug := "add-widget"

	st, err := s.Start(slug, "")
	require.NoError(t, err)
	require.Equal(t, Planning, st.Phase)

	st, err = s.ApprovePlan(slug, 2)
	require.NoError(t, err)
	require.Equal(t, Implementing, st.Phase)

	_, err = s.StartTask(slug, 1)
	require.NoError(t, err)
	st, err = s.CompleteTask(slug, 1)
	require.NoError(t, err)
	require.Equal(t, 1, st.CompletedTasks)
	st, err = s.CompleteTask(slug, 2)
	require.NoError(t, err)
	require.Equal(t, 2, st.CompletedTasks)

	st, err = s.StartVerify(slug)
	require.NoError(t, err)
	require.Equal(t, Verifying, st.Phase)

	_, err = s.SubmitVerdict(slug, review.ReviewVerdict{ReviewerID: "r1", Verdict: review.Pass})
	require.NoError(t, err)

	st, err = s.ResolveVerify(slug)
	require.NoError(t, err)
	require.Equal(t, Learning, st.Phase)

	st, err = s.Complete(slug)
	require.NoError(t, err)
	require.Equal(t, Done, st.Phase)
}

func TestFailingVerdictEntersFixLoopThenAbortsAfterBudget(t *testing.T) {
	s := newTestStore(t)
	slug := "flaky-spec"

	_, err := s.Start(slug, "")
	require.NoError(t, err)
	_, err = s.ApprovePlan(slug, 1)
	require.NoError(t, err)
	_, err = s.CompleteTask(slug, 1)
	require.NoError(t, err)

	for i := 0; i <= MaxReviewIterations; i++ {
		_, err = s.StartVerify(slug)
		require.NoError(t, err)
		_, err = s.SubmitVerdict(slug, review.ReviewVerdict{ReviewerID: "r1", Verdict: review.Fail})
		require.NoError(t, err)
		st, err := s.ResolveVerify(slug)
		require.NoError(t, err)
		if i < MaxReviewIterations {
			require.Equal(t, Fixing, st.Phase, "iteration %d", i)
			_, err = s.ReenterImplementing(slug)
			require.NoError(t, err)
		} else {
			require.Equal(t, Aborted, st.Phase)
			require.Equal(t, "unfixed", st.AbortReason)
		}
	}
}

func TestCompletedTasksNeverExceedsTotal(t *testing.T) {
	s := newTestStore(t)
	slug := "bounded"
	_, err := s.Start(slug, "")
	require.NoError(t, err)
	_, err = s.ApprovePlan(slug, 1)
	require.NoError(t, err)

	st, err := s.CompleteTask(slug, 1)
	require.NoError(t, err)
	require.Equal(t, 1, st.CompletedTasks)

	st, err = s.StartVerify(slug)
	require.NoError(t, err)
	require.Equal(t, Verifying, st.Phase)
}

func TestStartVerifyRejectsIncompleteTasks(t *testing.T) {
	s := newTestStore(t)
	slug := "incomplete"
	_, err := s.Start(slug, "")
	require.NoError(t, err)
	_, err = s.ApprovePlan(slug, 2)
	require.NoError(t, err)
	_, err = s.CompleteTask(slug, 1)
	require.NoError(t, err)

	_, err = s.StartVerify(slug)
	require.Error(t, err)
}

func TestAbortFromAnyPhase(t *testing.T) {
	s := newTestStore(t)
	slug := "abort-me"
	_, err := s.Start(slug, "")
	require.NoError(t, err)

	st, err := s.Abort(slug, "user_cancelled")
	require.NoError(t, err)
	require.Equal(t, Aborted, st.Phase)
	require.Equal(t, "user_cancelled", st.AbortReason)
}

func TestIsBusyFalseWhenStale(t *testing.T) {
	s := newTestStore(t)
	slug := "stale-spec"
	_, err := s.Start(slug, "")
	require.NoError(t, err)
	_, err = s.ApprovePlan(slug, 1)
	require.NoError(t, err)

	busy, err := s.IsBusy(slug, time.Now().UTC(), time.Hour)
	require.NoError(t, err)
	require.True(t, busy)

	busy, err = s.IsBusy(slug, time.Now().UTC().Add(5*time.Hour), time.Hour)
	require.NoError(t, err)
	require.False(t, busy, "a stale busy state must report not-busy")
}

func TestIsBusyFalseForTerminalPhases(t *testing.T) {
	s := newTestStore(t)
	slug := "terminal-spec"
	_, err := s.Start(slug, "")
	require.NoError(t, err)

	busy, err := s.IsBusy(slug, time.Now().UTC(), time.Hour)
	require.NoError(t, err)
	require.False(t, busy, "planning is not a busy phase")
}

func TestApprovePlanRejectsZeroTasks(t *testing.T) {
	s := newTestStore(t)
	slug := "zero-tasks"
	_, err := s.Start(slug, "")
	require.NoError(t, err)

	_, err = s.ApprovePlan(slug, 0)
	require.Error(t, err)
}

func TestListSlugsReturnsEveryPersistedSpec(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Start("alpha", "")
	require.NoError(t, err)
	_, err = s.Start("beta", "")
	require.NoError(t, err)

	slugs, err := s.ListSlugs()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alpha", "beta"}, slugs)
}

func TestListSlugsEmptyWhenNoSpecsExist(t *testing.T) {
	s := newTestStore(t)
	slugs, err := s.ListSlugs()
	require.NoError(t, err)
	require.Empty(t, slugs)
}

func TestStuckSpecsFindsOnlyBusyPastHorizon(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Start("idle-plan", "")
	require.NoError(t, err)

	_, err = s.Start("busy-spec", "")
	require.NoError(t, err)
	_, err = s.ApprovePlan("busy-spec", 1)
	require.NoError(t, err)

	now := time.Now().UTC()
	stuck, err := s.StuckSpecs(now, time.Hour)
	require.NoError(t, err)
	require.Empty(t, stuck, "freshly-approved spec is not yet stale")

	stuck, err = s.StuckSpecs(now.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, "busy-spec", stuck[0].Slug)
	require.Equal(t, Implementing, stuck[0].Phase)
}
