package learning

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ai-framework/daemon/internal/heuristics"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGenerateCapsAtMaxProposals(t *testing.T) {
	now := time.Now().UTC()
	var candidates []heuristics.PatternCandidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates, heuristics.PatternCandidate{
			HeuristicID: heuristics.H1RepeatedBlock,
			Fingerprint: string(rune('a' + i)),
			Confidence:  float64(i) / 10,
		})
	}
	proposals := Generate(candidates, now, 3)
	require.Len(t, proposals, 3)
	require.Equal(t, TypeRule, proposals[0].Type)
}

func TestDecideAcceptWritesArtifactAndIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gitRoot := t.TempDir()

	proposal := Generate([]heuristics.PatternCandidate{{
		HeuristicID: heuristics.H1RepeatedBlock,
		Fingerprint: "fp1",
		Confidence:  0.9,
		DistinctFiles: 3,
		OccurrenceCount: 3,
		FirstSeen: time.Now().UTC(),
		ExampleText: "example",
	}}, time.Now().UTC(), 1)[0]
	require.NoError(t, s.Save(ctx, proposal))

	prior := heuristics.PriorDecisions{}
	result, err := s.Decide(ctx, gitRoot, "my-slug", proposal.ProposalID, OutcomeAccept, nil, prior, time.Now().UTC())
	require.NoError(t, err)
	require.False(t, result.AlreadyDecided)
	require.FileExists(t, result.ArtifactPath)
	require.InDelta(t, 1.15, prior.Get("fp1"), 0.2)

	result2, err := s.Decide(ctx, gitRoot, "my-slug", proposal.ProposalID, OutcomeReject, nil, prior, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, result2.AlreadyDecided)
	require.Equal(t, StatusAccepted, result2.Proposal.Status)
}

func TestDecideRejectSetsStatusWithoutArtifact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	proposal := Generate([]heuristics.PatternCandidate{{
		HeuristicID: heuristics.H6TestGap,
		Fingerprint: "fp2",
		Confidence:  0.8,
	}}, time.Now().UTC(), 1)[0]
	require.NoError(t, s.Save(ctx, proposal))

	prior := heuristics.PriorDecisions{}
	result, err := s.Decide(ctx, t.TempDir(), "slug", proposal.ProposalID, OutcomeReject, nil, prior, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, StatusRejected, result.Proposal.Status)
	require.Empty(t, result.ArtifactPath)
}

func TestDecideRejectPersistsSevenDayCooldown(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	proposal := Generate([]heuristics.PatternCandidate{{
		HeuristicID: heuristics.H6TestGap,
		Fingerprint: "fp-cooldown",
		Confidence:  0.8,
	}}, now, 1)[0]
	require.NoError(t, s.Save(ctx, proposal))

	prior := heuristics.PriorDecisions{}
	_, err := s.Decide(ctx, t.TempDir(), "slug", proposal.ProposalID, OutcomeReject, nil, prior, now)
	require.NoError(t, err)

	cooldowns, err := s.CooldownsFromStore(ctx)
	require.NoError(t, err)
	until := cooldowns.Until("fp-cooldown")
	require.False(t, until.IsZero())
	require.WithinDuration(t, now.Add(7*24*time.Hour), until, time.Second)

	candidates := heuristics.Aggregate([]heuristics.Detection{
		{HeuristicID: heuristics.H6TestGap, Fingerprint: "fp-cooldown", CommitDate: now},
	}, now.Add(6*24*time.Hour), heuristics.PriorDecisions{}, cooldowns)
	filtered := heuristics.Filter(candidates, 1, nil, now.Add(6*24*time.Hour))
	require.Empty(t, filtered, "a candidate rejected at t0 must not resurface at t0+6d")
}

func TestArtifactPathMatchesCanonicalLocations(t *testing.T) {
	root := "/repo"
	require.Equal(t, filepath.Join(root, ".claude", "rules", "learning-foo.md"), ArtifactPath(root, "foo", TypeRule))
	require.Equal(t, filepath.Join(root, "docs", "decisions", "foo.md"), ArtifactPath(root, "foo", TypeADR))
	require.Equal(t, filepath.Join(root, ".claude", "skills", "foo", "prompt.md"), ArtifactPath(root, "foo", TypeSkill))
}

func TestPersistPriorDecisionsRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	prior := heuristics.PriorDecisions{"fp1": 1.3}
	require.NoError(t, s.PersistPriorDecisions(ctx, prior))

	loaded, err := s.PriorDecisionsFromStore(ctx)
	require.NoError(t, err)
	require.InDelta(t, 1.3, loaded.Get("fp1"), 0.001)
}

func TestLogAndRecentAudit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Log(ctx, "mining", "pass complete: %d proposals", 3))
	require.NoError(t, s.Log(ctx, "decision", "accepted proposal %s", "abc123"))

	entries, err := s.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "decision", entries[0].Category)
	require.Equal(t, "accepted proposal abc123", entries[0].Message)
	require.Equal(t, "mining", entries[1].Category)
}

func TestWriteArtifactAtomicCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file.md")
	require.NoError(t, writeArtifactAtomic(path, "content"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "content", string(data))
}
