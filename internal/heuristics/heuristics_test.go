package heuristics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ai-framework/daemon/internal/syntax"
)

func TestAggregateComputesOccurrenceAndConfidence(t *testing.T) {
	now := time.Now().UTC()
	detections := []Detection{
		{HeuristicID: H1RepeatedBlock, Fingerprint: "fp1", Locations: []Location{{FilePath: "a.go"}}, CommitDate: now.Add(-time.Hour)},
		{HeuristicID: H1RepeatedBlock, Fingerprint: "fp1", Locations: []Location{{FilePath: "b.go"}}, CommitDate: now.Add(-time.Hour)},
		{HeuristicID: H1RepeatedBlock, Fingerprint: "fp1", Locations: []Location{{FilePath: "c.go"}}, CommitDate: now.Add(-time.Hour)},
	}
	candidates := Aggregate(detections, now, PriorDecisions{}, Cooldowns{})
	require.Len(t, candidates, 1)
	require.Equal(t, 3, candidates[0].OccurrenceCount)
	require.Equal(t, 3, candidates[0].DistinctFiles)
	require.GreaterOrEqual(t, candidates[0].Confidence, 0.0)
	require.LessOrEqual(t, candidates[0].Confidence, 1.0)
	require.Nil(t, candidates[0].CooldownUntil)
}

func TestAggregateAppliesPersistedCooldown(t *testing.T) {
	now := time.Now().UTC()
	until := now.Add(7 * 24 * time.Hour)
	detections := []Detection{
		{HeuristicID: H1RepeatedBlock, Fingerprint: "fp1", Locations: []Location{{FilePath: "a.go"}}, CommitDate: now.Add(-time.Hour)},
	}
	candidates := Aggregate(detections, now, PriorDecisions{}, Cooldowns{"fp1": until})
	require.Len(t, candidates, 1)
	require.NotNil(t, candidates[0].CooldownUntil)
	require.True(t, candidates[0].CooldownUntil.Equal(until))
}

func TestFilterDropsBelowThresholdAndSingleFile(t *testing.T) {
	now := time.Now().UTC()
	candidates := []PatternCandidate{
		{HeuristicID: H1RepeatedBlock, Fingerprint: "a", OccurrenceCount: 1, DistinctFiles: 1},
		{HeuristicID: H1RepeatedBlock, Fingerprint: "b", OccurrenceCount: 3, DistinctFiles: 1},
		{HeuristicID: H1RepeatedBlock, Fingerprint: "c", OccurrenceCount: 3, DistinctFiles: 3},
		{HeuristicID: H6TestGap, Fingerprint: "d", OccurrenceCount: 3, DistinctFiles: 1},
	}
	filtered := Filter(candidates, 2, map[string]bool{}, now)
	require.Len(t, filtered, 2)
}

func TestFilterRespectsCooldown(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(24 * time.Hour)
	candidates := []PatternCandidate{
		{HeuristicID: H1RepeatedBlock, Fingerprint: "a", OccurrenceCount: 5, DistinctFiles: 3, CooldownUntil: &future},
	}
	filtered := Filter(candidates, 1, map[string]bool{}, now)
	require.Empty(t, filtered)
}

func TestPriorDecisionsNudgeTowardBounds(t *testing.T) {
	p := PriorDecisions{}
	for i := 0; i < 20; i++ {
		p.RecordAccept("fp")
	}
	require.InDelta(t, 1.5, p.Get("fp"), 0.05)

	p2 := PriorDecisions{}
	for i := 0; i < 20; i++ {
		p2.RecordReject("fp")
	}
	require.InDelta(t, 0.5, p2.Get("fp"), 0.05)
}

func TestDetectRepeatedBlockRequiresThreeFiles(t *testing.T) {
	mk := func(path string) FileObservation {
		return FileObservation{Path: path, Shapes: syntax.Shapes{Funcs: []syntax.FuncShape{{Name: "h", ParamKind: []string{"identifier", "identifier"}}}}}
	}
	files := []FileObservation{mk("a.go"), mk("b.go")}
	require.Empty(t, detectRepeatedBlocks(files))

	files = append(files, mk("c.go"))
	detections := detectRepeatedBlocks(files)
	require.Len(t, detections, 1)
}

func TestDetectTestGapFlagsNewFileWithoutSibling(t *testing.T) {
	files := []FileObservation{{Path: "service.go", IsNewFile: true}}
	detections := detectTestGaps(files, func(string) bool { return false })
	require.Len(t, detections, 1)

	detections = detectTestGaps(files, func(string) bool { return true })
	require.Empty(t, detections)
}

func TestDetectSecurityShapeFlagsStringConcatQuery(t *testing.T) {
	files := []FileObservation{{Path: "db.go", RawContent: `db.Query("SELECT * FROM users WHERE id=" + id)`}}
	detections := detectSecurityShapes(files)
	require.Len(t, detections, 1)
}
