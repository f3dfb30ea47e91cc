package retrieve

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ai-framework/daemon/internal/coderetrieval"
	"github.com/ai-framework/daemon/internal/governance"
)

func TestClassifyRoutesCodeQueries(t *testing.T) {
	require.Equal(t, CorpusCode, Classify("what does the handleRequest function do"))
	require.Equal(t, CorpusCode, Classify("show me internal/vcs/vcs.go"))
}

func TestClassifyRoutesGovernanceQueries(t *testing.T) {
	require.Equal(t, CorpusGovernance, Classify("what is our retry policy rule"))
}

func TestClassifyFallsBackToHybrid(t *testing.T) {
	require.Equal(t, Corpus("hybrid"), Classify("how does this work"))
}

func TestSearchGovernanceOnlyWhenCodeUnavailable(t *testing.T) {
	govStore, err := governance.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { govStore.Close() })

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rule.md"), []byte("# Retry policy\nuse jittered backoff\n"), 0o644))
	_, err = govStore.Reindex(context.Background(), []governance.Root{{DocType: governance.DocRule, Dir: dir}})
	require.NoError(t, err)

	code := coderetrieval.New("/nonexistent/binary", t.TempDir())
	r := New(code, govStore)

	hits, err := r.Search(context.Background(), "retry policy rule", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		require.Equal(t, CorpusGovernance, h.Corpus)
	}
}

func TestMergeWithFloorBalancesCorpora(t *testing.T) {
	a := []Hit{{Score: 0.9}, {Score: 0.8}, {Score: 0.7}}
	b := []Hit{{Score: 0.95}, {Score: 0.6}}
	merged := mergeWithFloor(a, b, 4)
	require.Len(t, merged, 4)
}
