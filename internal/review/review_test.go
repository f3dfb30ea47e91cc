package review

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseExtractsVerdictAndFindings(t *testing.T) {
	raw := "Some preamble\nVerdict: FAIL\n| must_fix | handler.go:12 | missing nil check |\n| suggestion | handler.go:40 | consider renaming |\n"
	rv := Parse("reviewer-1", raw, 1)
	require.Equal(t, Fail, rv.Verdict)
	require.Len(t, rv.Findings, 2)
	require.Equal(t, MustFix, rv.Findings[0].Severity)
}

func TestParseCaseInsensitiveVerdict(t *testing.T) {
	rv := Parse("r1", "verdict: pass\n", 1)
	require.Equal(t, Pass, rv.Verdict)
}

func TestParseMissingVerdictLineYieldsSyntheticFail(t *testing.T) {
	rv := Parse("r1", "no verdict here at all\n", 1)
	require.Equal(t, Fail, rv.Verdict)
	require.Len(t, rv.Findings, 1)
	require.Equal(t, MustFix, rv.Findings[0].Severity)
	require.Contains(t, rv.Findings[0].Message, "malformed")
}

func TestAggregatePassRequiresAllPassAndNoMustFix(t *testing.T) {
	all := []ReviewVerdict{{Verdict: Pass}, {Verdict: Pass}}
	require.Equal(t, Pass, Aggregate(all))

	withMustFix := []ReviewVerdict{{Verdict: Pass, Findings: []Finding{{Severity: MustFix}}}}
	require.Equal(t, Fail, Aggregate(withMustFix))
}

func TestNeedsFixLoopRespectsMaxIterations(t *testing.T) {
	failing := []ReviewVerdict{{Verdict: Fail}}
	require.True(t, NeedsFixLoop(failing, 1, 3))
	require.False(t, NeedsFixLoop(failing, 3, 3))

	passing := []ReviewVerdict{{Verdict: Pass}}
	require.False(t, NeedsFixLoop(passing, 0, 3))
}
