// Package review parses reviewer output into ReviewVerdicts and aggregates
// them across the fix loop using a strict line-oriented text contract.
package review

import (
	"regexp"
	"strings"
)

// Severity enumerates finding severity.
type Severity string

const (
	MustFix    Severity = "must_fix"
	ShouldFix  Severity = "should_fix"
	Suggestion Severity = "suggestion"
)

// Finding is one reviewer-reported issue.
type Finding struct {
	Severity Severity
	Location string
	Message  string
}

// Verdict enumerates PASS/FAIL.
type Verdict string

const (
	Pass Verdict = "PASS"
	Fail Verdict = "FAIL"
)

// ReviewVerdict is the output of one reviewer on one iteration.
type ReviewVerdict struct {
	ReviewerID string
	Verdict    Verdict
	Findings   []Finding
	Iteration  int
}

var verdictLine = regexp.MustCompile(`(?i)^\s*verdict\s*:\s*(pass|fail)\s*$`)

// findingRow matches a markdown table row: | severity | location | message |
var findingRow = regexp.MustCompile(`^\s*\|\s*(must_fix|should_fix|suggestion)\s*\|\s*([^|]+)\|\s*([^|]+)\|\s*$`)

// Parse extracts a ReviewVerdict from raw reviewer text under a strict
// contract: a "Verdict: PASS/FAIL" line plus a findings table. Lines that
// don't match either pattern are ignored. Missing verdict line yields a
// synthetic FAIL with a must_fix finding.
func Parse(reviewerID string, raw string, iteration int) ReviewVerdict {
	rv := ReviewVerdict{ReviewerID: reviewerID, Iteration: iteration}
	foundVerdict := false

	for _, line := range strings.Split(raw, "\n") {
		if m := verdictLine.FindStringSubmatch(line); m != nil {
			foundVerdict = true
			if strings.EqualFold(m[1], "pass") {
				rv.Verdict = Pass
			} else {
				rv.Verdict = Fail
			}
			continue
		}
		if m := findingRow.FindStringSubmatch(line); m != nil {
			rv.Findings = append(rv.Findings, Finding{
				Severity: Severity(strings.ToLower(strings.TrimSpace(m[1]))),
				Location: strings.TrimSpace(m[2]),
				Message:  strings.TrimSpace(m[3]),
			})
		}
	}

	if !foundVerdict {
		rv.Verdict = Fail
		rv.Findings = append(rv.Findings, Finding{
			Severity: MustFix,
			Location: "",
			Message:  "reviewer_output_malformed",
		})
	}
	return rv
}

// Aggregate returns PASS iff every verdict is PASS and none carries a
// must_fix finding.
func Aggregate(verdicts []ReviewVerdict) Verdict {
	for _, v := range verdicts {
		if v.Verdict == Fail {
			return Fail
		}
		for _, f := range v.Findings {
			if f.Severity == MustFix {
				return Fail
			}
		}
	}
	return Pass
}

// NeedsFixLoop returns true iff the aggregate is FAIL and the fix loop has
// not exhausted its iteration budget.
func NeedsFixLoop(verdicts []ReviewVerdict, iteration, maxIterations int) bool {
	return Aggregate(verdicts) == Fail && iteration < maxIterations
}
