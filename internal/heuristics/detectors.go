package heuristics

import (
	"regexp"
	"strings"
	"time"

	"github.com/ai-framework/daemon/internal/syntax"
)

// FileObservation is one changed file's syntactic shapes plus context
// needed by the detectors below.
type FileObservation struct {
	Path       string
	Shapes     syntax.Shapes
	RawContent string
	CommitDate time.Time
	IsNewFile  bool
}

// DetectAll runs H1-H7 across a commit's changed files and returns every
// Detection found. Detections still need Aggregate+Filter
// before becoming PatternCandidates.
func DetectAll(files []FileObservation, siblingTestExists func(path string) bool, hasDescriptor func(path string) bool) []Detection {
	var out []Detection
	out = append(out, detectRepeatedBlocks(files)...)
	out = append(out, detectSecurityShapes(files)...)
	out = append(out, detectPerformanceShapes(files)...)
	out = append(out, detectTestGaps(files, siblingTestExists)...)
	out = append(out, detectDocGaps(files, hasDescriptor)...)
	out = append(out, detectInconsistentPatterns(files)...)
	out = append(out, detectMissingStandardPattern(files)...)
	return out
}

// missingPatternThreshold is the peer-adoption share above which a file's
// lack of a pattern becomes a candidate.
const missingPatternThreshold = 0.75

// detectMissingStandardPattern is H2: within a directory (category), a
// file missing error handling that ≥75% of its peers have.
func detectMissingStandardPattern(files []FileObservation) []Detection {
	byDir := map[string][]FileObservation{}
	for _, f := range files {
		byDir[dirOf(f.Path)] = append(byDir[dirOf(f.Path)], f)
	}

	var out []Detection
	for dir, peers := range byDir {
		if len(peers) < 2 {
			continue
		}
		withPattern := 0
		for _, p := range peers {
			if len(p.Shapes.Errors) > 0 {
				withPattern++
			}
		}
		share := float64(withPattern) / float64(len(peers))
		if share < missingPatternThreshold {
			continue
		}
		for _, p := range peers {
			if len(p.Shapes.Errors) > 0 {
				continue
			}
			out = append(out, Detection{
				HeuristicID: H2MissingStandard,
				Locations:   []Location{{FilePath: p.Path}},
				Fingerprint: Fingerprint(string(H2MissingStandard), dir),
				ExampleText: p.Path,
				CommitDate:  p.CommitDate,
			})
		}
	}
	return out
}

// detectRepeatedBlocks is H1: the same normalized function shape
// (name-independent, keyed by param-kind signature) appearing across
// several files.
func detectRepeatedBlocks(files []FileObservation) []Detection {
	type key struct{ shape string }
	groups := map[key][]Location{}
	examples := map[key]string{}

	for _, f := range files {
		for _, fn := range f.Shapes.Funcs {
			shape := strings.Join(fn.ParamKind, ",")
			if shape == "" {
				continue
			}
			k := key{shape: shape}
			groups[k] = append(groups[k], Location{FilePath: f.Path, StartLine: fn.StartLine})
			examples[k] = fn.Name
		}
	}

	var out []Detection
	for k, locs := range groups {
		distinctFiles := map[string]bool{}
		for _, l := range locs {
			distinctFiles[l.FilePath] = true
		}
		if len(distinctFiles) < 3 {
			continue
		}
		out = append(out, Detection{
			HeuristicID: H1RepeatedBlock,
			Locations:   locs,
			Fingerprint: Fingerprint(string(H1RepeatedBlock), k.shape),
			ExampleText: examples[k],
			CommitDate:  latestCommit(files),
		})
	}
	return out
}

var (
	reStringConcatQuery = regexp.MustCompile(`(?i)(select|insert|update|delete)\s.*["'].*\+`)
	reUncheckedPathJoin  = regexp.MustCompile(`(?i)(path\.join|filepath\.join)\([^)]*(request|user)`)
)

// detectSecurityShapes is H4: unparameterized query assembly or unchecked
// path joins.
func detectSecurityShapes(files []FileObservation) []Detection {
	var out []Detection
	for _, f := range files {
		if reStringConcatQuery.MatchString(f.RawContent) || reUncheckedPathJoin.MatchString(f.RawContent) {
			out = append(out, Detection{
				HeuristicID: H4SecurityShape,
				Locations:   []Location{{FilePath: f.Path}},
				Fingerprint: Fingerprint(string(H4SecurityShape), f.Path),
				ExampleText: f.Path,
				CommitDate:  f.CommitDate,
			})
		}
	}
	return out
}

var reNestedLoopIO = regexp.MustCompile(`(?s)for\s.*\{[^{}]*for\s.*\{[^{}]*(query|fetch|http|read|write)`)

// detectPerformanceShapes is H5: a nested loop whose inner body performs IO
// (query, fetch, http, read or write), matched on the raw file content.
// Repeated identical queries inside a single loop are not detected.
func detectPerformanceShapes(files []FileObservation) []Detection {
	var out []Detection
	for _, f := range files {
		if reNestedLoopIO.MatchString(f.RawContent) {
			out = append(out, Detection{
				HeuristicID: H5PerformanceShape,
				Locations:   []Location{{FilePath: f.Path}},
				Fingerprint: Fingerprint(string(H5PerformanceShape), f.Path),
				ExampleText: f.Path,
				CommitDate:  f.CommitDate,
			})
		}
	}
	return out
}

// detectTestGaps is H6: a new non-test file without a sibling test file.
func detectTestGaps(files []FileObservation, siblingTestExists func(string) bool) []Detection {
	var out []Detection
	for _, f := range files {
		if !f.IsNewFile || isTestFile(f.Path) {
			continue
		}
		if siblingTestExists != nil && siblingTestExists(f.Path) {
			continue
		}
		out = append(out, Detection{
			HeuristicID: H6TestGap,
			Locations:   []Location{{FilePath: f.Path}},
			Fingerprint: Fingerprint(string(H6TestGap), f.Path),
			ExampleText: f.Path,
			CommitDate:  f.CommitDate,
		})
	}
	return out
}

func isTestFile(path string) bool {
	return strings.Contains(path, "_test.") || strings.Contains(path, ".test.") || strings.Contains(path, "/test_")
}

// detectDocGaps is H7: a new file in a directory for which hasDescriptor
// reports no descriptor. Every directory that receives a new file is
// checked once, not only top-level modules.
func detectDocGaps(files []FileObservation, hasDescriptor func(string) bool) []Detection {
	var out []Detection
	seenDirs := map[string]bool{}
	for _, f := range files {
		if !f.IsNewFile {
			continue
		}
		dir := dirOf(f.Path)
		if seenDirs[dir] {
			continue
		}
		seenDirs[dir] = true
		if hasDescriptor != nil && hasDescriptor(dir) {
			continue
		}
		out = append(out, Detection{
			HeuristicID: H7DocGap,
			Locations:   []Location{{FilePath: f.Path}},
			Fingerprint: Fingerprint(string(H7DocGap), dir),
			ExampleText: dir,
			CommitDate:  f.CommitDate,
		})
	}
	return out
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// detectInconsistentPatterns is H3: two or more competing implementations
// of the same concern, approximated here by divergent naming conventions
// for functions sharing a normalized verb prefix (e.g. getX vs fetchX).
func detectInconsistentPatterns(files []FileObservation) []Detection {
	verbOf := func(name string) string {
		for _, v := range []string{"get", "fetch", "load", "list", "find"} {
			if strings.HasPrefix(strings.ToLower(name), v) {
				return v
			}
		}
		return ""
	}

	seenVerbs := map[string]bool{}
	var distinctVerbs []string
	var locs []Location
	for _, f := range files {
		for _, fn := range f.Shapes.Funcs {
			v := verbOf(fn.Name)
			if v == "" {
				continue
			}
			if !seenVerbs[v] {
				seenVerbs[v] = true
				distinctVerbs = append(distinctVerbs, v)
			}
			locs = append(locs, Location{FilePath: f.Path, StartLine: fn.StartLine})
		}
	}

	if len(distinctVerbs) < 2 {
		return nil
	}
	return []Detection{{
		HeuristicID: H3Inconsistent,
		Locations:   locs,
		Fingerprint: Fingerprint(string(H3Inconsistent), strings.Join(distinctVerbs, ",")),
		ExampleText: strings.Join(distinctVerbs, " vs "),
		CommitDate:  latestCommit(files),
	}}
}

func latestCommit(files []FileObservation) time.Time {
	var latest time.Time
	for _, f := range files {
		if f.CommitDate.After(latest) {
			latest = f.CommitDate
		}
	}
	return latest
}
