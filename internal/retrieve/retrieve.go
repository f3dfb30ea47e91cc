// Package retrieve unifies code and governance search behind one query
// interface, using an errgroup fan-out to run both backends under one
// caller deadline.
package retrieve

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ai-framework/daemon/internal/coderetrieval"
	"github.com/ai-framework/daemon/internal/governance"
)

// Corpus names the backend a result came from.
type Corpus string

const (
	CorpusCode       Corpus = "code"
	CorpusGovernance Corpus = "governance"
)

// Hit is one normalized, corpus-tagged result.
type Hit struct {
	Corpus   Corpus
	FilePath string
	Snippet  string
	Score    float64
}

var codeKeywords = map[string]bool{"function": true, "class": true, "import": true, "endpoint": true}
var governanceKeywords = map[string]bool{"rule": true, "adr": true, "decision": true, "policy": true, "standard": true, "convention": true}

// Classify maps a free-form query to a corpus choice. Presence of
// path-like tokens or code-identifier shapes also routes to code.
func Classify(query string) Corpus {
	words := strings.Fields(query)
	hasCode, hasGovernance := false, false
	for _, w := range words {
		raw := strings.Trim(w, ".,:;!?")
		clean := strings.ToLower(raw)
		if codeKeywords[clean] || looksLikePath(clean) || looksLikeIdentifier(raw) {
			hasCode = true
		}
		if governanceKeywords[clean] {
			hasGovernance = true
		}
	}
	switch {
	case hasCode && !hasGovernance:
		return CorpusCode
	case hasGovernance && !hasCode:
		return CorpusGovernance
	default:
		return "hybrid"
	}
}

func looksLikePath(s string) bool {
	return strings.Contains(s, "/") || strings.Contains(s, ".go") || strings.Contains(s, ".py") || strings.Contains(s, ".ts")
}

func looksLikeIdentifier(s string) bool {
	return strings.Contains(s, "_") || hasMixedCase(s)
}

func hasMixedCase(s string) bool {
	hasUpper, hasLower := false, false
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			hasUpper = true
		}
		if r >= 'a' && r <= 'z' {
			hasLower = true
		}
	}
	return hasUpper && hasLower
}

// Retriever fans queries out to the code and governance backends.
type Retriever struct {
	Code       *coderetrieval.Adapter
	Governance *governance.Store
}

func New(code *coderetrieval.Adapter, gov *governance.Store) *Retriever {
	return &Retriever{Code: code, Governance: gov}
}

// Search classifies the query and fans out accordingly. In hybrid mode
// both backends run in parallel under ctx's deadline; if one backend is
// unavailable the other's results are still returned without error.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}
	corpus := Classify(query)

	switch corpus {
	case CorpusCode:
		return r.searchCode(ctx, query, topK)
	case CorpusGovernance:
		return r.searchGovernance(ctx, query, topK)
	default:
		return r.searchHybrid(ctx, query, topK)
	}
}

// SearchIn searches a caller-specified corpus instead of classifying the
// query, for callers that already know which backend they want. An empty
// corpus behaves like Search.
func (r *Retriever) SearchIn(ctx context.Context, corpus Corpus, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}
	switch corpus {
	case CorpusCode:
		return r.searchCode(ctx, query, topK)
	case CorpusGovernance:
		return r.searchGovernance(ctx, query, topK)
	case "":
		return r.Search(ctx, query, topK)
	default:
		return r.searchHybrid(ctx, query, topK)
	}
}

func (r *Retriever) searchCode(ctx context.Context, query string, topK int) ([]Hit, error) {
	if r.Code == nil {
		return nil, nil
	}
	hits, err := r.Code.Search(ctx, query, topK)
	if err != nil {
		return nil, nil // unavailable backend degrades to empty, not an error
	}
	return toCodeHits(hits), nil
}

func (r *Retriever) searchGovernance(ctx context.Context, query string, topK int) ([]Hit, error) {
	if r.Governance == nil {
		return nil, nil
	}
	results, err := r.Governance.Search(ctx, query, "", topK)
	if err != nil {
		return nil, err
	}
	return toGovernanceHits(results), nil
}

func (r *Retriever) searchHybrid(ctx context.Context, query string, topK int) ([]Hit, error) {
	var codeHits, govHits []Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.searchCode(gctx, query, topK)
		codeHits = hits
		return err
	})
	g.Go(func() error {
		hits, err := r.searchGovernance(gctx, query, topK)
		govHits = hits
		return err
	})
	if err := g.Wait(); err != nil {
		// A governance storage error still leaves code results usable.
		if len(codeHits) == 0 {
			return nil, err
		}
	}

	return mergeWithFloor(codeHits, govHits, topK), nil
}

// mergeWithFloor merges two scored corpora so each contributes up to
// ceil(topK/2) before padding with the higher-scoring tail.
func mergeWithFloor(a, b []Hit, topK int) []Hit {
	sortDesc(a)
	sortDesc(b)

	floor := (topK + 1) / 2
	out := make([]Hit, 0, topK)
	out = append(out, takeUpTo(a, floor)...)
	out = append(out, takeUpTo(b, floor)...)

	if len(out) < topK {
		rest := append(append([]Hit{}, a[min(len(a), floor):]...), b[min(len(b), floor):]...)
		sortDesc(rest)
		out = append(out, takeUpTo(rest, topK-len(out))...)
	}

	sortDesc(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func takeUpTo(hits []Hit, n int) []Hit {
	if n >= len(hits) {
		return hits
	}
	return hits[:n]
}

func sortDesc(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

func toCodeHits(hits []coderetrieval.Hit) []Hit {
	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = Hit{Corpus: CorpusCode, FilePath: h.FilePath, Snippet: h.Snippet, Score: h.Score}
	}
	return out
}

func toGovernanceHits(results []governance.Result) []Hit {
	out := make([]Hit, len(results))
	for i, r := range results {
		out[i] = Hit{Corpus: CorpusGovernance, FilePath: r.Chunk.FilePath, Snippet: r.Chunk.Heading + "\n" + r.Chunk.Body, Score: r.Score}
	}
	return out
}
