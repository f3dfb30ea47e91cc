// Package heuristics scores structural code observations into pattern
// candidates, confidence clamped to [0,1] from weighted factors.
package heuristics

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"time"
)

// HeuristicID enumerates H1..H7.
type HeuristicID string

const (
	H1RepeatedBlock      HeuristicID = "H1"
	H2MissingStandard    HeuristicID = "H2"
	H3Inconsistent       HeuristicID = "H3"
	H4SecurityShape      HeuristicID = "H4"
	H5PerformanceShape   HeuristicID = "H5"
	H6TestGap            HeuristicID = "H6"
	H7DocGap             HeuristicID = "H7"
)

// base confidence weights per heuristic").
var baseConfidence = map[HeuristicID]float64{
	H1RepeatedBlock:    0.6,
	H2MissingStandard:  0.55,
	H3Inconsistent:     0.5,
	H4SecurityShape:    0.8,
	H5PerformanceShape: 0.6,
	H6TestGap:          0.65,
	H7DocGap:           0.5,
}

// singleFileExempt heuristics are allowed single-file scope.
var singleFileExempt = map[HeuristicID]bool{H4SecurityShape: true, H6TestGap: true, H7DocGap: true}

// Location is one file+span an observation touched.
type Location struct {
	FilePath  string
	StartLine int
	EndLine   int
}

// Detection is a raw structural observation.
type Detection struct {
	HeuristicID HeuristicID
	Locations   []Location
	Fingerprint string
	ExampleText string
	RawEvidence map[string]string
	CommitDate  time.Time
}

// PatternCandidate is a Detection that survived minimum count/recency
// filters.
type PatternCandidate struct {
	HeuristicID    HeuristicID
	Fingerprint    string
	FirstSeen      time.Time
	LastSeen       time.Time
	OccurrenceCount int
	DistinctFiles  int
	Confidence     float64
	CooldownUntil  *time.Time
	Status         string // new | proposed | superseded
	ExampleText    string
}

// Fingerprint computes a stable hash over a normalized shape string, used
// to correlate Detections, rule cooldowns, and prior-decision history.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// recencyHalfLifeDays is the exponential decay half-life for commit age.
const recencyHalfLifeDays = 30.0

// PriorDecisions tracks accept/reject history per fingerprint, feeding
// prior_decision_factor. Callers own persistence; this package
// only reads/writes the in-memory view passed to Score.
type PriorDecisions map[string]float64 // fingerprint -> factor, starts at 1.0

// Get returns the factor for fingerprint, defaulting to 1.0.
func (p PriorDecisions) Get(fingerprint string) float64 {
	if f, ok := p[fingerprint]; ok {
		return f
	}
	return 1.0
}

// RecordAccept nudges a fingerprint's factor toward 1.5.
func (p PriorDecisions) RecordAccept(fingerprint string) {
	p[fingerprint] = p.Get(fingerprint) + (1.5-p.Get(fingerprint))*0.3
}

// RecordReject nudges a fingerprint's factor toward 0.5.
func (p PriorDecisions) RecordReject(fingerprint string) {
	p[fingerprint] = p.Get(fingerprint) + (0.5-p.Get(fingerprint))*0.3
}

// CooldownDays is the duration a rejected/ignored fingerprint is filtered
// out of future candidate generation.
const CooldownDays = 7

// Cooldowns tracks, per fingerprint, the time before which a rejected
// candidate must not resurface. Callers own persistence; this package only
// reads the view passed to Aggregate.
type Cooldowns map[string]time.Time

// Until returns the cooldown expiry for fingerprint, or the zero time if
// none is set.
func (c Cooldowns) Until(fingerprint string) time.Time {
	return c[fingerprint]
}

// Filter applies the candidate filtering rules: minimum occurrence
// threshold, single-file scope exception, cooldown, and rule-fingerprint
// dedup against existing rule fingerprints.
func Filter(candidates []PatternCandidate, minOccurrences int, existingRuleFingerprints map[string]bool, now time.Time) []PatternCandidate {
	var out []PatternCandidate
	for _, c := range candidates {
		if c.OccurrenceCount < minOccurrences {
			continue
		}
		if c.DistinctFiles < 2 && !singleFileExempt[c.HeuristicID] {
			continue
		}
		if c.CooldownUntil != nil && now.Before(*c.CooldownUntil) {
			continue
		}
		if existingRuleFingerprints[c.Fingerprint] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Score computes confidence = base × consistency × recency × scope ×
// prior_decision_factor, clamped to [0,1].
func Score(heuristicID HeuristicID, consistency, scope float64, commitDate, now time.Time, prior PriorDecisions, fingerprint string) float64 {
	base, ok := baseConfidence[heuristicID]
	if !ok {
		base = 0.5
	}
	ageDays := now.Sub(commitDate).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	recency := math.Pow(0.5, ageDays/recencyHalfLifeDays)

	confidence := base * clamp01(consistency) * recency * clamp01(scope) * prior.Get(fingerprint)
	return clamp01(confidence)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Aggregate groups raw Detections by fingerprint into PatternCandidates,
// computing occurrence_count, distinct_files, first/last seen, and a
// confidence score via Score. consistency is the share of a fingerprint's
// occurrences among all detections for its heuristic; scope rewards
// cross-file spread.
func Aggregate(detections []Detection, now time.Time, prior PriorDecisions, cooldowns Cooldowns) []PatternCandidate {
	byFingerprint := map[string][]Detection{}
	byHeuristicTotal := map[HeuristicID]int{}
	for _, d := range detections {
		byFingerprint[d.Fingerprint] = append(byFingerprint[d.Fingerprint], d)
		byHeuristicTotal[d.HeuristicID]++
	}

	var out []PatternCandidate
	for fingerprint, ds := range byFingerprint {
		files := map[string]bool{}
		first, last := ds[0].CommitDate, ds[0].CommitDate
		for _, d := range ds {
			for _, loc := range d.Locations {
				files[loc.FilePath] = true
			}
			if d.CommitDate.Before(first) {
				first = d.CommitDate
			}
			if d.CommitDate.After(last) {
				last = d.CommitDate
			}
		}

		heuristicID := ds[0].HeuristicID
		consistency := float64(len(ds)) / float64(max1(byHeuristicTotal[heuristicID]))
		scope := clamp01(float64(len(files)) / 5.0)

		confidence := Score(heuristicID, consistency, scope, last, now, prior, fingerprint)

		var cooldownUntil *time.Time
		if until := cooldowns.Until(fingerprint); !until.IsZero() {
			cooldownUntil = &until
		}

		out = append(out, PatternCandidate{
			HeuristicID:     heuristicID,
			Fingerprint:     fingerprint,
			FirstSeen:       first,
			LastSeen:        last,
			OccurrenceCount: len(ds),
			DistinctFiles:   len(files),
			Confidence:      confidence,
			CooldownUntil:   cooldownUntil,
			Status:          "new",
			ExampleText:     ds[0].ExampleText,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
