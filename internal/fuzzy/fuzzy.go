// Package fuzzy implements the Fuzzy Matcher (C4): a lexical near-match
// fallback scanned only within a single voice's Hot Index bucket, never
// across voices. It is disabled by default (spec §4.4) because the
// Normalizer already absorbs case and diacritic variation.
package fuzzy

import (
    "sort"
    "strings"

    "github.com/antzucaro/matchr"
)

// Scorer computes a similarity score in 0..100 between the input and a
// candidate normalized text. Resolved from config by name via the Registry.
type Scorer func(input, candidate string) int

// Registry maps a configured scorer name to its implementation, mirroring
// the name-to-strategy dispatch spec §4.4 asks for ("resolved from a name
// in config via a registry").
var Registry = map[string]Scorer{
    "ratio":           ratio,
    "partial_ratio":   partialRatio,
    "token_set_ratio": tokenSetRatio,
}

// Match is the result of a successful fuzzy lookup.
type Match struct {
    Candidate string
    Score     int
}

// Lookup scans candidates (the keys of a single voice's Hot Index bucket)
// and returns the highest-scoring one meeting threshold, per scorer. Ties
// are broken by the lexicographically smaller candidate for determinism
// (spec §9, tie-break not specified by the original source). Returns false
// if candidates is empty or none meets the threshold.
func Lookup(input string, candidates []string, threshold int, scorer Scorer) (Match, bool) {
    if len(candidates) == 0 || scorer == nil {
        return Match{}, false
    }

    sorted := make([]string, len(candidates))
    copy(sorted, candidates)
    sort.Strings(sorted)

    best := Match{}
    found := false
    for _, candidate := range sorted {
        score := scorer(input, candidate)
        if score < threshold {
            continue
        }
        if !found || score > best.Score {
            best = Match{Candidate: candidate, Score: score}
            found = true
        }
        // sorted ascending lexicographically and best.Score only replaced on
        // strictly greater score, so the first candidate at the max score
        // (the lexicographically smallest) wins ties.
    }
    return best, found
}

// ratio is a straight Jaro-Winkler comparison over the full strings,
// rescaled from matchr's 0..1 float to spec's 0..100 integer contract.
func ratio(a, b string) int {
    return toScore(matchr.JaroWinkler(a, b, true))
}

// partialRatio finds the best-aligned substring window of the shorter
// string inside the longer one. matchr has no native partial_ratio (the
// pack's antzucaro/matchr ports Double Metaphone and Jaro-Winkler only, not
// rapidfuzz's windowed variants), so the windowing here is hand-written.
func partialRatio(a, b string) int {
    shorter, longer := a, b
    if len(shorter) > len(longer) {
        shorter, longer = longer, shorter
    }
    if len(shorter) == 0 {
        if len(longer) == 0 {
            return 100
        }
        return 0
    }

    best := 0.0
    step := 1
    for i := 0; i+len(shorter) <= len(longer); i += step {
        window := longer[i : i+len(shorter)]
        if score := matchr.JaroWinkler(shorter, window, true); score > best {
            best = score
        }
    }
    if len(shorter) > len(longer) {
        return toScore(matchr.JaroWinkler(shorter, longer, true))
    }
    return toScore(best)
}

// tokenSetRatio compares the sorted, deduplicated token sets of both
// strings, so word order and repeated words don't depress the score —
// rapidfuzz's token_set_ratio semantics, hand-built atop matchr's
// Jaro-Winkler since matchr itself is purely character-level.
func tokenSetRatio(a, b string) int {
    setA := sortedUniqueTokens(a)
    setB := sortedUniqueTokens(b)
    return toScore(matchr.JaroWinkler(strings.Join(setA, " "), strings.Join(setB, " "), true))
}

func sortedUniqueTokens(s string) []string {
    seen := make(map[string]bool)
    var out []string
    for _, tok := range strings.Fields(s) {
        if !seen[tok] {
            seen[tok] = true
            out = append(out, tok)
        }
    }
    sort.Strings(out)
    return out
}

func toScore(f float64) int {
    score := int(f*100 + 0.5)
    if score > 100 {
        return 100
    }
    if score < 0 {
        return 0
    }
    return score
}
