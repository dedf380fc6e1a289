package fuzzy

import (
    "testing"

    "github.com/stretchr/testify/require"
)

func TestRatioIdenticalStringsScoreHigh(t *testing.T) {
    require.Equal(t, 100, ratio("hello world", "hello world"))
}

func TestRatioDissimilarStringsScoreLow(t *testing.T) {
    require.Less(t, ratio("hello world", "zzz qqq xxx"), 50)
}

func TestLookupPicksHighestScore(t *testing.T) {
    candidates := []string{"hello world", "goodbye world", "hello there"}
    match, ok := Lookup("hello world", candidates, 50, ratio)
    require.True(t, ok)
    require.Equal(t, "hello world", match.Candidate)
    require.Equal(t, 100, match.Score)
}

func TestLookupBelowThresholdReturnsFalse(t *testing.T) {
    candidates := []string{"completely different text"}
    _, ok := Lookup("hello world", candidates, 99, ratio)
    require.False(t, ok)
}

func TestLookupEmptyCandidatesReturnsFalse(t *testing.T) {
    _, ok := Lookup("hello world", nil, 50, ratio)
    require.False(t, ok)
}

func TestLookupTieBreaksLexicographically(t *testing.T) {
    always100 := func(a, b string) int { return 100 }
    candidates := []string{"zzz", "aaa", "mmm"}
    match, ok := Lookup("anything", candidates, 0, always100)
    require.True(t, ok)
    require.Equal(t, "aaa", match.Candidate)
}

func TestTokenSetRatioIgnoresWordOrder(t *testing.T) {
    require.Equal(t, tokenSetRatio("hello world", "world hello"), 100)
}

func TestPartialRatioFindsSubstring(t *testing.T) {
    score := partialRatio("world", "hello world today")
    require.GreaterOrEqual(t, score, 90)
}

func TestRegistryHasAllScorers(t *testing.T) {
    for _, name := range []string{"ratio", "partial_ratio", "token_set_ratio"} {
        _, ok := Registry[name]
        require.True(t, ok, "missing scorer %q", name)
    }
}
