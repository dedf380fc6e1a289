package cache

import (
    "context"
    "testing"

    "github.com/stretchr/testify/require"

    "github.com/sametakofficial/cachevoice/internal/audiostore"
    "github.com/sametakofficial/cachevoice/internal/config"
    "github.com/sametakofficial/cachevoice/internal/hotindex"
    "github.com/sametakofficial/cachevoice/internal/metadatadb"
)

func newTestCache(t *testing.T, varietyDepth int, fuzzyCfg config.FuzzyConfig) *Cache {
    t.Helper()
    ctx := context.Background()

    db, err := metadatadb.Open(ctx, ":memory:")
    require.NoError(t, err)
    t.Cleanup(func() { db.Close() })

    store, err := audiostore.New(t.TempDir())
    require.NoError(t, err)

    hot := hotindex.New()

    return New(db, hot, store, config.DefaultNormalizeConfig, fuzzyCfg, varietyDepth)
}

func TestStoreThenLookupExactHit(t *testing.T) {
    c := newTestCache(t, 1, config.FuzzyConfig{})
    ctx := context.Background()

    result, err := c.Store(ctx, "Hello, World!", "v1", []byte("audio-bytes"), "mp3")
    require.NoError(t, err)
    require.Equal(t, 1, result.VersionNum)

    lookup, err := c.Lookup(ctx, "Hello, World!", "v1")
    require.NoError(t, err)
    require.Equal(t, ExactHit, lookup.Kind)
    require.Equal(t, result.Path, lookup.Path)
}

func TestLookupNormalizationParity(t *testing.T) {
    c := newTestCache(t, 1, config.FuzzyConfig{})
    ctx := context.Background()

    _, err := c.Store(ctx, "Hello, World!", "v1", []byte("audio-bytes"), "mp3")
    require.NoError(t, err)

    lookup, err := c.Lookup(ctx, "hello world", "v1")
    require.NoError(t, err)
    require.Equal(t, ExactHit, lookup.Kind)
}

func TestLookupMissOnUnknownVoice(t *testing.T) {
    c := newTestCache(t, 1, config.FuzzyConfig{})
    ctx := context.Background()

    _, err := c.Store(ctx, "Hello, World!", "v1", []byte("audio-bytes"), "mp3")
    require.NoError(t, err)

    lookup, err := c.Lookup(ctx, "Hello, World!", "v2")
    require.NoError(t, err)
    require.Equal(t, Miss, lookup.Kind)
}

func TestStoreRespectsVarietyDepthCap(t *testing.T) {
    c := newTestCache(t, 2, config.FuzzyConfig{})
    ctx := context.Background()

    r1, err := c.Store(ctx, "t", "v", []byte("a"), "mp3")
    require.NoError(t, err)
    require.Equal(t, 1, r1.VersionNum)

    r2, err := c.Store(ctx, "t", "v", []byte("b"), "mp3")
    require.NoError(t, err)
    require.Equal(t, 2, r2.VersionNum)

    r3, err := c.Store(ctx, "t", "v", []byte("c"), "mp3")
    require.NoError(t, err)
    require.Equal(t, 2, r3.VersionNum, "version must not exceed variety_depth")
}

func TestFuzzyHitRecordsMatchedTextNotInput(t *testing.T) {
    fuzzyCfg := config.FuzzyConfig{Enabled: true, Threshold: 80, Scorer: "ratio"}
    c := newTestCache(t, 1, fuzzyCfg)
    ctx := context.Background()

    _, err := c.Store(ctx, "hello world", "v1", []byte("audio"), "mp3")
    require.NoError(t, err)

    lookup, err := c.Lookup(ctx, "helo world", "v1")
    require.NoError(t, err)
    require.Equal(t, FuzzyHit, lookup.Kind)
    require.Equal(t, "hello world", lookup.MatchedText)
}

func TestRemoveFromHotIndexCausesSubsequentMiss(t *testing.T) {
    c := newTestCache(t, 1, config.FuzzyConfig{})
    ctx := context.Background()

    _, err := c.Store(ctx, "t", "v", []byte("a"), "mp3")
    require.NoError(t, err)

    c.RemoveFromHotIndex("t", "v")

    lookup, err := c.Lookup(ctx, "t", "v")
    require.NoError(t, err)
    require.Equal(t, Miss, lookup.Kind)
}
