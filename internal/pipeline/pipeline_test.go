package pipeline

import (
    "context"
    "errors"
    "os"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/sametakofficial/cachevoice/internal/audiostore"
    "github.com/sametakofficial/cachevoice/internal/cache"
    "github.com/sametakofficial/cachevoice/internal/config"
    "github.com/sametakofficial/cachevoice/internal/hotindex"
    "github.com/sametakofficial/cachevoice/internal/metadatadb"
    "github.com/sametakofficial/cachevoice/internal/provider"
    cverrors "github.com/sametakofficial/cachevoice/pkg/errors"
)

type fakeSynth struct {
    audio []byte
    err   error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, voice, model string) ([]byte, error) {
    if f.err != nil {
        return nil, f.err
    }
    return f.audio, nil
}

func newTestPipeline(t *testing.T, varietyDepth int, providerErr error) (*Pipeline, *cache.Cache) {
    t.Helper()
    return newTestPipelineWithFuzzy(t, varietyDepth, providerErr, config.FuzzyConfig{})
}

func newTestPipelineWithFuzzy(t *testing.T, varietyDepth int, providerErr error, fuzzyCfg config.FuzzyConfig) (*Pipeline, *cache.Cache) {
    t.Helper()
    ctx := context.Background()

    db, err := metadatadb.Open(ctx, ":memory:")
    require.NoError(t, err)
    t.Cleanup(func() { db.Close() })

    store, err := audiostore.New(t.TempDir())
    require.NoError(t, err)

    hot := hotindex.New()
    c := cache.New(db, hot, store, config.DefaultNormalizeConfig, fuzzyCfg, varietyDepth)

    cfg := config.ProvidersConfig{
        FallbackChain: []string{"p1"},
        Configs:       map[string]config.ProviderConfig{"p1": {APIKey: "key"}},
    }
    chain := provider.NewChain(cfg, func(name string, pc config.ProviderConfig) provider.Synthesizer {
        return &fakeSynth{audio: []byte("synthesized"), err: providerErr}
    })

    cacheCfg := config.CacheConfig{
        Enabled:       true,
        MaxTextLength: 4096,
        VarietyDepth:  varietyDepth,
    }

    return New(c, chain, cacheCfg, nil, nil), c
}

func TestHandleMissSynthesizesAndStores(t *testing.T) {
    p, _ := newTestPipeline(t, 1, nil)

    result, err := p.Handle(context.Background(), Request{Text: "Hello, World!", Voice: "v1"})
    require.NoError(t, err)
    require.Equal(t, ReasonMiss, result.ReasonCode)
    require.Equal(t, []byte("synthesized"), result.Audio)
    require.Equal(t, "p1", result.Provider)
}

func TestHandleExactHitOnSecondRequest(t *testing.T) {
    p, _ := newTestPipeline(t, 1, nil)
    ctx := context.Background()

    _, err := p.Handle(ctx, Request{Text: "Hello, World!", Voice: "v1"})
    require.NoError(t, err)

    result, err := p.Handle(ctx, Request{Text: "Hello, World!", Voice: "v1"})
    require.NoError(t, err)
    require.Equal(t, ReasonExactHit, result.ReasonCode)
    require.Empty(t, result.Provider)
}

func TestHandleTextTooLongBypassesCache(t *testing.T) {
    p, c := newTestPipeline(t, 1, nil)
    p.cacheCfg.MaxTextLength = 5

    result, err := p.Handle(context.Background(), Request{Text: "this text is far too long", Voice: "v1"})
    require.NoError(t, err)
    require.Equal(t, ReasonMissTextTooLong, result.ReasonCode)

    count, err := c.VersionCount(context.Background(), c.Normalize("this text is far too long"), "v1")
    require.NoError(t, err)
    require.Zero(t, count, "too-long text must not be cached")
}

func TestHandleCachingDisabledBypassesCache(t *testing.T) {
    p, c := newTestPipeline(t, 1, nil)
    p.cacheCfg.Enabled = false

    result, err := p.Handle(context.Background(), Request{Text: "hello", Voice: "v1"})
    require.NoError(t, err)
    require.Equal(t, ReasonMissNoCache, result.ReasonCode)

    count, err := c.VersionCount(context.Background(), c.Normalize("hello"), "v1")
    require.NoError(t, err)
    require.Zero(t, count)
}

func TestHandleUpstreamExhaustedPropagates(t *testing.T) {
    p, _ := newTestPipeline(t, 1, errors.New("connection refused"))

    _, err := p.Handle(context.Background(), Request{Text: "hello", Voice: "v1"})
    require.Error(t, err)
    require.True(t, cverrors.Is(err, cverrors.ErrUpstreamExhausted))
}

func TestHandleRecoversFromFileMissingOnHit(t *testing.T) {
    p, c := newTestPipeline(t, 1, nil)
    ctx := context.Background()

    _, err := p.Handle(ctx, Request{Text: "hello", Voice: "v1"})
    require.NoError(t, err)

    lookup, err := c.Lookup(ctx, "hello", "v1")
    require.NoError(t, err)
    require.NoError(t, os.Remove(lookup.Path))

    result, err := p.Handle(ctx, Request{Text: "hello", Voice: "v1"})
    require.NoError(t, err)
    require.Equal(t, ReasonMiss, result.ReasonCode, "a hit pointing at a deleted file must fall through to miss")
}

func TestHandleFuzzyHitSchedulesWarmupOnMatchedTextNotInputText(t *testing.T) {
    p, c := newTestPipelineWithFuzzy(t, 2, nil, config.FuzzyConfig{Enabled: true, Threshold: 50, Scorer: "ratio"})
    ctx := context.Background()

    _, err := p.Handle(ctx, Request{Text: "hello world", Voice: "v1"})
    require.NoError(t, err)
    matchedText := c.Normalize("hello world")

    lookup, err := c.Lookup(ctx, "hello world again", "v1")
    require.NoError(t, err)
    require.Equal(t, cache.FuzzyHit, lookup.Kind, "test fixture must actually exercise the fuzzy-hit path")
    require.Equal(t, matchedText, lookup.MatchedText)
    require.NotEqual(t, lookup.MatchedText, lookup.TextNormalized, "matched text must differ from the input's own normalized text for this test to be meaningful")

    result, err := p.Handle(ctx, Request{Text: "hello world again", Voice: "v1"})
    require.NoError(t, err)
    require.Equal(t, ReasonFuzzyHit, result.ReasonCode)

    require.Eventually(t, func() bool { return p.InFlightWarmups() == 0 }, 2*time.Second, 10*time.Millisecond)

    matchedCount, err := c.VersionCount(ctx, matchedText, "v1")
    require.NoError(t, err)
    require.Equal(t, 2, matchedCount, "warm-up must add a version to the matched entry")

    inputOwnCount, err := c.VersionCount(ctx, lookup.TextNormalized, "v1")
    require.NoError(t, err)
    require.Zero(t, inputOwnCount, "warm-up must never store a new entry keyed on the fuzzy input's own literal text")
}

type fakeConverter struct {
    called            bool
    srcFormat, dstFormat string
}

func (f *fakeConverter) Convert(ctx context.Context, audio []byte, srcFormat, dstFormat string) ([]byte, error) {
    f.called = true
    f.srcFormat, f.dstFormat = srcFormat, dstFormat
    return []byte("converted:" + string(audio)), nil
}

func TestHandleHitConvertsFormatWhenConverterWired(t *testing.T) {
    p, _ := newTestPipeline(t, 1, nil)
    converter := &fakeConverter{}
    p.converter = converter
    ctx := context.Background()

    _, err := p.Handle(ctx, Request{Text: "hello", Voice: "v1", ResponseFormat: "mp3"})
    require.NoError(t, err)

    result, err := p.Handle(ctx, Request{Text: "hello", Voice: "v1", ResponseFormat: "wav"})
    require.NoError(t, err)
    require.Equal(t, ReasonExactHit, result.ReasonCode)
    require.True(t, converter.called)
    require.Equal(t, "mp3", converter.srcFormat)
    require.Equal(t, "wav", converter.dstFormat)
    require.Equal(t, "wav", result.Format)
    require.Equal(t, []byte("converted:synthesized"), result.Audio)
}

func TestHandleHitServesStoredFormatWhenNoConverterWired(t *testing.T) {
    p, _ := newTestPipeline(t, 1, nil)
    ctx := context.Background()

    _, err := p.Handle(ctx, Request{Text: "hello", Voice: "v1", ResponseFormat: "mp3"})
    require.NoError(t, err)

    result, err := p.Handle(ctx, Request{Text: "hello", Voice: "v1", ResponseFormat: "wav"})
    require.NoError(t, err)
    require.Equal(t, ReasonExactHit, result.ReasonCode)
    require.Equal(t, "mp3", result.Format, "without a converter, the actually-served bytes' format must be reported accurately")
    require.Equal(t, []byte("synthesized"), result.Audio)
}

func TestScheduleWarmupDedupesInFlightKey(t *testing.T) {
    p, _ := newTestPipeline(t, 3, nil)

    p.scheduleWarmup("t", "v1", "", "mp3")
    require.Equal(t, 1, p.InFlightWarmups())

    p.scheduleWarmup("t", "v1", "", "mp3")
    require.Equal(t, 1, p.InFlightWarmups(), "duplicate warm-up for the same key must be skipped")

    require.Eventually(t, func() bool { return p.InFlightWarmups() == 0 }, 2*time.Second, 10*time.Millisecond)
}
