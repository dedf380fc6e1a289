// Package pipeline implements the Request Pipeline (C8): classifies each
// request as exact-hit / fuzzy-hit / miss, drives the miss path through the
// Provider Fallback chain, and schedules background variety warm-up.
//
// Grounded on the teacher's internal/router call-handling flow (classify,
// dispatch, record outcome) generalized from SIP call routing to cache
// lookup/store.
package pipeline

import (
    "context"
    "sync"
    "time"

    "github.com/sametakofficial/cachevoice/internal/cache"
    "github.com/sametakofficial/cachevoice/internal/config"
    "github.com/sametakofficial/cachevoice/internal/provider"
    "github.com/sametakofficial/cachevoice/pkg/errors"
    "github.com/sametakofficial/cachevoice/pkg/logger"
)

// Reason codes for structured logging (spec §4.8).
const (
    ReasonExactHit         = "exact_hit"
    ReasonFuzzyHit         = "fuzzy_hit"
    ReasonMiss             = "miss"
    ReasonMissNoCache      = "miss_no_cache"
    ReasonMissTextTooLong  = "miss_text_too_long"
    ReasonErrorFileMissing = "error_file_not_found"
)

// Request is the inbound synthesis request, spec §4.8.
type Request struct {
    Text           string
    Voice          string
    Model          string
    ResponseFormat string
}

// Result is the outcome returned to the HTTP layer.
type Result struct {
    Audio      []byte
    Format     string
    ReasonCode string
    Provider   string // empty on a cache hit
}

// HealthNotifier is the subset of health.Tracker the Pipeline needs, so
// this package does not import internal/health directly.
type HealthNotifier interface {
    RecordSuccess()
    RecordFailure(at time.Time)
}

// Converter transcodes already-synthesized audio between formats. The
// transcoding engine itself is an out-of-scope external collaborator
// (spec §1); Pipeline only calls it when a cache hit's stored format
// differs from the request's response_format.
type Converter interface {
    Convert(ctx context.Context, audio []byte, srcFormat, dstFormat string) ([]byte, error)
}

// Pipeline wires the Cache Facade and Provider Fallback chain together and
// owns the warm-up scheduler's in-flight set (spec §9).
type Pipeline struct {
    cache     *cache.Cache
    chain     *provider.Chain
    cacheCfg  config.CacheConfig
    health    HealthNotifier
    converter Converter

    warmupMu      sync.Mutex
    warmupInFlight map[string]bool

    warmupTimeout time.Duration
}

// New constructs a Pipeline. health and converter may be nil: with no
// health tracker wired, liveness notifications are skipped; with no
// converter wired, a hit whose stored format differs from the request's
// response_format is served in its stored format rather than transcoded.
func New(c *cache.Cache, chain *provider.Chain, cacheCfg config.CacheConfig, health HealthNotifier, converter Converter) *Pipeline {
    return &Pipeline{
        cache:          c,
        chain:          chain,
        cacheCfg:       cacheCfg,
        health:         health,
        converter:      converter,
        warmupInFlight: make(map[string]bool),
        warmupTimeout:  30 * time.Second,
    }
}

func previewOf(text string) string {
    if len(text) <= 50 {
        return text
    }
    return text[:50]
}

func (p *Pipeline) logField(reasonCode, text, voice, format string, score int) *logger.Logger {
    fields := logger.WithFields(map[string]interface{}{
        "reason_code":  reasonCode,
        "text_preview": previewOf(text),
        "voice_id":     voice,
        "format":       format,
    })
    if score > 0 {
        fields = fields.WithFields(map[string]interface{}{"score": score})
    }
    return fields
}

// Handle runs the full per-request flow described in spec §4.8.
func (p *Pipeline) Handle(ctx context.Context, req Request) (Result, error) {
    format := req.ResponseFormat
    if format == "" {
        format = "mp3"
    }

    if len(req.Text) > p.cacheCfg.MaxTextLength {
        p.cache.RecordMiss()
        p.logField(ReasonMissTextTooLong, req.Text, req.Voice, format, 0).Info("cache miss")
        return p.synthesizeUncached(ctx, req, format, ReasonMissTextTooLong)
    }

    if !p.cacheCfg.Enabled {
        p.cache.RecordMiss()
        p.logField(ReasonMissNoCache, req.Text, req.Voice, format, 0).Info("cache miss")
        return p.synthesizeUncached(ctx, req, format, ReasonMissNoCache)
    }

    lookup, err := p.cache.Lookup(ctx, req.Text, req.Voice)
    if err != nil {
        return Result{}, err
    }

    switch lookup.Kind {
    case cache.ExactHit, cache.FuzzyHit:
        audio, readErr := p.cache.ReadFile(lookup.Path)
        if readErr != nil {
            // File is gone (race vs. evictor): record, drop from Hot Index,
            // fall through to the miss path (spec §4.8 step 3, §7 FileMissingOnHit).
            p.cache.RemoveFromHotIndex(lookup.MatchedText, req.Voice)
            p.logField(ReasonErrorFileMissing, req.Text, req.Voice, format, lookup.Score).
                WithError(readErr).Warn("cache hit pointed at missing file")
            return p.handleMiss(ctx, req, format)
        }

        reasonCode := ReasonExactHit
        if lookup.Kind == cache.FuzzyHit {
            reasonCode = ReasonFuzzyHit
        }
        p.logField(reasonCode, req.Text, req.Voice, format, lookup.Score).Info("cache hit")

        if versionCount, vcErr := p.cache.VersionCount(ctx, lookup.MatchedText, req.Voice); vcErr == nil {
            if versionCount < p.cache.VarietyDepth() {
                p.scheduleWarmup(lookup.MatchedText, req.Voice, req.Model, format)
            }
        }

        resultFormat := lookup.Format
        if lookup.Format != "" && lookup.Format != format {
            if p.converter != nil {
                converted, convErr := p.converter.Convert(ctx, audio, lookup.Format, format)
                if convErr != nil {
                    return Result{}, convErr
                }
                audio = converted
                resultFormat = format
            } else {
                p.logField(reasonCode, req.Text, req.Voice, format, lookup.Score).
                    Warn("response_format differs from stored format but no converter is wired; serving stored format")
            }
        }

        return Result{Audio: audio, Format: resultFormat, ReasonCode: reasonCode}, nil

    default:
        return p.handleMiss(ctx, req, format)
    }
}

func (p *Pipeline) handleMiss(ctx context.Context, req Request, format string) (Result, error) {
    audio, providerName, err := p.chain.Synthesize(ctx, req.Text, req.Voice, req.Model)
    if err != nil {
        p.cache.RecordMiss()
        p.notifyHealth(err)
        p.logField(ReasonMiss, req.Text, req.Voice, format, 0).WithError(err).Warn("provider fallback exhausted")
        return Result{}, err
    }
    p.notifyHealth(nil)

    storeResult, err := p.cache.Store(ctx, req.Text, req.Voice, audio, format)
    if err != nil {
        return Result{}, err
    }

    p.cache.RecordMiss()
    p.logField(ReasonMiss, req.Text, req.Voice, format, 0).Info("cache miss")

    if p.cache.VarietyDepth() > 1 && storeResult.VersionNum == 1 {
        p.scheduleWarmup(p.cache.Normalize(req.Text), req.Voice, req.Model, format)
    }

    return Result{Audio: audio, Format: format, ReasonCode: ReasonMiss, Provider: providerName}, nil
}

// synthesizeUncached forwards directly to the provider without touching
// the cache at all (spec §4.8 steps 1-2: too-long text, caching disabled).
func (p *Pipeline) synthesizeUncached(ctx context.Context, req Request, format, reasonCode string) (Result, error) {
    audio, providerName, err := p.chain.Synthesize(ctx, req.Text, req.Voice, req.Model)
    if err != nil {
        p.notifyHealth(err)
        return Result{}, err
    }
    p.notifyHealth(nil)
    return Result{Audio: audio, Format: format, ReasonCode: reasonCode, Provider: providerName}, nil
}

func (p *Pipeline) notifyHealth(err error) {
    if p.health == nil {
        return
    }
    if err == nil {
        p.health.RecordSuccess()
        return
    }
    if errors.Is(err, errors.ErrUpstreamExhausted) || errors.Is(err, errors.ErrNoProvider) {
        p.health.RecordFailure(time.Now())
    }
}

func warmupKey(textNormalized, voice string) string {
    return textNormalized + "\x00" + voice
}

// scheduleWarmup enqueues a background synthesis of the next version for
// (textNormalized, voice), deduplicated against in-flight work (spec §4.8,
// §9). A fire-and-forget goroutine; failures are logged at WARN only.
func (p *Pipeline) scheduleWarmup(textNormalized, voice, model, format string) {
    key := warmupKey(textNormalized, voice)

    p.warmupMu.Lock()
    if p.warmupInFlight[key] {
        p.warmupMu.Unlock()
        return
    }
    p.warmupInFlight[key] = true
    p.warmupMu.Unlock()

    go func() {
        defer func() {
            p.warmupMu.Lock()
            delete(p.warmupInFlight, key)
            p.warmupMu.Unlock()
        }()

        ctx, cancel := context.WithTimeout(context.Background(), p.warmupTimeout)
        defer cancel()

        audio, _, err := p.chain.Synthesize(ctx, textNormalized, voice, model)
        if err != nil {
            logger.WithFields(map[string]interface{}{
                "text_preview": previewOf(textNormalized),
                "voice_id":     voice,
            }).WithError(err).Warn("warm-up synthesis failed")
            return
        }

        if _, err := p.cache.Store(ctx, textNormalized, voice, audio, format); err != nil {
            logger.WithFields(map[string]interface{}{
                "text_preview": previewOf(textNormalized),
                "voice_id":     voice,
            }).WithError(err).Warn("warm-up store failed")
        }
    }()
}

// InFlightWarmups reports the current warm-up in-flight set size, for the
// metrics gauge.
func (p *Pipeline) InFlightWarmups() int {
    p.warmupMu.Lock()
    defer p.warmupMu.Unlock()
    return len(p.warmupInFlight)
}
