// Package cache implements the Cache Facade (C6): the single composition
// point over the Normalizer, Metadata DB, Hot Index, Fuzzy Matcher, and
// Audio Store, exposing lookup/store as the only entry points the Request
// Pipeline needs.
package cache

import (
    "context"
    "path/filepath"
    "strings"
    "time"

    "github.com/sametakofficial/cachevoice/internal/audiostore"
    "github.com/sametakofficial/cachevoice/internal/config"
    "github.com/sametakofficial/cachevoice/internal/fuzzy"
    "github.com/sametakofficial/cachevoice/internal/hotindex"
    "github.com/sametakofficial/cachevoice/internal/metadatadb"
    "github.com/sametakofficial/cachevoice/internal/normalize"
)

// LookupKind classifies the outcome of a Lookup call (spec §4.6).
type LookupKind int

const (
    Miss LookupKind = iota
    ExactHit
    FuzzyHit
)

// LookupResult is the outcome of a cache lookup.
type LookupResult struct {
    Kind           LookupKind
    Path           string
    MatchedText    string // the stored entry's normalized text (may differ from the input's on a fuzzy hit)
    Score          int    // only meaningful on FuzzyHit
    TextNormalized string // the input's own normalized text
    Format         string // the stored entry's actual audio format, derived from Path's extension
}

// formatFromPath recovers the format tag DerivePath encoded as Path's file
// extension, so callers can tell whether the stored audio already matches a
// requested response_format without a second DB round trip.
func formatFromPath(path string) string {
    return strings.TrimPrefix(filepath.Ext(path), ".")
}

// Cache composes C1-C5 behind lookup/store.
type Cache struct {
    db        *metadatadb.DB
    hot       *hotindex.Index
    store     *audiostore.Store
    normCfg   config.NormalizeConfig
    fuzzyCfg  config.FuzzyConfig
    varietyDepth int
}

// New constructs the Cache Facade from its already-initialized dependencies.
func New(db *metadatadb.DB, hot *hotindex.Index, store *audiostore.Store, normCfg config.NormalizeConfig, fuzzyCfg config.FuzzyConfig, varietyDepth int) *Cache {
    return &Cache{
        db:           db,
        hot:          hot,
        store:        store,
        normCfg:      normCfg,
        fuzzyCfg:     fuzzyCfg,
        varietyDepth: varietyDepth,
    }
}

// Normalize exposes the configured Normalizer to callers (e.g. the
// warm-up scheduler, which only needs the normalized key).
func (c *Cache) Normalize(text string) string {
    return normalize.Normalize(text, c.normCfg)
}

// Lookup attempts (a) normalize, (b) Hot Index exact, (c) Hot Index fuzzy if
// enabled, (d) miss — per spec §4.6. A hit records it against the matched
// entry's normalized text, not necessarily the input's.
func (c *Cache) Lookup(ctx context.Context, text, voiceID string) (LookupResult, error) {
    textNorm := c.Normalize(text)

    if path, ok := c.hot.ExactLookup(textNorm, voiceID); ok {
        if err := c.db.RecordHit(ctx, textNorm, voiceID, nil); err != nil {
            return LookupResult{}, err
        }
        return LookupResult{Kind: ExactHit, Path: path, MatchedText: textNorm, TextNormalized: textNorm, Format: formatFromPath(path)}, nil
    }

    if c.fuzzyCfg.Enabled {
        scorer, ok := fuzzy.Registry[c.fuzzyCfg.Scorer]
        if ok {
            candidates := c.hot.VoiceBucketKeys(voiceID)
            if match, found := fuzzy.Lookup(textNorm, candidates, c.fuzzyCfg.Threshold, scorer); found {
                path, pathOK := c.hot.ExactLookup(match.Candidate, voiceID)
                if pathOK {
                    if err := c.db.RecordHit(ctx, match.Candidate, voiceID, nil); err != nil {
                        return LookupResult{}, err
                    }
                    return LookupResult{
                        Kind:           FuzzyHit,
                        Path:           path,
                        MatchedText:    match.Candidate,
                        Score:          match.Score,
                        TextNormalized: textNorm,
                        Format:         formatFromPath(path),
                    }, nil
                }
            }
        }
    }

    return LookupResult{Kind: Miss, TextNormalized: textNorm}, nil
}

// StoreResult is the outcome of a successful store.
type StoreResult struct {
    Path       string
    VersionNum int
}

// Store normalizes text, derives the next version's path, writes the file
// atomically, and records the entry. On a write race (another writer beat
// this one to the same unique key) the deterministic filename derivation
// means both writers resolve to the identical path regardless of who wins,
// so no special-case re-read of a different path is needed (spec §4.6,
// §9 "race on unique insert... exploited intentionally").
func (c *Cache) Store(ctx context.Context, text, voiceID string, audioBytes []byte, format string) (StoreResult, error) {
    textNorm := c.Normalize(text)

    existingCount, err := c.db.GetVersionCount(ctx, textNorm, voiceID)
    if err != nil {
        return StoreResult{}, err
    }

    versionNum := existingCount + 1
    if versionNum > c.varietyDepth {
        versionNum = c.varietyDepth
    }

    path := c.store.DerivePath(textNorm, voiceID, versionNum, format)
    if err := c.store.Write(path, audioBytes); err != nil {
        return StoreResult{}, err
    }

    _, err = c.db.AddEntry(ctx, metadatadb.CacheEntry{
        TextNormalized: textNorm,
        VoiceID:        voiceID,
        VersionNum:     versionNum,
        AudioPath:      path,
        Format:         format,
        SizeBytes:      int64(len(audioBytes)),
        CreatedAt:      time.Now().Unix(),
    })
    if err != nil {
        return StoreResult{}, err
    }

    c.hot.Add(textNorm, voiceID, path, c.varietyDepth)

    return StoreResult{Path: path, VersionNum: versionNum}, nil
}

// VersionCount returns how many versions currently exist for (text, voice),
// used by the Request Pipeline's warm-up scheduling decision.
func (c *Cache) VersionCount(ctx context.Context, textNormalized, voiceID string) (int, error) {
    return c.db.GetVersionCount(ctx, textNormalized, voiceID)
}

// RemoveFromHotIndex drops the bucket for (text, voice) — used when a hit
// discovers its file has gone missing (FileMissingOnHit).
func (c *Cache) RemoveFromHotIndex(textNormalized, voiceID string) {
    c.hot.Remove(textNormalized, voiceID)
}

// ReadFile reads the audio bytes at path.
func (c *Cache) ReadFile(path string) ([]byte, error) {
    return c.store.Read(path)
}

// RecordMiss increments the in-memory miss counter.
func (c *Cache) RecordMiss() {
    c.db.RecordMiss()
}

// VarietyDepth returns the configured variety depth.
func (c *Cache) VarietyDepth() int {
    return c.varietyDepth
}

// LoadHotIndex populates the Hot Index from the Metadata DB at startup.
// Entries whose file is missing are skipped (and reported to the caller so
// the Integrity Reconciler can remove them from the DB).
func LoadHotIndex(ctx context.Context, db *metadatadb.DB, store *audiostore.Store, hot *hotindex.Index, varietyDepth int) ([]metadatadb.CacheEntry, error) {
    entries, err := db.GetAllEntriesWithIDs(ctx)
    if err != nil {
        return nil, err
    }

    var missing []metadatadb.CacheEntry
    for _, e := range entries {
        if !store.Exists(e.AudioPath) {
            missing = append(missing, e)
            continue
        }
        hot.Add(e.TextNormalized, e.VoiceID, e.AudioPath, varietyDepth)
    }
    return missing, nil
}
