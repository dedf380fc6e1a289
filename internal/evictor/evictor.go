// Package evictor implements the background Evictor (C9): a periodic,
// age- and capacity-driven sweep across all three cache tiers.
//
// Grounded on the teacher's internal/router DID-pool reclaimer's
// timer-driven background loop, generalized from DID reclaim to cache
// entry eviction.
package evictor

import (
    "context"
    "time"

    "github.com/sametakofficial/cachevoice/internal/audiostore"
    "github.com/sametakofficial/cachevoice/internal/hotindex"
    "github.com/sametakofficial/cachevoice/internal/metadatadb"
    "github.com/sametakofficial/cachevoice/pkg/logger"
)

// Evictor periodically removes entries exceeding the configured age or
// capacity bounds.
type Evictor struct {
    db       *metadatadb.DB
    hot      *hotindex.Index
    store    *audiostore.Store
    interval time.Duration

    maxEntries    int
    minAgeSeconds int64

    onEvicted func(count int)
}

// New constructs an Evictor. onEvicted, if non-nil, is called with the
// number of entries removed per sweep (for the metrics counter).
func New(db *metadatadb.DB, hot *hotindex.Index, store *audiostore.Store, interval time.Duration, maxEntries, minAgeDays int, onEvicted func(count int)) *Evictor {
    return &Evictor{
        db:            db,
        hot:           hot,
        store:         store,
        interval:      interval,
        maxEntries:    maxEntries,
        minAgeSeconds: int64(minAgeDays) * 24 * 3600,
        onEvicted:     onEvicted,
    }
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (e *Evictor) Run(ctx context.Context) {
    ticker := time.NewTicker(e.interval)
    defer ticker.Stop()

    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
            if err := e.Sweep(ctx); err != nil {
                logger.WithError(err).Error("evictor: sweep failed")
            }
        }
    }
}

// Sweep runs one eviction pass: (1) remove from Hot Index, (2) delete the
// audio file (a missing file is not an error), (3) bulk-delete DB rows.
// The Hot Index step runs first so no lookup between DB delete and file
// delete can race into returning a ghost path (spec §4.9).
//
// This drops only the evicted version's own path from its bucket
// (hotindex.RemovePath), not the whole (text, voice) bucket
// (hotindex.Remove) that spec §4.3 names as the one entry point shared by
// Evictor and Reconciler. A single sweep candidate is one version among
// possibly several still-live siblings under VarietyDepth; removing the
// whole bucket over one candidate would evict siblings nothing selected
// for eviction. The Reconciler does use the shared Remove, since an
// orphaned DB row there means every version of that (text, voice) pair is
// gone, not just one.
func (e *Evictor) Sweep(ctx context.Context) error {
    now := time.Now().Unix()

    candidates, err := e.db.GetEvictionCandidates(ctx, e.maxEntries, e.minAgeSeconds, now)
    if err != nil {
        return err
    }
    if len(candidates) == 0 {
        return nil
    }

    ids := make([]int64, 0, len(candidates))
    for _, c := range candidates {
        e.hot.RemovePath(c.TextNormalized, c.VoiceID, c.AudioPath)

        if err := e.store.Delete(c.AudioPath); err != nil {
            logger.WithFields(map[string]interface{}{
                "audio_path": c.AudioPath,
                "voice_id":   c.VoiceID,
            }).WithError(err).Warn("evictor: failed to delete audio file")
        }

        ids = append(ids, c.ID)
    }

    if err := e.db.DeleteEntriesByIDs(ctx, ids); err != nil {
        return err
    }

    logger.WithField("count", len(ids)).Info("evictor: swept entries")
    if e.onEvicted != nil {
        e.onEvicted(len(ids))
    }
    return nil
}
