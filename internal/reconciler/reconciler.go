// Package reconciler implements the Integrity Reconciler (C10): a
// startup-only pass that brings the Metadata DB and the audio directory
// back into agreement before the HTTP listener accepts traffic.
//
// Grounded on the teacher's internal/ara startup reconciliation pass that
// diffs Asterisk's live channel state against the DB's call records,
// generalized here to diff DB rows against on-disk audio files.
package reconciler

import (
    "context"

    "github.com/sametakofficial/cachevoice/internal/audiostore"
    "github.com/sametakofficial/cachevoice/internal/hotindex"
    "github.com/sametakofficial/cachevoice/internal/metadatadb"
    "github.com/sametakofficial/cachevoice/pkg/logger"
)

// Result reports what the reconciliation pass removed.
type Result struct {
    OrphanDBEntries int
    OrphanFiles     int
}

// Run executes both phases described in spec §4.10. It must run after the
// Hot Index load and before the HTTP listener starts.
func Run(ctx context.Context, db *metadatadb.DB, hot *hotindex.Index, store *audiostore.Store) (Result, error) {
    var result Result

    // Phase 1 (DB -> FS): drop DB rows whose file no longer exists.
    entries, err := db.GetAllEntriesWithIDs(ctx)
    if err != nil {
        return Result{}, err
    }

    var orphanIDs []int64
    for _, e := range entries {
        if store.Exists(e.AudioPath) {
            continue
        }
        orphanIDs = append(orphanIDs, e.ID)
        hot.Remove(e.TextNormalized, e.VoiceID)
    }

    if len(orphanIDs) > 0 {
        if err := db.DeleteEntriesByIDs(ctx, orphanIDs); err != nil {
            return Result{}, err
        }
        result.OrphanDBEntries = len(orphanIDs)
    }

    // Phase 2 (FS -> DB): delete top-level files not referenced by any
    // surviving DB row. The fillers subdirectory is not descended into by
    // ListTopLevel, so it is preserved untouched.
    survivingPaths := make(map[string]bool, len(entries))
    orphanSet := make(map[int64]bool, len(orphanIDs))
    for _, id := range orphanIDs {
        orphanSet[id] = true
    }
    for _, e := range entries {
        if orphanSet[e.ID] {
            continue
        }
        survivingPaths[e.AudioPath] = true
    }

    files, err := store.ListTopLevel()
    if err != nil {
        return Result{}, err
    }

    for _, path := range files {
        if survivingPaths[path] {
            continue
        }
        if err := store.Delete(path); err != nil {
            logger.WithField("path", path).WithError(err).Warn("reconciler: failed to delete orphan file")
            continue
        }
        result.OrphanFiles++
    }

    logger.WithFields(map[string]interface{}{
        "orphan_db_entries": result.OrphanDBEntries,
        "orphan_files":      result.OrphanFiles,
    }).Info("startup: removed orphan DB entries and files")

    return result, nil
}
