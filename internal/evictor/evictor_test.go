package evictor

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/sametakofficial/cachevoice/internal/audiostore"
    "github.com/sametakofficial/cachevoice/internal/hotindex"
    "github.com/sametakofficial/cachevoice/internal/metadatadb"
)

func newTestEvictor(t *testing.T, maxEntries, minAgeDays int) (*Evictor, *metadatadb.DB, *hotindex.Index, *audiostore.Store) {
    t.Helper()
    ctx := context.Background()

    db, err := metadatadb.Open(ctx, ":memory:")
    require.NoError(t, err)
    t.Cleanup(func() { db.Close() })

    store, err := audiostore.New(t.TempDir())
    require.NoError(t, err)

    hot := hotindex.New()

    var evicted int
    e := New(db, hot, store, time.Hour, maxEntries, minAgeDays, func(count int) { evicted += count })
    return e, db, hot, store
}

func addEntry(t *testing.T, db *metadatadb.DB, hot *hotindex.Index, store *audiostore.Store, text, voice string, createdAt int64) metadatadb.CacheEntry {
    t.Helper()
    ctx := context.Background()

    path := store.DerivePath(text, voice, 1, "mp3")
    require.NoError(t, store.Write(path, []byte("audio")))

    id, err := db.AddEntry(ctx, metadatadb.CacheEntry{
        TextNormalized: text,
        VoiceID:        voice,
        VersionNum:     1,
        AudioPath:      path,
        Format:         "mp3",
        SizeBytes:      5,
        CreatedAt:      createdAt,
    })
    require.NoError(t, err)
    hot.Add(text, voice, path, 1)

    return metadatadb.CacheEntry{ID: id, TextNormalized: text, VoiceID: voice, AudioPath: path}
}

func TestSweepRemovesAgedEntry(t *testing.T) {
    e, db, hot, store := newTestEvictor(t, 1000, 1)
    ctx := context.Background()

    old := time.Now().Add(-48 * time.Hour).Unix()
    entry := addEntry(t, db, hot, store, "old text", "v1", old)

    require.NoError(t, e.Sweep(ctx))

    _, ok := hot.ExactLookup("old text", "v1")
    require.False(t, ok, "evicted entry must be gone from the Hot Index")
    require.False(t, store.Exists(entry.AudioPath), "evicted entry's file must be deleted")

    all, err := db.GetAllEntriesWithIDs(ctx)
    require.NoError(t, err)
    require.Empty(t, all)
}

func TestSweepLeavesFreshEntriesAlone(t *testing.T) {
    e, db, hot, store := newTestEvictor(t, 1000, 90)
    ctx := context.Background()

    addEntry(t, db, hot, store, "fresh text", "v1", time.Now().Unix())

    require.NoError(t, e.Sweep(ctx))

    _, ok := hot.ExactLookup("fresh text", "v1")
    require.True(t, ok)
}

func TestSweepEvictsOverflowByLowestHitCount(t *testing.T) {
    e, db, hot, store := newTestEvictor(t, 1, 90)
    ctx := context.Background()

    now := time.Now().Unix()
    addEntry(t, db, hot, store, "popular", "v1", now)
    require.NoError(t, db.RecordHit(ctx, "popular", "v1", nil))
    addEntry(t, db, hot, store, "unpopular", "v1", now)

    require.NoError(t, e.Sweep(ctx))

    _, popularStillThere := hot.ExactLookup("popular", "v1")
    require.True(t, popularStillThere)

    _, unpopularStillThere := hot.ExactLookup("unpopular", "v1")
    require.False(t, unpopularStillThere, "lower hit_count overflow row must be evicted first")
}

func TestSweepMissingFileIsNotAnError(t *testing.T) {
    e, db, hot, store := newTestEvictor(t, 1000, 0)
    ctx := context.Background()

    old := time.Now().Add(-time.Hour).Unix()
    entry := addEntry(t, db, hot, store, "gone already", "v1", old)
    require.NoError(t, store.Delete(entry.AudioPath))

    require.NoError(t, e.Sweep(ctx))

    all, err := db.GetAllEntriesWithIDs(ctx)
    require.NoError(t, err)
    require.Empty(t, all)
}
