// Package metadatadb implements the Metadata DB (C2): the single-writer
// SQLite durable record of cache entries, hit counts, and versions.
package metadatadb

import (
    "context"
    "database/sql"
    "sync"
    "sync/atomic"

    _ "modernc.org/sqlite"

    "github.com/sametakofficial/cachevoice/pkg/errors"
    "github.com/sametakofficial/cachevoice/pkg/logger"
)

// CacheEntry is the persistent record described in spec §3.
type CacheEntry struct {
    ID             int64
    TextNormalized string
    VoiceID        string
    VersionNum     int
    AudioPath      string
    Format         string
    SizeBytes      int64
    CreatedAt      int64
    HitCount       int64
}

// EvictionCandidate identifies a row the Evictor should remove.
type EvictionCandidate struct {
    ID             int64
    AudioPath      string
    TextNormalized string
    VoiceID        string
}

// VoiceStats is one row of the per_voice stats breakdown.
type VoiceStats struct {
    VoiceID   string
    Entries   int64
    Hits      int64
    SizeBytes int64
}

// Stats is the get_stats() payload, spec §4.2.
type Stats struct {
    TotalEntries    int64
    TotalHits       int64
    TotalMisses     int64
    HitRate         float64
    CacheAgeSeconds int64
    PerVoice        []VoiceStats
}

// DB wraps a single-writer SQLite connection. Unlike the teacher's
// package-level singleton, DB is an explicit value constructed at startup
// and passed by reference (spec §9 design note on global singletons), so
// tests can construct an independent instance per case.
type DB struct {
    conn *sql.DB

    stmtMu sync.RWMutex
    stmts  map[string]*sql.Stmt

    totalMisses int64 // in-memory, reset on restart (spec §3)
}

// Open opens (creating if necessary) the SQLite file at path and brings its
// schema up to date. path may be ":memory:" for tests.
func Open(ctx context.Context, path string) (*DB, error) {
    conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to open metadata database")
    }

    // SQLite is single-writer; a single connection avoids SQLITE_BUSY
    // entirely instead of racing against busy_timeout.
    conn.SetMaxOpenConns(1)

    if err := conn.PingContext(ctx); err != nil {
        conn.Close()
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to ping metadata database")
    }

    if err := initSchema(ctx, conn); err != nil {
        conn.Close()
        return nil, err
    }

    logger.WithField("path", path).Info("metadatadb: opened")

    return &DB{
        conn:  conn,
        stmts: make(map[string]*sql.Stmt),
    }, nil
}

// Close releases the underlying connection and any prepared statements.
func (d *DB) Close() error {
    d.stmtMu.Lock()
    for _, stmt := range d.stmts {
        stmt.Close()
    }
    d.stmts = make(map[string]*sql.Stmt)
    d.stmtMu.Unlock()

    return d.conn.Close()
}

// prepare returns a cached prepared statement for query, preparing it once
// under a double-checked lock (teacher's StmtCache idiom).
func (d *DB) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
    d.stmtMu.RLock()
    stmt, ok := d.stmts[query]
    d.stmtMu.RUnlock()
    if ok {
        return stmt, nil
    }

    d.stmtMu.Lock()
    defer d.stmtMu.Unlock()

    if stmt, ok := d.stmts[query]; ok {
        return stmt, nil
    }

    stmt, err := d.conn.PrepareContext(ctx, query)
    if err != nil {
        return nil, err
    }
    d.stmts[query] = stmt
    return stmt, nil
}

// RecordMiss increments the in-memory miss counter (spec §4.2, record_miss).
func (d *DB) RecordMiss() {
    atomic.AddInt64(&d.totalMisses, 1)
}

// TotalMisses returns the current in-memory miss counter.
func (d *DB) TotalMisses() int64 {
    return atomic.LoadInt64(&d.totalMisses)
}
