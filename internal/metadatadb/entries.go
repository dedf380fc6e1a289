package metadatadb

import (
    "context"
    "database/sql"

    "github.com/sametakofficial/cachevoice/pkg/errors"
)

// AddEntry inserts a new cache entry. If a row with the same
// (text_normalized, voice_id, version_num) already exists — another writer
// won the race — the insert is ignored and the existing row's id is
// returned instead of an error (spec §4.2, §7 WriteRace: "never fails with
// duplicate").
func (d *DB) AddEntry(ctx context.Context, e CacheEntry) (int64, error) {
    insert, err := d.prepare(ctx, `
        INSERT OR IGNORE INTO cache_entries
            (text_normalized, voice_id, version_num, audio_path, format, size_bytes, created_at, hit_count)
        VALUES (?, ?, ?, ?, ?, ?, ?, 0)
    `)
    if err != nil {
        return 0, errors.Wrap(err, errors.ErrDatabase, "failed to prepare add_entry")
    }

    res, err := insert.ExecContext(ctx, e.TextNormalized, e.VoiceID, e.VersionNum, e.AudioPath, e.Format, e.SizeBytes, e.CreatedAt)
    if err != nil {
        return 0, errors.Wrap(err, errors.ErrDatabase, "failed to execute add_entry")
    }

    if affected, _ := res.RowsAffected(); affected > 0 {
        id, err := res.LastInsertId()
        if err != nil {
            return 0, errors.Wrap(err, errors.ErrDatabase, "failed to read last insert id")
        }
        return id, nil
    }

    // Lost the unique-key race: select the existing row's id (WriteRace).
    id, err := d.idByUniqueKey(ctx, e.TextNormalized, e.VoiceID, e.VersionNum)
    if err != nil {
        return 0, err
    }
    return id, nil
}

func (d *DB) idByUniqueKey(ctx context.Context, textNormalized, voiceID string, versionNum int) (int64, error) {
    sel, err := d.prepare(ctx, `
        SELECT id FROM cache_entries
        WHERE text_normalized = ? AND voice_id = ? AND version_num = ?
    `)
    if err != nil {
        return 0, errors.Wrap(err, errors.ErrDatabase, "failed to prepare id lookup")
    }

    var id int64
    if err := sel.QueryRowContext(ctx, textNormalized, voiceID, versionNum).Scan(&id); err != nil {
        return 0, errors.Wrap(err, errors.ErrWriteRace, "failed to resolve existing row after write race")
    }
    return id, nil
}

// RecordHit increments hit_count for the matching row(s). When versionNum is
// nil, every version for the (text,voice) pair is incremented — the "all
// versions" legacy semantics the spec's open question directs us to
// preserve. If the row was concurrently evicted, the update affects zero
// rows and is treated as a silent no-op (EvictionRaceOnHit).
func (d *DB) RecordHit(ctx context.Context, textNormalized, voiceID string, versionNum *int) error {
    var (
        res sql.Result
        err error
    )

    if versionNum == nil {
        stmt, pErr := d.prepare(ctx, `
            UPDATE cache_entries SET hit_count = hit_count + 1
            WHERE text_normalized = ? AND voice_id = ?
        `)
        if pErr != nil {
            return errors.Wrap(pErr, errors.ErrDatabase, "failed to prepare record_hit (all versions)")
        }
        res, err = stmt.ExecContext(ctx, textNormalized, voiceID)
    } else {
        stmt, pErr := d.prepare(ctx, `
            UPDATE cache_entries SET hit_count = hit_count + 1
            WHERE text_normalized = ? AND voice_id = ? AND version_num = ?
        `)
        if pErr != nil {
            return errors.Wrap(pErr, errors.ErrDatabase, "failed to prepare record_hit (single version)")
        }
        res, err = stmt.ExecContext(ctx, textNormalized, voiceID, *versionNum)
    }
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to execute record_hit")
    }

    _, _ = res.RowsAffected() // zero rows affected = EvictionRaceOnHit, a deliberate no-op
    return nil
}

// GetVersionCount returns the number of rows present for (text,voice).
func (d *DB) GetVersionCount(ctx context.Context, textNormalized, voiceID string) (int, error) {
    stmt, err := d.prepare(ctx, `
        SELECT COUNT(*) FROM cache_entries WHERE text_normalized = ? AND voice_id = ?
    `)
    if err != nil {
        return 0, errors.Wrap(err, errors.ErrDatabase, "failed to prepare get_version_count")
    }

    var count int
    if err := stmt.QueryRowContext(ctx, textNormalized, voiceID).Scan(&count); err != nil {
        return 0, errors.Wrap(err, errors.ErrDatabase, "failed to execute get_version_count")
    }
    return count, nil
}

// GetEvictionCandidates returns rows that are either older than minAgeSeconds,
// or — when the live row count exceeds maxEntries — the lowest-hit_count
// overflow rows beyond the cap (spec §4.2, §4.9).
func (d *DB) GetEvictionCandidates(ctx context.Context, maxEntries int, minAgeSeconds int64, now int64) ([]EvictionCandidate, error) {
    ageCutoff := now - minAgeSeconds

    ageRows, err := d.conn.QueryContext(ctx, `
        SELECT id, audio_path, text_normalized, voice_id
        FROM cache_entries
        WHERE created_at <= ?
    `, ageCutoff)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query age eviction candidates")
    }
    candidates, err := scanCandidates(ageRows)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan age eviction candidates")
    }

    var total int64
    if err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&total); err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to count live entries")
    }

    if total > int64(maxEntries) {
        overflow := total - int64(maxEntries)
        overflowRows, err := d.conn.QueryContext(ctx, `
            SELECT id, audio_path, text_normalized, voice_id
            FROM cache_entries
            ORDER BY hit_count ASC, id ASC
            LIMIT ?
        `, overflow)
        if err != nil {
            return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query overflow eviction candidates")
        }
        overflowCandidates, err := scanCandidates(overflowRows)
        if err != nil {
            return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan overflow eviction candidates")
        }
        candidates = mergeCandidates(candidates, overflowCandidates)
    }

    return candidates, nil
}

func scanCandidates(rows *sql.Rows) ([]EvictionCandidate, error) {
    defer rows.Close()
    var out []EvictionCandidate
    for rows.Next() {
        var c EvictionCandidate
        if err := rows.Scan(&c.ID, &c.AudioPath, &c.TextNormalized, &c.VoiceID); err != nil {
            return nil, err
        }
        out = append(out, c)
    }
    return out, rows.Err()
}

func mergeCandidates(a, b []EvictionCandidate) []EvictionCandidate {
    seen := make(map[int64]bool, len(a))
    for _, c := range a {
        seen[c.ID] = true
    }
    out := a
    for _, c := range b {
        if !seen[c.ID] {
            out = append(out, c)
            seen[c.ID] = true
        }
    }
    return out
}

// DeleteEntriesByIDs bulk-deletes rows by id.
func (d *DB) DeleteEntriesByIDs(ctx context.Context, ids []int64) error {
    if len(ids) == 0 {
        return nil
    }

    query := "DELETE FROM cache_entries WHERE id IN (" + placeholders(len(ids)) + ")"
    args := make([]interface{}, len(ids))
    for i, id := range ids {
        args[i] = id
    }

    if _, err := d.conn.ExecContext(ctx, query, args...); err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to bulk-delete entries")
    }
    return nil
}

func placeholders(n int) string {
    out := make([]byte, 0, n*2)
    for i := 0; i < n; i++ {
        if i > 0 {
            out = append(out, ',')
        }
        out = append(out, '?')
    }
    return string(out)
}

// GetAllEntriesWithIDs performs a full scan for the Hot Index loader and the
// Integrity Reconciler.
func (d *DB) GetAllEntriesWithIDs(ctx context.Context) ([]CacheEntry, error) {
    rows, err := d.conn.QueryContext(ctx, `
        SELECT id, text_normalized, voice_id, version_num, audio_path, format, size_bytes, created_at, hit_count
        FROM cache_entries
    `)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query all entries")
    }
    defer rows.Close()

    var out []CacheEntry
    for rows.Next() {
        var e CacheEntry
        if err := rows.Scan(&e.ID, &e.TextNormalized, &e.VoiceID, &e.VersionNum, &e.AudioPath, &e.Format, &e.SizeBytes, &e.CreatedAt, &e.HitCount); err != nil {
            return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan entry row")
        }
        out = append(out, e)
    }
    return out, rows.Err()
}

// GetStats returns the get_stats() payload (spec §4.2). now is the caller's
// wall-clock reading (unix seconds), used to derive cache_age_seconds.
func (d *DB) GetStats(ctx context.Context, now int64) (Stats, error) {
    var stats Stats

    row := d.conn.QueryRowContext(ctx, `
        SELECT COUNT(*), COALESCE(SUM(hit_count), 0), COALESCE(MIN(created_at), 0)
        FROM cache_entries
    `)
    var minCreated int64
    if err := row.Scan(&stats.TotalEntries, &stats.TotalHits, &minCreated); err != nil {
        return Stats{}, errors.Wrap(err, errors.ErrDatabase, "failed to query aggregate stats")
    }

    stats.TotalMisses = d.TotalMisses()
    if stats.TotalHits+stats.TotalMisses > 0 {
        hitRate := float64(stats.TotalHits) / float64(stats.TotalHits+stats.TotalMisses)
        stats.HitRate = roundTo4(hitRate)
    }

    if stats.TotalEntries > 0 {
        stats.CacheAgeSeconds = now - minCreated
    }

    perVoiceRows, err := d.conn.QueryContext(ctx, `
        SELECT voice_id, COUNT(*), COALESCE(SUM(hit_count), 0), COALESCE(SUM(size_bytes), 0)
        FROM cache_entries
        GROUP BY voice_id
    `)
    if err != nil {
        return Stats{}, errors.Wrap(err, errors.ErrDatabase, "failed to query per-voice stats")
    }
    defer perVoiceRows.Close()

    for perVoiceRows.Next() {
        var v VoiceStats
        if err := perVoiceRows.Scan(&v.VoiceID, &v.Entries, &v.Hits, &v.SizeBytes); err != nil {
            return Stats{}, errors.Wrap(err, errors.ErrDatabase, "failed to scan per-voice row")
        }
        stats.PerVoice = append(stats.PerVoice, v)
    }

    return stats, perVoiceRows.Err()
}

func roundTo4(f float64) float64 {
    return float64(int64(f*10000+0.5)) / 10000
}
