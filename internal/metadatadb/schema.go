package metadatadb

import (
    "context"
    "database/sql"
    "fmt"

    "github.com/sametakofficial/cachevoice/pkg/errors"
    "github.com/sametakofficial/cachevoice/pkg/logger"
)

const currentSchemaVersion = 2

const createV2Schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    text_normalized TEXT NOT NULL,
    voice_id        TEXT NOT NULL,
    version_num     INTEGER NOT NULL DEFAULT 1,
    audio_path      TEXT NOT NULL,
    format          TEXT NOT NULL,
    size_bytes      INTEGER NOT NULL,
    created_at      INTEGER NOT NULL,
    hit_count       INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);
`

// initSchema detects the current schema version and brings the database up
// to currentSchemaVersion. A fresh database gets the v2 schema directly. A
// v1 database (no version_num column, no schema_version row) is migrated in
// place: the missing column is added via a pragma_table_info column-exists
// probe (idempotent under retry), rows sharing a (text_normalized, voice_id)
// key are deduped keeping the highest hit_count (ties broken by lowest id),
// and a unique index is created.
func initSchema(ctx context.Context, db *sql.DB) error {
    if _, err := db.ExecContext(ctx, createV2Schema); err != nil {
        return errors.Wrap(err, errors.ErrSchemaMigrationFailure, "failed to create v2 schema")
    }

    hasVersionNum, err := columnExists(ctx, db, "cache_entries", "version_num")
    if err != nil {
        return errors.Wrap(err, errors.ErrSchemaMigrationFailure, "failed to probe version_num column")
    }
    if !hasVersionNum {
        if _, err := db.ExecContext(ctx, `ALTER TABLE cache_entries ADD COLUMN version_num INTEGER NOT NULL DEFAULT 1`); err != nil {
            return errors.Wrap(err, errors.ErrSchemaMigrationFailure, "failed to add version_num column")
        }
        if err := dedupeV1Rows(ctx, db); err != nil {
            return errors.Wrap(err, errors.ErrSchemaMigrationFailure, "failed to dedupe v1 rows")
        }
    }
    if _, err := db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_cache_entries_unique ON cache_entries(text_normalized, voice_id, version_num)`); err != nil {
        return errors.Wrap(err, errors.ErrSchemaMigrationFailure, "failed to create unique index")
    }

    version, err := schemaVersion(ctx, db)
    if err != nil {
        return errors.Wrap(err, errors.ErrSchemaMigrationFailure, "failed to read schema_version")
    }
    if version < currentSchemaVersion {
        if _, err := db.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
            return errors.Wrap(err, errors.ErrSchemaMigrationFailure, "failed to clear schema_version")
        }
        if _, err := db.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?)`, currentSchemaVersion); err != nil {
            return errors.Wrap(err, errors.ErrSchemaMigrationFailure, "failed to record schema_version")
        }
        logger.WithField("version", currentSchemaVersion).Info("metadatadb: schema migration completed")
    }

    return nil
}

// columnExists probes sqlite's pragma_table_info rather than relying on a
// driver-specific "duplicate column" error, so ADD COLUMN calls are
// idempotent across repeated startups.
func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
    var count int
    query := fmt.Sprintf(`SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = ?`, table)
    if err := db.QueryRowContext(ctx, query, column).Scan(&count); err != nil {
        return false, err
    }
    return count > 0, nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
    var version int
    err := db.QueryRowContext(ctx, `SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)
    if err == sql.ErrNoRows {
        return 0, nil
    }
    if err != nil {
        return 0, err
    }
    return version, nil
}

// dedupeV1Rows collapses rows sharing (text_normalized, voice_id) down to a
// single version_num=1 row, keeping the highest hit_count. Ties are broken
// by lowest id so the outcome is deterministic.
func dedupeV1Rows(ctx context.Context, db *sql.DB) error {
    rows, err := db.QueryContext(ctx, `
        SELECT text_normalized, voice_id, MIN(id) as keep_id, MAX(hit_count) as max_hits
        FROM cache_entries
        GROUP BY text_normalized, voice_id
        HAVING COUNT(*) > 1
    `)
    if err != nil {
        return err
    }
    defer rows.Close()

    type dupeGroup struct {
        textNormalized string
        voiceID        string
        keepID         int64
        maxHits        int64
    }
    var groups []dupeGroup
    for rows.Next() {
        var g dupeGroup
        if err := rows.Scan(&g.textNormalized, &g.voiceID, &g.keepID, &g.maxHits); err != nil {
            return err
        }
        groups = append(groups, g)
    }
    if err := rows.Err(); err != nil {
        return err
    }

    for _, g := range groups {
        // Pick the surviving row: highest hit_count, tie-broken by lowest id.
        var survivorID int64
        err := db.QueryRowContext(ctx, `
            SELECT id FROM cache_entries
            WHERE text_normalized = ? AND voice_id = ?
            ORDER BY hit_count DESC, id ASC
            LIMIT 1
        `, g.textNormalized, g.voiceID).Scan(&survivorID)
        if err != nil {
            return err
        }
        if _, err := db.ExecContext(ctx, `
            DELETE FROM cache_entries
            WHERE text_normalized = ? AND voice_id = ? AND id != ?
        `, g.textNormalized, g.voiceID, survivorID); err != nil {
            return err
        }
        if _, err := db.ExecContext(ctx, `UPDATE cache_entries SET version_num = 1 WHERE id = ?`, survivorID); err != nil {
            return err
        }
    }

    return nil
}
