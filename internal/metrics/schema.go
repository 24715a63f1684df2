package metrics

import (
	"database/sql"

	"github.com/scanium/scancore/internal/errors"
	"github.com/scanium/scancore/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS snapshots (
	       timestamp          INTEGER NOT NULL,
	       run_id             TEXT NOT NULL,
	       frames_total       INTEGER NOT NULL,
	       frames_per_second  REAL NOT NULL,
	       invocations_object   INTEGER NOT NULL,
	       invocations_barcode  INTEGER NOT NULL,
	       invocations_document INTEGER NOT NULL,
	       throttled_total    INTEGER NOT NULL,
	       multiplier         REAL NOT NULL,
	       rolling_avg_ms     REAL NOT NULL,
	       throttling         INTEGER NOT NULL CHECK (throttling IN (0, 1)),
	       deduped_total      INTEGER NOT NULL,
	       stall_reason       TEXT NOT NULL,
	       recovery_attempts  INTEGER NOT NULL,
	       PRIMARY KEY (run_id, timestamp)
	   );`

	insertSnapshotSQL = `
    INSERT INTO snapshots (
        timestamp, run_id,
        frames_total, frames_per_second,
        invocations_object, invocations_barcode, invocations_document,
        throttled_total, multiplier, rolling_avg_ms, throttling,
        deduped_total, stall_reason, recovery_attempts
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates the database schema with the current version
func InitSchema(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	logger.Debug().Int("version", SchemaVersion).Msg("Schema initialized")

	return nil
}

// ValidateSchema checks the stored schema version, initializing a fresh
// database when none exists.
func ValidateSchema(db *sql.DB) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	switch {
	case version == 0:
		return InitSchema(db)
	case version == SchemaVersion:
		return nil
	default:
		return errFactory.WithData(ErrSchemaValidationFailed, struct {
			Found    int
			Expected int
		}{
			Found:    version,
			Expected: SchemaVersion,
		})
	}
}

// GetSchemaVersion returns the current schema version, 0 if uninitialized
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()

	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Table string
			Error string
		}{
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}

// GetInsertSnapshotSQL returns the SQL to insert a snapshot
func GetInsertSnapshotSQL() string {
	return insertSnapshotSQL
}
