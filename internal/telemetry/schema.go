package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
)

const (
	SchemaVersion = 2

	settingsID = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS telemetry_settings (
	       id             INTEGER PRIMARY KEY CHECK (id = 1),
	       database_id    TEXT NOT NULL,
	       hardware_id    TEXT NOT NULL,
	       os_id          TEXT NOT NULL,
	       software_id    TEXT NOT NULL,
	       consent        TEXT NOT NULL DEFAULT '{}',
	       active         INTEGER NOT NULL DEFAULT 0 CHECK (active IN (0, 1)),
	       optin_date     TEXT,
	       optout_date    TEXT,
	       sent_timestamp TEXT,
	       info           TEXT NOT NULL DEFAULT '',
	       status         TEXT NOT NULL DEFAULT ''
	   );`

	selectSettingsSQL = `
    SELECT database_id, hardware_id, os_id, software_id,
           consent, active, optin_date, optout_date, sent_timestamp,
           info, status
    FROM telemetry_settings
    WHERE id = ?`

	upsertSettingsSQL = `
    INSERT INTO telemetry_settings (
        id, database_id, hardware_id, os_id, software_id,
        consent, active, optin_date, optout_date, sent_timestamp,
        info, status
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        database_id = excluded.database_id,
        hardware_id = excluded.hardware_id,
        os_id = excluded.os_id,
        software_id = excluded.software_id,
        consent = excluded.consent,
        active = excluded.active,
        optin_date = excluded.optin_date,
        optout_date = excluded.optout_date,
        sent_timestamp = excluded.sent_timestamp,
        info = excluded.info,
        status = excluded.status`

	insertIdentitySQL = `
    INSERT INTO telemetry_settings (id, database_id, hardware_id, os_id, software_id)
    VALUES (?, ?, ?, ?, ?)
    ON CONFLICT(id) DO NOTHING`
)

// migrations upgrade a schema from version-1 to the keyed version
var migrations = map[int]string{
	2: `ALTER TABLE telemetry_settings ADD COLUMN status TEXT NOT NULL DEFAULT ''`,
}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if err := recordVersion(tx, SchemaVersion); err != nil {
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

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

func recordVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, version)
	return err
}

// GetSchemaVersion returns the current schema version, or 0 for an empty database
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
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
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
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
