package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
)

func backupDatabase(db *sql.DB, dir string, version int, log logger.Logger) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup_dir",
			Path:  dir,
			Error: err.Error(),
		})
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := filepath.Join(dir, fmt.Sprintf("telemetry_v%d_%s.db", version, timestamp))

	// VACUUM INTO requires no active transaction
	_, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(backupPath, "'", "''")))
	if err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup",
			Path:  backupPath,
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", backupPath).
		Int("version", version).
		Msg("Database backup created")

	return backupPath, nil
}

// ValidateAndUpdateSchema creates the schema on an empty database and
// upgrades an older one in place, after copying it into backupDir. The
// settings row survives upgrades so the installation identity is kept.
func ValidateAndUpdateSchema(db *sql.DB, backupDir string, log logger.Logger) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to get schema version")
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	log.Debug().
		Int("version", version).
		Bool("init_db", version == 0).
		Msg("Current schema version")

	switch {
	case version == 0:
		return InitSchema(db, log)
	case version == SchemaVersion:
		log.Debug().Int("version", version).Msg("Schema version is current")
		return nil
	case version > SchemaVersion:
		return errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase   string
			Found   int
			Current int
		}{
			Phase:   "version_check",
			Found:   version,
			Current: SchemaVersion,
		})
	}

	if _, err := backupDatabase(db, backupDir, version, log); err != nil {
		return err
	}

	return migrate(db, version, log)
}

func migrate(db *sql.DB, from int, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback migration")
				}
			}
		}
	}()

	for version := from + 1; version <= SchemaVersion; version++ {
		stmt, ok := migrations[version]
		if !ok {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase   string
				Version int
			}{
				Phase:   "missing_migration",
				Version: version,
			})
		}

		if _, err := tx.Exec(stmt); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase   string
				Version int
				Error   string
			}{
				Phase:   "apply_migration",
				Version: version,
				Error:   err.Error(),
			})
		}

		if err := recordVersion(tx, version); err != nil {
			return errFactory.Wrap(ErrSchemaMigrationFailed, err)
		}

		log.Info().Int("version", version).Msg("Schema migration applied")
	}

	if err := tx.Commit(); err != nil {
		return errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "commit_changes",
			Error: err.Error(),
		})
	}
	committed = true

	return nil
}
