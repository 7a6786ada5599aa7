package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

// Repository persists the single telemetry record
type Repository interface {
	// Load returns ErrSettingsNotFound when no record has been written
	Load(ctx context.Context) (*Record, error)
	// Save writes rec, creating the row if needed
	Save(ctx context.Context, rec *Record) error
	// EnsureIdentity writes id only if no record exists yet
	EnsureIdentity(ctx context.Context, id Identity) error
	Close() error
}

type sqliteRepository struct {
	db     *sql.DB
	logger logger.Logger
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+sqliteDSNOptions)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	backupDir := cfg.BackupDir
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(cfg.DBPath), backupDirName)
	}

	if err := ValidateAndUpdateSchema(db, backupDir, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Telemetry repository initialized")

	return &sqliteRepository{
		db:     db,
		logger: log,
	}, nil
}

func (r *sqliteRepository) Load(ctx context.Context) (*Record, error) {
	errFactory := errors.New()

	var (
		rec                 Record
		consent             string
		active              int
		optin, optout, sent sql.NullString
		status              string
	)
	err := r.db.QueryRowContext(ctx, selectSettingsSQL, settingsID).Scan(
		&rec.DatabaseID, &rec.HardwareID, &rec.OSID, &rec.SoftwareID,
		&consent, &active, &optin, &optout, &sent,
		&rec.Info, &status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errFactory.New(ErrSettingsNotFound)
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	if err := json.Unmarshal([]byte(consent), &rec.Consent); err != nil {
		return nil, errFactory.WithData(ErrInvalidRecord, struct {
			Field string
			Error string
		}{
			Field: "consent",
			Error: err.Error(),
		})
	}
	if rec.Consent == nil {
		rec.Consent = map[string]bool{}
	}

	rec.Active = active == 1
	rec.Status = Status(status)
	for _, f := range []struct {
		name string
		src  sql.NullString
		dst  **time.Time
	}{
		{"optin_date", optin, &rec.OptinDate},
		{"optout_date", optout, &rec.OptoutDate},
		{"sent_timestamp", sent, &rec.SentTimestamp},
	} {
		t, err := parseTime(f.src)
		if err != nil {
			return nil, errFactory.WithData(ErrInvalidRecord, struct {
				Field string
				Error string
			}{
				Field: f.name,
				Error: err.Error(),
			})
		}
		*f.dst = t
	}

	return &rec, nil
}

func (r *sqliteRepository) Save(ctx context.Context, rec *Record) error {
	errFactory := errors.New()

	if rec == nil || !rec.Identity.Valid() {
		return errFactory.New(ErrInvalidRecord)
	}

	consent, err := json.Marshal(copyConsent(rec.Consent))
	if err != nil {
		return errFactory.Wrap(ErrInvalidRecord, err)
	}

	_, err = r.db.ExecContext(ctx, upsertSettingsSQL,
		settingsID,
		rec.DatabaseID, rec.HardwareID, rec.OSID, rec.SoftwareID,
		string(consent),
		boolToInt(rec.Active),
		formatTime(rec.OptinDate),
		formatTime(rec.OptoutDate),
		formatTime(rec.SentTimestamp),
		rec.Info,
		string(rec.Status),
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	r.logger.Debug().
		Bool("active", rec.Active).
		Str("status", string(rec.Status)).
		Msg("Telemetry record saved")

	return nil
}

func (r *sqliteRepository) EnsureIdentity(ctx context.Context, id Identity) error {
	errFactory := errors.New()

	if !id.Valid() {
		return errFactory.New(ErrInvalidRecord)
	}

	res, err := r.db.ExecContext(ctx, insertIdentitySQL,
		settingsID, id.DatabaseID, id.HardwareID, id.OSID, id.SoftwareID)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		r.logger.Info().Str("database_id", id.DatabaseID).Msg("Telemetry identity created")
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	errFactory := errors.New()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Debug().Msg("Telemetry repository closed")

	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
