package telemetry

import "codeberg.org/mutker/hmsd/internal/errors"

const (
	defaultDirPerm   = 0o755
	backupDirName    = "backups"
	sqliteDSNOptions = "?_journal=WAL&_busy_timeout=5000"
)

type Config struct {
	DBPath string
	// BackupDir receives a copy of the database before a schema migration;
	// defaults to a backups directory next to DBPath
	BackupDir string
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
