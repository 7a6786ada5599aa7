package config

import (
	"context"

	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch reloads cfg's file whenever it changes on disk and passes the new,
// validated configuration to onChange. Invalid edits are logged and skipped.
// Callbacks stop once ctx is done.
func Watch(ctx context.Context, cfg *Config, onChange func(*Config)) error {
	errFactory := errors.New()

	if cfg.ConfigFile == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "no configuration file to watch")
	}

	v := viper.New()
	v.SetConfigFile(cfg.ConfigFile)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}

		next, err := cfg.Reload()
		if err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
			return
		}

		logger.Info().Str("file", e.Name).Msg("Configuration reloaded")
		onChange(next)
	})
	v.WatchConfig()

	return nil
}
