package logger_test

import (
	"bytes"
	stderrors "errors"
	"testing"

	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, false, false, true)
	t.Cleanup(func() { logger.SetLogLevel(logger.WarnLevel) })

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestErrorWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, true, false, true)
	t.Cleanup(func() { logger.SetLogLevel(logger.WarnLevel) })

	err := errors.New().Wrap(errors.ErrNetworkFailed, stderrors.New("refused"))
	logger.Get().ErrorWithContext(err, "gateway", "send").Msg("send failed")

	out := buf.String()
	assert.Contains(t, out, "network_failed")
	assert.Contains(t, out, "gateway")
	assert.Contains(t, out, "send failed")
}

func TestParseLevel(t *testing.T) {
	level, ok := logger.ParseLevel("debug")
	assert.True(t, ok)
	assert.Equal(t, logger.DebugLevel, level)

	_, ok = logger.ParseLevel("loud")
	assert.False(t, ok)
}

func TestErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, false, false, true)
	t.Cleanup(func() { logger.SetLogLevel(logger.WarnLevel) })

	err := errors.New().Wrap(errors.ErrMainLoop, stderrors.New("database locked"))
	logger.ErrorWithCode(err).Msg("Exiting with error")

	out := buf.String()
	assert.Contains(t, out, "main_loop_failed")
	assert.Contains(t, out, "database locked")
}
