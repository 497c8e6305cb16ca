package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/fepstate/log"
)

func TestConfigureLogging(t *testing.T) {
	previous := log.GetDefaultLogger()
	defer log.SetDefaultLogger(previous)

	t.Run("installs golog backend at the requested level", func(t *testing.T) {
		require.NoError(t, configureLogging("debug"))

		logger, ok := log.GetDefaultLogger().(*log.GologLogger)
		require.True(t, ok, "default logger must be golog-backed")
		assert.Equal(t, log.LogLevelDebug, logger.GetLevel())
	})

	t.Run("empty level means info", func(t *testing.T) {
		require.NoError(t, configureLogging(""))

		logger, ok := log.GetDefaultLogger().(*log.GologLogger)
		require.True(t, ok)
		assert.Equal(t, log.LogLevelInfo, logger.GetLevel())
	})

	t.Run("none disables output", func(t *testing.T) {
		require.NoError(t, configureLogging("none"))

		logger, ok := log.GetDefaultLogger().(*log.GologLogger)
		require.True(t, ok)
		assert.Equal(t, log.LogLevelNone, logger.GetLevel())
	})

	t.Run("rejects unrecognized level", func(t *testing.T) {
		before := log.GetDefaultLogger()

		err := configureLogging("verbose")
		assert.ErrorContains(t, err, `invalid log level "verbose"`)
		assert.Same(t, before, log.GetDefaultLogger(), "a typo must not change the logger")
	})
}
