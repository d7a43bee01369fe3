package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"verifiednyumba/backend/internal/config"
)

func TestRootCmd_Commands(t *testing.T) {
	root := rootCmd()
	names := []string{}
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate"}, names)

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("no-jobs"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "debug"
	logger, err := newLogger(cfg)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	cfg.Logging.Level = "loud"
	_, err = newLogger(cfg)
	assert.Error(t, err)
}
