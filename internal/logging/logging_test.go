package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("debug", "engine")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New("warn", "engine")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New("verbose", "engine")
	assert.Error(t, err)
}

func TestSetupReplacesGlobals(t *testing.T) {
	logger, done, err := Setup("info", "ingestion")
	require.NoError(t, err)
	assert.Same(t, logger, zap.L())
	done()
	assert.NotSame(t, logger, zap.L())
}
