package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoggerAvailableBeforeInit(t *testing.T) {
	require.NotNil(t, Logger())
}

func TestInitAcceptsLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "not-a-level", ""} {
		assert.NoError(t, Init(level), "level %q", level)
		assert.NotNil(t, Logger())
	}
}

func TestInitHonoursLevel(t *testing.T) {
	require.NoError(t, Init("error"))
	assert.False(t, Logger().Core().Enabled(zapcore.WarnLevel))
	assert.True(t, Logger().Core().Enabled(zapcore.ErrorLevel))

	require.NoError(t, Init("debug"))
	assert.True(t, Logger().Core().Enabled(zapcore.DebugLevel))
}

func TestWithModuleReturnsChild(t *testing.T) {
	require.NoError(t, Init("info"))
	child := WithModule("chat")
	require.NotNil(t, child)
	assert.NotSame(t, Logger(), child)
}
