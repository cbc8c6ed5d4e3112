package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceCapturesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Replace(zap.New(core))
	defer restore()

	Info("store opened", zap.String("path", "a.db"))
	Warn("layer skipped", zap.Int("bands", 2))
	Debug("noise")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "store opened", entries[0].Message)
	assert.Equal(t, "a.db", entries[0].ContextMap()["path"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init("loud", false))
	assert.NoError(t, Init("debug", true))
	assert.NoError(t, Init("info", false))
}
