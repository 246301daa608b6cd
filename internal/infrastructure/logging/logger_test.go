package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewBuildsLogger(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), DevelopmentConfig()} {
		l, err := New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, l.Logger)
	}
}

func TestWithRankAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := Wrap(zap.New(core)).WithRank(3, 1).Named("pipeline")

	l.Info("hello", zap.String("op", "sim"))

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, int64(3), ctx["world_rank"])
	assert.Equal(t, int64(1), ctx["group"])
	assert.Equal(t, "sim", ctx["op"])
	assert.Equal(t, "pipeline", entries[0].LoggerName)
}

func TestWrapNil(t *testing.T) {
	l := Wrap(nil)
	require.NotNil(t, l)
	l.Info("discarded")
}
