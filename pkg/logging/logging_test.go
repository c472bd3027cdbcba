package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oceanbase/memrank-go/pkg/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := logging.ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := logging.New(logging.Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = logging.New(logging.Config{Level: "nope"})
	assert.Error(t, err)
}

func TestNewObserved(t *testing.T) {
	logger, logs := logging.NewObserved(zapcore.InfoLevel)
	logger.Debug("hidden")
	logger.Warn("visible", zap.Int64("memory_id", 7))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "visible", entry.Message)
	assert.Equal(t, int64(7), entry.ContextMap()["memory_id"])
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, logging.OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, logging.OrNop(l))
}
