package logging

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, atom, err := NewLogger(DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, logger.GetSink())
	assert.Equal(t, zapcore.InfoLevel, atom.Level())
}

func TestNewLoggerRejectsBadInput(t *testing.T) {
	_, _, err := NewLogger(Config{Level: "loud", Format: "json"})
	assert.Error(t, err)

	_, _, err = NewLogger(Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"", zapcore.InfoLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetLevel(t *testing.T) {
	_, atom, err := NewLogger(Config{Level: "info", Format: "console", Development: true})
	require.NoError(t, err)

	require.NoError(t, SetLevel(atom, "debug"))
	assert.Equal(t, zapcore.DebugLevel, atom.Level())
	assert.Error(t, SetLevel(atom, "nope"))
	assert.Equal(t, zapcore.DebugLevel, atom.Level())
}

func TestOrDiscard(t *testing.T) {
	var zero logr.Logger
	l := OrDiscard(zero)
	// must not panic
	l.Info("dropped")
	ForComponent(l, "baseline").V(1).Info("dropped too")
}
