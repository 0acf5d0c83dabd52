package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewHonoursLevel(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		debug bool
	}{
		{name: "production", cfg: DefaultConfig(), debug: false},
		{name: "development", cfg: DevelopmentConfig(), debug: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.OutputPaths = []string{filepath.Join(t.TempDir(), "out.log")}
			l, err := New(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.debug, l.Core().Enabled(zapcore.DebugLevel))
		})
	}
}

func TestSetLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputPaths = []string{filepath.Join(t.TempDir(), "out.log")}
	l, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, l.SetLevel("debug"))
	assert.Equal(t, "debug", l.Level())
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.Error(t, l.SetLevel("nope"))
}

func TestNop(t *testing.T) {
	l := Nop()
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
}
