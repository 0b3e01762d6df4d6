package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level   string
		debugOn bool
		infoOn  bool
		errorOn bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"error", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := New(tt.level, "json")
			require.NoError(t, err)
			core := logger.Core()
			assert.Equal(t, tt.debugOn, core.Enabled(zap.DebugLevel))
			assert.Equal(t, tt.infoOn, core.Enabled(zap.InfoLevel))
			assert.Equal(t, tt.errorOn, core.Enabled(zap.ErrorLevel))
		})
	}
}

func TestNewConsole(t *testing.T) {
	logger, err := New("info", "console")
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewRejectsUnknownValues(t *testing.T) {
	_, err := New("loud", "json")
	assert.Error(t, err)

	_, err = New("info", "xml")
	assert.Error(t, err)
}
