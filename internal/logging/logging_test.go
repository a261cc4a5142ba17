package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaguard-server/internal/domain"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		config    domain.LoggingConfig
		level     logrus.Level
		formatter interface{}
		output    *os.File
	}{
		{
			name:      "defaults",
			config:    domain.LoggingConfig{},
			level:     logrus.InfoLevel,
			formatter: &logrus.JSONFormatter{},
			output:    os.Stdout,
		},
		{
			name:      "text to stderr",
			config:    domain.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"},
			level:     logrus.DebugLevel,
			formatter: &logrus.TextFormatter{},
			output:    os.Stderr,
		},
		{
			name:      "uppercase level",
			config:    domain.LoggingConfig{Level: "WARN", Format: "json"},
			level:     logrus.WarnLevel,
			formatter: &logrus.JSONFormatter{},
			output:    os.Stdout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.level, logger.GetLevel())
			assert.IsType(t, tt.formatter, logger.Formatter)
			assert.Equal(t, tt.output, logger.Out)
		})
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(domain.LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pharmaguard.log")

	logger, err := New(domain.LoggingConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.WithField("drug", "WARFARIN").Info("analysis complete")
	logger.Out.(*os.File).Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "analysis complete", entry["message"])
	assert.Equal(t, "WARFARIN", entry["drug"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_UnwritableFile(t *testing.T) {
	_, err := New(domain.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}
