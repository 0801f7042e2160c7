package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Default(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestNewLogger_InvalidSettings(t *testing.T) {
	_, err := NewLogger(&LogConfig{Level: "verbose", Format: "json", Output: "stdout"})
	assert.Error(t, err)

	_, err = NewLogger(&LogConfig{Level: "info", Format: "xml", Output: "stdout"})
	assert.Error(t, err)
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trustscore.log")
	logger, err := NewLogger(&LogConfig{Level: "debug", Format: "text", Output: path})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.FileExists(t, path)
}

func TestNewProviderLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	NewProviderLogger(base, "etherscan", "proxy-1").Info("调用数据源")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "provider_client", line["component"])
	assert.Equal(t, "etherscan", line["provider"])
	assert.Equal(t, "proxy-1", line["endpoint"])
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"INFO":    logrus.InfoLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
	}
	for input, expected := range tests {
		level, err := parseLogLevel(input)
		require.NoError(t, err)
		assert.Equal(t, expected, level)
	}
}
