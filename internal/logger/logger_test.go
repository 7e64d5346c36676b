package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospector/internal/config"
	"prospector/internal/logger"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithOutput(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	l.Info("dropped")
	l.WithField("document_id", "D1").Warn("worker.process: stale delivery")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "D1", entry["document_id"])
	assert.Equal(t, "warning", entry["level"])
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	l := logger.NewWithOutput(config.LogConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}
