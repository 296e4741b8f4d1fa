package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/iatisync/internal/config"
)

func TestNew_JSONLevel(t *testing.T) {
	logger := New(&config.Config{LogLevel: "warn", LogFormat: "json"})
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.Info("hidden")
	logger.WithField("activity_id", "act-1").Warn("shown")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "act-1", line["activity_id"])
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	logger := New(&config.Config{LogLevel: "loud", LogFile: filepath.Join(t.TempDir(), "logs", "iatisync.log")})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestContextEntry(t *testing.T) {
	logger := Discard()
	entry := logger.WithField("run_id", "r1")

	ctx := WithEntry(context.Background(), entry)
	assert.Equal(t, "r1", FromContext(ctx).Data["run_id"])
	assert.NotNil(t, FromContext(context.Background()))
}
