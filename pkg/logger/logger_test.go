package logger

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/tg-relay-bot/internal/config"
)

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, log.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	log, err := NewLogger(&config.LoggingConfig{
		Level:  "info",
		Output: "file",
		File:   config.FileConfig{Path: path, MaxSize: 1},
	})
	require.NoError(t, err)
	require.DirExists(t, filepath.Dir(path))
	require.IsType(t, &logrus.TextFormatter{}, log.Formatter)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(&config.LoggingConfig{Level: "loud"})
	require.ErrorContains(t, err, "invalid log level")
}

func TestWithChat(t *testing.T) {
	entry := WithChat(Discard(), 10, 20)
	require.Equal(t, int64(10), entry.Data["chat_id"])
	require.Equal(t, int64(20), entry.Data["user_id"])
}
