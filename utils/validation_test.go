package utils

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFileName(t *testing.T) {
	assert.NoError(t, ValidateFileName("report 2024.pdf"))
	assert.NoError(t, ValidateFileName("übersicht.txt"))

	for _, bad := range []string{"", "a/b", `a\b`, "what?.txt", "CON.txt", "nul", strings.Repeat("a", 256), "bad\xff"} {
		assert.Error(t, ValidateFileName(bad), bad)
	}
}

func TestValidateFolderName(t *testing.T) {
	assert.NoError(t, ValidateFolderName("Projects"))
	assert.Error(t, ValidateFolderName(""))
	assert.Error(t, ValidateFolderName("trailing."))
	assert.Error(t, ValidateFolderName("a|b"))
}

func TestValidateFileSize(t *testing.T) {
	assert.NoError(t, ValidateFileSize(10, 10))
	assert.NoError(t, ValidateFileSize(1<<40, 0))
	assert.Error(t, ValidateFileSize(11, 10))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewLoggerJSON(t *testing.T) {
	var buf strings.Builder
	logger, err := NewLogger(LoggerOptions{Level: "info", JSON: true, Writer: &buf})
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)
}
