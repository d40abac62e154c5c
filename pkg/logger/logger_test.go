package logger_test

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/article-autopilot/pkg/logger"
)

func TestHelpersTagEntries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewWriter(&buf, "debug").
		WithComponent("crawler").
		WithSource(7, "Electrek").
		WithRunID("run-1").
		WithProvider("groq").
		WithArticleID(42)
	log.Info().Msg("Stored article")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "crawler", entry["component"])
	require.Equal(t, float64(7), entry["source_id"])
	require.Equal(t, "Electrek", entry["source_name"])
	require.Equal(t, "run-1", entry["run_id"])
	require.Equal(t, "groq", entry["provider"])
	require.Equal(t, float64(42), entry["article_id"])
	require.Equal(t, "Stored article", entry["message"])
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewWriter(&buf, "warn")
	log.Info().Msg("hidden")
	require.Zero(t, buf.Len())

	log = logger.NewWriter(&buf, "bogus")
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	require.Contains(t, buf.String(), "shown")
	require.NotContains(t, buf.String(), "hidden")
}

func TestNewWritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "autopilot.log")
	log := logger.New(logger.Config{Level: "info", Format: "json", Output: path})
	log.Info().Msg("to file")
	require.FileExists(t, path)
}
