package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateConfigDefaultsToInfoLevel(t *testing.T) {
	cfg := CreateConfig("", DisableTerminalLog, "")
	require.Equal(t, "info", cfg.MinLevel)
	require.Nil(t, cfg.ConsoleConfig)
	require.Nil(t, cfg.FileConfig)
}

func TestCreateConfigEnablesConsoleAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datacore.log")
	cfg := CreateConfig("debug", EnableTerminalLog, path)
	require.NotNil(t, cfg.ConsoleConfig)
	require.NotNil(t, cfg.FileConfig)
	require.Equal(t, path, cfg.FileConfig.Path)
}

func TestCreateWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datacore.log")
	log := Create(&Config{FileConfig: &FileConfig{Path: path}, MinLevel: "info"})
	log.Info().Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}
