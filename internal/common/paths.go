package common

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the base data directory path.
// Priority:
// 1. CNAP_DIR from config
// 2. $HOME/.cnap (default)
// 3. ./data (fallback if HOME is not set)
func GetDataDir() string {
	cfg := GetConfig()
	if cfg != nil && cfg.Directory.CNAPDir != "" {
		return cfg.Directory.CNAPDir
	}

	// Fallback: $HOME/.cnap 사용
	if homeDir := os.Getenv("HOME"); homeDir != "" {
		return filepath.Join(homeDir, ".cnap")
	}

	// Fallback: ./data
	return "./data"
}

// GetCheckpointDir returns the checkpoint root directory path.
// Agent namespaces live below it.
// Default: {DataDir}/checkpoints
func GetCheckpointDir() string {
	cfg := GetConfig()
	if cfg != nil && cfg.Directory.CheckpointDir != "" {
		return cfg.Directory.CheckpointDir
	}
	return filepath.Join(GetDataDir(), "checkpoints")
}

// GetDatabasePath returns the SQLite database file path.
// Default: {DataDir}/agentkernel.db
func GetDatabasePath() string {
	cfg := GetConfig()
	if cfg != nil && cfg.Directory.SQLiteDatabase != "" {
		return cfg.Directory.SQLiteDatabase
	}
	return filepath.Join(GetDataDir(), "agentkernel.db")
}
