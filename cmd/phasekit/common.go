package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/phasekit/internal/config"
	"github.com/metalagman/phasekit/internal/db"
	"github.com/spf13/viper"
)

func stateDir(root string) string {
	return filepath.Join(root, config.DefaultDir)
}

func resolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func openDB(root string) (*sql.DB, func(), error) {
	storeDB, err := db.Open(filepath.Join(stateDir(root), db.FileName))
	if err != nil {
		return nil, func() {}, err
	}
	return storeDB, func() { _ = storeDB.Close() }, nil
}

func loadConfig(root string) (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = filepath.Join(config.DefaultDir, "config.json")
	}
	return config.Load(resolvePath(root, path))
}

// loadDefinition reads the pipeline file named by override, falling back to
// the configured pipeline_file.
func loadDefinition(root string, cfg config.Config, override string) (config.Definition, string, error) {
	path := override
	if path == "" {
		path = cfg.PipelineFile
	}
	if path == "" {
		return config.Definition{}, "", fmt.Errorf("no pipeline file configured")
	}
	path = resolvePath(root, path)
	def, err := config.LoadDefinition(path)
	if err != nil {
		return config.Definition{}, path, err
	}
	return def, path, nil
}

func workingDir() (string, error) {
	root, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return root, nil
}
