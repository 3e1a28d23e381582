// Package config loads and saves Valheim Watcher settings and secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/graaaaa/valheim-watcher/internal/appinfo"
)

// DataDir resolves the data directory. EnvDataDir wins; otherwise it is
// appinfo.DirName under the user config dir.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return filepath.Abs(dir)
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config dir: %w", err)
	}
	return filepath.Join(base, appinfo.DirName), nil
}

// EnsureDataDir resolves the data directory and creates it owner-only.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir %q: %w", dir, err)
	}
	return dir, nil
}

// inDataDir returns a resolver for name inside the data directory.
func inDataDir(name string) func() (string, error) {
	return func() (string, error) {
		dir, err := DataDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, name), nil
	}
}

var (
	ConfigPath   = inDataDir(appinfo.ConfigFileName)
	SecretsPath  = inDataDir(appinfo.SecretsFileName)
	LockFilePath = inDataDir(appinfo.LockFileName)
	DatabasePath = inDataDir(appinfo.DatabaseFileName)
	serverLogDir = inDataDir(appinfo.ServerLogDirName)
)

// ServerLogDir returns cfg.ServerLogDir made absolute, or the logs
// directory inside the data directory.
func ServerLogDir(cfg Config) (string, error) {
	if cfg.ServerLogDir == "" {
		return serverLogDir()
	}
	return filepath.Abs(cfg.ServerLogDir)
}
