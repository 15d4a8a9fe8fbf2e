package main

import (
	"os"
	"path/filepath"
)

const (
	appConfigDirName    = "pf-slot"
	credentialsFileName = "credentials.json"
)

func appDataDir() string {
	if d, err := os.UserConfigDir(); err == nil && d != "" {
		return filepath.Join(d, appConfigDirName)
	}
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return filepath.Join(h, "."+appConfigDirName)
	}
	return "."
}

// resolveDBPath places a bare file name under the app data directory.
// Paths with a directory component and ":memory:" are used as given.
func resolveDBPath(path string) (string, error) {
	if path == ":memory:" || filepath.IsAbs(path) || filepath.Base(path) != path {
		return path, nil
	}
	dir := appDataDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, path), nil
}

func credentialsPath() string {
	return filepath.Join(appDataDir(), credentialsFileName)
}
