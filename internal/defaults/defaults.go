// Package defaults locates the per-user data directory and the user's
// config file inside it.
//
// Platform paths:
//
//	macOS:   ~/Library/Application Support/TabRelay/
//	Windows: %AppData%\TabRelay\
//	Linux:   ~/.config/tabrelay/
//
// Override with TABRELAY_DATA_DIR environment variable.
package defaults

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ConfigFile is the name of the user config inside the data directory.
const ConfigFile = "tabrelay.yaml"

// DataDir returns the platform-appropriate data directory.
// Set TABRELAY_DATA_DIR to override.
func DataDir() (string, error) {
	if dir := os.Getenv("TABRELAY_DATA_DIR"); dir != "" {
		return dir, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}

	// Linux: lowercase per XDG convention
	// macOS/Windows: title case per platform convention
	if runtime.GOOS == "linux" {
		return filepath.Join(configDir, "tabrelay"), nil
	}
	return filepath.Join(configDir, "TabRelay"), nil
}

// ConfigPath returns the path of the user config file, which may not exist.
func ConfigPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFile), nil
}

// UserConfig returns the user config path if the file exists.
func UserConfig() (string, bool) {
	path, err := ConfigPath()
	if err != nil {
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// WriteConfig writes template as the user config. An existing file is kept
// unless overwrite is true. It returns the path and whether it was written.
func WriteConfig(template []byte, overwrite bool) (string, bool, error) {
	dir, err := DataDir()
	if err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dir, ConfigFile)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return path, false, nil
		}
	}
	if err := os.WriteFile(path, template, 0644); err != nil {
		return "", false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, true, nil
}
