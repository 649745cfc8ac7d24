// Package helper locates runtime files such as configuration and PID files.
package helper

import (
	"os"
	"path/filepath"
)

// ConfigDir is the system-wide configuration directory
const ConfigDir = "/etc/gameroom"

// GetCfgPath returns the path to the configuration file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. Check ./{filename} and ./configs/{filename}
// 3. Otherwise, fallback to /etc/gameroom/{filename}
func GetCfgPath(filename string) string {
	if filename == "" {
		panic("filename cannot be empty")
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	if cwd, err := os.Getwd(); err == nil && cwd != "" {
		for _, candidate := range []string{
			filepath.Join(cwd, filename),
			filepath.Join(cwd, "configs", filename),
		} {
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return filepath.Join(ConfigDir, filename)
}
