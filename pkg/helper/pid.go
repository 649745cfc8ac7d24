package helper

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// GetPIDPath returns the path to the PID file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. Resolve it against the working directory when that directory exists.
// 3. Otherwise, fallback to /var/run/gameroom.pid
func GetPIDPath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	if filename != "" {
		if cwd, err := os.Getwd(); err == nil && cwd != "" {
			candidate := filepath.Join(cwd, filename)
			if _, err := os.Stat(filepath.Dir(candidate)); err == nil {
				return candidate
			}
		}
	}
	return "/var/run/gameroom.pid"
}

// WritePID writes the current process id to path, creating its directory.
func WritePID(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// ReadPID parses the process id stored in path
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID format in file: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid PID value: %d", pid)
	}
	return pid, nil
}

// SignalPID sends sig to the process recorded in path
func SignalPID(path string, sig syscall.Signal) error {
	pid, err := ReadPID(path)
	if err != nil {
		return err
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process not found: %w", err)
	}
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}
	return nil
}
