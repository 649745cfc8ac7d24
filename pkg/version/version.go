// Package version exposes the build version embedded from the VERSION file.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Version is the trimmed content of the VERSION file
var Version = strings.TrimSpace(raw)

// Get returns the current version of the application
func Get() string {
	return Version
}
