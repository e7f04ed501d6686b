//go:build windows

package platform

import (
	"path/filepath"
	"strings"
)

const extendedPrefix = `\\?\`

// LongPathname prefixes absolute drive-letter paths with \\?\ so deep working
// directories are not cut off at MAX_PATH. Relative and UNC paths pass through.
func LongPathname(path string) string {
	if len(path) < 2 || path[1] != ':' {
		return path
	}
	if !filepath.IsAbs(path) || strings.HasPrefix(path, extendedPrefix) {
		return path
	}
	return extendedPrefix + filepath.Clean(path)
}
