package storage

import (
	"fmt"
	"strings"
)

// NormalizeDir returns prefix with a trailing separator. The root stays "/".
func NormalizeDir(prefix string) string {
	if prefix == "" || prefix == "/" {
		return "/"
	}
	if !strings.HasSuffix(prefix, "/") {
		return prefix + "/"
	}
	return prefix
}

// IsUnder reports whether path is dir itself or lies inside it.
func IsUnder(path, dir string) bool {
	dir = NormalizeDir(dir)
	if dir == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == strings.TrimSuffix(dir, "/") || strings.HasPrefix(path, dir)
}

func validatePath(path string) error {
	if path == "" || !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q must be absolute", ErrInvalidPath, path)
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: %q contains null bytes", ErrInvalidPath, path)
	}
	return nil
}
