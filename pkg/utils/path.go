package utils

import (
	"fmt"
	"path"
	"strings"
)

// Delimiter separates key segments in the bucket.
const Delimiter = "/"

// NormalizePath cleans a namespace path into its absolute form. The root is "/".
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// JoinPath appends a child name to a normalized parent path.
func JoinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// ParentPath returns the parent of a normalized path. The parent of the root is
// the root.
func ParentPath(p string) string {
	if p == "/" {
		return "/"
	}
	return path.Dir(p)
}

// BaseName returns the last segment of a normalized path.
func BaseName(p string) string {
	if p == "/" {
		return "/"
	}
	return path.Base(p)
}

// ValidateName rejects names that cannot be a single path segment.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("name cannot be empty")
	case name == "." || name == "..":
		return fmt.Errorf("name %q is reserved", name)
	case strings.Contains(name, Delimiter):
		return fmt.Errorf("name %q contains %q", name, Delimiter)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("name contains NUL")
	}
	return nil
}

// NormalizePrefix turns a user supplied bucket prefix into either "" or a
// string ending in the delimiter.
func NormalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, Delimiter)
	if prefix == "" {
		return ""
	}
	return prefix + Delimiter
}

// ListPrefix returns the listing prefix for a directory path under root.
func ListPrefix(root, dir string) string {
	if dir == "/" {
		return root
	}
	return root + strings.TrimPrefix(dir, "/") + Delimiter
}

// ObjectKey returns the bucket key of a file path under root.
func ObjectKey(root, file string) string {
	return root + strings.TrimPrefix(file, "/")
}

