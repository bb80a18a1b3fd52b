package server

import (
	"errors"
	"path/filepath"
	"strings"
)

// Media path errors.
var (
	errMediaDisabled = errors.New("media attachments are disabled")
	errMediaAbsolute = errors.New("media_path must be relative to the media directory")
	errMediaEscape   = errors.New("media_path escapes the media directory")
)

// mediaRoot confines client supplied media paths to one directory.
type mediaRoot struct {
	dir string // absolute, symlinks evaluated when the directory exists
}

// newMediaRoot returns nil when dir is empty.
func newMediaRoot(dir string) *mediaRoot {
	if dir == "" {
		return nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}
	return &mediaRoot{dir: resolveSymlinks(abs)}
}

// Resolve maps p onto the root. The file itself need not exist.
func (m *mediaRoot) Resolve(p string) (string, error) {
	if m == nil {
		return "", errMediaDisabled
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "~") {
		return "", errMediaAbsolute
	}

	full := filepath.Join(m.dir, filepath.Clean(p))
	if !m.contains(full) || full == m.dir {
		return "", errMediaEscape
	}
	// A symlink inside the root may still point outside it.
	if !m.contains(resolveSymlinks(full)) {
		return "", errMediaEscape
	}
	return full, nil
}

func (m *mediaRoot) contains(path string) bool {
	return path == m.dir || strings.HasPrefix(path, m.dir+string(filepath.Separator))
}

// resolveSymlinks evaluates symlinks in path. For paths that do not exist the
// deepest existing ancestor is evaluated and the rest appended.
func resolveSymlinks(path string) string {
	var rest []string
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			for i := len(rest) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, rest[i])
			}
			return resolved
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path
		}
		rest = append(rest, filepath.Base(current))
		current = parent
	}
}
