// Package sandbox confines tool paths to a single workspace root.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// ErrInvalidPath is returned when a tool path cannot be resolved inside the root.
var ErrInvalidPath = errors.New("invalid path")

// Sandbox resolves relative paths against a fixed root directory.
type Sandbox struct {
	root            string
	resolveSymlinks bool
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithSymlinkHardening makes Resolve evaluate symlinks scoped to the root,
// so a link inside the workspace can never point the result outside of it.
func WithSymlinkHardening() Option {
	return func(s *Sandbox) {
		s.resolveSymlinks = true
	}
}

// New creates a sandbox rooted at root. The root is made absolute but does
// not need to exist yet.
func New(root string, opts ...Option) (*Sandbox, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("new sandbox: workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("new sandbox: resolve workspace root: %w", err)
	}

	s := &Sandbox{root: filepath.Clean(abs)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute workspace root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a path relative to the root onto an absolute path.
//
// Any ".." component is rejected, even when the path would stay inside the
// root after cleaning. The check is syntactic; without symlink hardening the
// result is simply root joined with rel.
func (s *Sandbox) Resolve(rel string) (string, error) {
	if hasParentComponent(rel) {
		return "", fmt.Errorf("%w: path must not contain '..' components: %s", ErrInvalidPath, rel)
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: path must be relative to the workspace root: %s", ErrInvalidPath, rel)
	}

	if !s.resolveSymlinks {
		return filepath.Join(s.root, rel), nil
	}

	resolved, err := securejoin.SecureJoin(s.root, rel)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %v", ErrInvalidPath, rel, err)
	}
	if !within(s.root, resolved) {
		return "", fmt.Errorf("%w: path escapes workspace root: %s", ErrInvalidPath, rel)
	}
	return resolved, nil
}

func hasParentComponent(rel string) bool {
	parts := strings.FieldsFunc(rel, func(r rune) bool {
		return r == '/' || r == os.PathSeparator
	})
	for _, part := range parts {
		if part == ".." {
			return true
		}
	}
	return false
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
