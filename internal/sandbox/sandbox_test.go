package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestResolveRejectsParentComponents(t *testing.T) {
	sb, err := New(t.TempDir())
	assert.NilError(t, err)

	for _, rel := range []string{
		"..",
		"../etc/passwd",
		"a/../b",
		"a/b/..",
		"./../x",
		"a//..//b",
	} {
		t.Run(rel, func(t *testing.T) {
			_, err := sb.Resolve(rel)
			assert.Assert(t, errors.Is(err, ErrInvalidPath), "got %v", err)
			assert.ErrorContains(t, err, rel)
		})
	}
}

func TestResolveRejectsAbsolutePaths(t *testing.T) {
	sb, err := New(t.TempDir())
	assert.NilError(t, err)

	_, err = sb.Resolve("/etc/passwd")
	assert.Assert(t, errors.Is(err, ErrInvalidPath))
}

func TestResolveJoinsUnderRoot(t *testing.T) {
	root := t.TempDir()
	sb, err := New(root)
	assert.NilError(t, err)

	got, err := sb.Resolve("sub/dir/file.txt")
	assert.NilError(t, err)
	assert.Equal(t, got, filepath.Join(root, "sub", "dir", "file.txt"))

	got, err = sb.Resolve("")
	assert.NilError(t, err)
	assert.Equal(t, got, sb.Root())

	// Dotted names are not parent components.
	got, err = sb.Resolve("..hidden/a...b")
	assert.NilError(t, err)
	assert.Equal(t, got, filepath.Join(root, "..hidden", "a...b"))
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New("  ")
	assert.ErrorContains(t, err, "workspace root is required")
}

func TestSymlinkHardeningKeepsLinksInsideRoot(t *testing.T) {
	outside := t.TempDir()
	root := t.TempDir()
	assert.NilError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	plain, err := New(root)
	assert.NilError(t, err)
	got, err := plain.Resolve("escape/secret.txt")
	assert.NilError(t, err)
	assert.Equal(t, got, filepath.Join(root, "escape", "secret.txt"))

	hardened, err := New(root, WithSymlinkHardening())
	assert.NilError(t, err)
	got, err = hardened.Resolve("escape/secret.txt")
	assert.NilError(t, err)
	assert.Assert(t, !strings.HasPrefix(got, outside), "resolved %s outside root", got)
	assert.Assert(t, within(hardened.Root(), got), "resolved %s outside root", got)
}
