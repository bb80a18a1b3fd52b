package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaRoot_Resolve(t *testing.T) {
	dir := t.TempDir()
	root := newMediaRoot(dir)
	base := resolveSymlinks(dir)

	tests := []struct {
		path string
		want string
		err  error
	}{
		{"banner.png", filepath.Join(base, "banner.png"), nil},
		{"promo/banner.png", filepath.Join(base, "promo", "banner.png"), nil},
		{"promo/../banner.png", filepath.Join(base, "banner.png"), nil},
		{"../banner.png", "", errMediaEscape},
		{"promo/../../banner.png", "", errMediaEscape},
		{".", "", errMediaEscape},
		{"/etc/passwd", "", errMediaAbsolute},
		{"~/banner.png", "", errMediaAbsolute},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := root.Resolve(tt.path)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMediaRoot_RejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.png"), []byte("x"), 0600))
	if err := os.Symlink(outside, filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := newMediaRoot(dir).Resolve("link/secret.png")
	assert.ErrorIs(t, err, errMediaEscape)
}

func TestMediaRoot_Disabled(t *testing.T) {
	root := newMediaRoot("")
	_, err := root.Resolve("banner.png")
	assert.ErrorIs(t, err, errMediaDisabled)
}
