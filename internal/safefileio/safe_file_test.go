package safefileio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("lock_dir = \"/tmp\"\n"), 0o600))

	content, err := SafeReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("lock_dir = \"/tmp\"\n"), content)
}

func TestSafeReadFile_RejectsSymlinkTarget(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	link := filepath.Join(dir, "link")
	require.NoError(t, os.WriteFile(real, []byte("data"), 0o600))
	require.NoError(t, os.Symlink(real, link))

	_, err := SafeReadFile(link)
	assert.ErrorIs(t, err, ErrIsSymlink)
}

func TestSafeReadFile_RejectsSymlinkComponent(t *testing.T) {
	dir := t.TempDir()
	realDir := filepath.Join(dir, "realdir")
	require.NoError(t, os.Mkdir(realDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(realDir, "f"), []byte("x"), 0o600))

	linkDir := filepath.Join(dir, "linkdir")
	require.NoError(t, os.Symlink(realDir, linkDir))

	_, err := SafeReadFile(filepath.Join(linkDir, "f"))
	assert.ErrorIs(t, err, ErrIsSymlink)
}

func TestSafeOpenFile_RejectsNonRegularFile(t *testing.T) {
	_, err := SafeOpenFile(os.DevNull, os.O_RDONLY, 0)
	assert.ErrorIs(t, err, ErrInvalidFilePath)
}

func TestSafeOpenFile_CreateAndWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	f, err := SafeOpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("entry\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "entry\n", string(data))
}
