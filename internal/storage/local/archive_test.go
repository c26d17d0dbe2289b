package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/telefonbuch-scraper/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		a, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NoError(t, a.Close())
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "pages")
		a, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		defer a.Close()
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutAndReadPage(t *testing.T) {
	dir := t.TempDir()
	a, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	defer a.Close()

	body := []byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><r>K\xf6ln</r>")
	uri, err := a.PutPage(context.Background(), "kö", 30, body)
	require.NoError(t, err)

	want := filepath.Join(dir, "kö", "30.xml.zst")
	assert.Equal(t, "file://"+want, uri)
	assert.FileExists(t, want)

	got, err := a.ReadPage("kö", 30)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	// Overwrite is allowed.
	_, err = a.PutPage(context.Background(), "kö", 30, []byte("<r/>"))
	require.NoError(t, err)
	got, err = a.ReadPage("kö", 30)
	require.NoError(t, err)
	assert.Equal(t, "<r/>", string(got))

	entries, err := os.ReadDir(filepath.Join(dir, "kö"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestPutPageRejectsBadInput(t *testing.T) {
	a, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	_, err = a.PutPage(ctx, "", 0, nil)
	assert.Error(t, err)
	_, err = a.PutPage(ctx, "aa", -15, nil)
	assert.Error(t, err)
	_, err = a.PutPage(ctx, "../..", 0, nil)
	assert.ErrorContains(t, err, "path traversal")

	_, err = a.ReadPage("zz", 0)
	assert.Error(t, err)
}
