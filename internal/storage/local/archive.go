// Package local keeps a zstd-compressed copy of every fetched result page
// on the local filesystem, laid out as <key>/<offset>.xml.zst.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const pageExt = ".xml.zst"

// Config captures the parameters for the page archive.
type Config struct {
	// BaseDir is the root directory where pages will be stored.
	BaseDir string
}

// Archive writes raw pages to the local filesystem.
type Archive struct {
	baseDir string
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

// New creates the archive, creating BaseDir when missing.
func New(cfg Config) (*Archive, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Probe write permissions up front instead of failing mid-run.
	probe, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up probe file: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Archive{baseDir: cfg.BaseDir, enc: enc, dec: dec}, nil
}

// PutPage stores body for (key, offset) and returns a file:// URI. An
// existing page is replaced, so refetching after a restart is harmless.
func (a *Archive) PutPage(_ context.Context, key string, offset int, body []byte) (string, error) {
	fullPath, err := a.pagePath(key, offset)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".page-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(a.enc.EncodeAll(body, nil)); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write page: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close page: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("failed to move page into place: %w", err)
	}
	return "file://" + fullPath, nil
}

// ReadPage returns the decompressed body stored for (key, offset).
func (a *Archive) ReadPage(key string, offset int) ([]byte, error) {
	fullPath, err := a.pagePath(key, offset)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(fullPath) // #nosec G304 -- path is confined to baseDir by pagePath.
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	body, err := a.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return body, nil
}

// Close releases the codec resources.
func (a *Archive) Close() error {
	a.dec.Close()
	if err := a.enc.Close(); err != nil {
		return fmt.Errorf("close zstd encoder: %w", err)
	}
	return nil
}

func (a *Archive) pagePath(key string, offset int) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	if offset < 0 {
		return "", fmt.Errorf("offset must be >= 0")
	}
	fullPath := filepath.Join(a.baseDir, key, strconv.Itoa(offset)+pageExt)

	// Verify the path stays within baseDir to prevent path traversal.
	cleanBase := filepath.Clean(a.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
