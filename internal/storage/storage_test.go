package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	path, err := sink.Save(context.Background(), "[]", "tiktok_products_2025-01-02_03-04.json", "application/json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tiktok_products_2025-01-02_03-04.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestFileSinkOverwrites(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	_, err = sink.Save(context.Background(), "first", "shopee_products.csv", "text/csv")
	require.NoError(t, err)
	path, err := sink.Save(context.Background(), "second", "shopee_products.csv", "text/csv")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestFileSinkStaysInsideDirectory(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	path, err := sink.Save(context.Background(), "x", "../../escape.csv", "text/csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.csv"), path)
}

func TestFileSinkErrors(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	_, err = sink.Save(context.Background(), "x", "  ", "text/csv")
	assert.ErrorIs(t, err, ErrExportFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sink.Save(ctx, "x", "a.csv", "text/csv")
	assert.ErrorIs(t, err, ErrExportFailed)

	blocked := &FileSink{dir: filepath.Join(t.TempDir(), "missing", "dir")}
	_, err = blocked.Save(context.Background(), "x", "a.csv", "text/csv")
	assert.ErrorIs(t, err, ErrExportFailed)
}
