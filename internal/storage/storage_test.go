package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestSaveUpload(t *testing.T) {
	s := newTestStore(t)

	url, err := s.SaveUpload("factura marzo.pdf", []byte("%PDF contenido"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, URLPrefix+"/"))
	assert.True(t, strings.HasSuffix(url, "-factura_marzo.pdf"))

	onDisk := filepath.Join(s.BaseDir(), strings.TrimPrefix(url, URLPrefix+"/"))
	data, err := os.ReadFile(onDisk)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF contenido"), data)
}

func TestSaveUpload_RepeatedNamesDoNotCollide(t *testing.T) {
	s := newTestStore(t)

	first, err := s.SaveUpload("factura.pdf", []byte("uno"))
	require.NoError(t, err)
	second, err := s.SaveUpload("factura.pdf", []byte("dos"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestSaveUpload_StripsPathComponents(t *testing.T) {
	s := newTestStore(t)

	url, err := s.SaveUpload("../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.NotContains(t, url, "..")

	entries, err := os.ReadDir(s.BaseDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSaveSearchablePDF(t *testing.T) {
	s := newTestStore(t)

	url, err := s.SaveSearchablePDF("factura.pdf", []byte("%PDF searchable"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, "-factura-searchable.pdf"))
}
