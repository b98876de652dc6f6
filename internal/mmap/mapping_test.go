//go:build unix

package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.0001")
	require.NoError(t, os.WriteFile(path, []byte("SQBLOBS1payload-bytes"), 0644))

	m, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 21, m.Size())
	require.NoError(t, m.Advise(AccessRandom))

	b, err := m.Slice(8, 7)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))

	_, err = m.Slice(16, 6)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())
	_, err = m.Slice(0, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMappingEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	m, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Size())
	_, err = m.Slice(0, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	require.NoError(t, m.Close())
}

func TestMappingMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
