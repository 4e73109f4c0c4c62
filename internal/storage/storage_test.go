package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestParseID(t *testing.T) {
	id := NewID()
	for _, tc := range []struct {
		name        string
		id          string
		expected    string
		expectedErr bool
	}{
		{
			name:     "canonical",
			id:       id,
			expected: id,
		},
		{
			name:     "upper_case",
			id:       strings.ToUpper(id),
			expected: id,
		},
		{
			name:        "traversal",
			id:          "../../etc/passwd",
			expectedErr: true,
		},
		{
			name:        "empty",
			expectedErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := ParseID(tc.id)
			if tc.expectedErr {
				assert.IsError(t, err, ErrInvalidID)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, actual)
			}
		})
	}
}

func TestStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	s, err := New(dir)
	assert.NoError(t, err)

	id := NewID()
	exists, err := s.DEMExists(id)
	assert.NoError(t, err)
	assert.False(t, exists)

	n, err := s.SaveDEM(id, strings.NewReader("II*\x00"))
	assert.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, filepath.Join(dir, "dem_"+id+".tif"), s.DEMPath(id))
	assert.Equal(t, filepath.Join(dir, "dem_"+id+"_heightmap.png"), s.HeightmapPath(id))

	exists, err = s.DEMExists(id)
	assert.NoError(t, err)
	assert.True(t, exists)

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(entries))

	assert.NoError(t, os.WriteFile(s.HeightmapPath(id), []byte("png"), 0o666))

	deleted, err := s.Cleanup(id)
	assert.NoError(t, err)
	assert.Equal(t, []string{DEMName(id), HeightmapName(id)}, deleted)

	deleted, err = s.Cleanup(id)
	assert.NoError(t, err)
	assert.Equal(t, []string{}, deleted)
}
