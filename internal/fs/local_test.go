package fs

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStatMissing(t *testing.T) {
	l := NewLocal(t.TempDir())
	_, err := l.Stat("nope")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestLocalWriteReadRoundTrip(t *testing.T) {
	l := NewLocal(t.TempDir())

	w, err := l.OpenForWrite("dir/x.txt", 0644)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := l.OpenForRead("dir/x.txt")
	require.NoError(t, err)
	defer r.Close()
	buf, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestLocalSetMtime(t *testing.T) {
	l := NewLocal(t.TempDir())
	w, err := l.OpenForWrite("x", 0644)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, l.SetMtime("x", 1700000000))
	st, err := l.Stat("x")
	require.NoError(t, err)
	assert.EqualValues(t, 1700000000, st.Mtime)
}

func TestLocalIterdirExcludesDotEntries(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))

	l := NewLocal(root)
	ents, err := l.Iterdir(".")
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range ents {
		names[e.Name] = true
		assert.NotEqual(t, ".", e.Name)
		assert.NotEqual(t, "..", e.Name)
	}
	assert.True(t, names["a.txt"])
	assert.True(t, names["sub"])
}

func TestLocalMakedirsIdempotent(t *testing.T) {
	l := NewLocal(t.TempDir())
	require.NoError(t, l.Makedirs("a/b/c"))
	require.NoError(t, l.Makedirs("a/b/c"))
}
