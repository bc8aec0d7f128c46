package tree

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/artisan/internal/arrayfile"
)

func TestSetAndGetArray(t *testing.T) {
	tr := New(t.TempDir())
	arr := arrayfile.MustNew([]int64{1, 2, 3})

	require.NoError(t, tr.Set("x", ArrayOf(arr)))

	entry, err := tr.Get("x")
	require.NoError(t, err)
	require.Equal(t, KindArray, entry.Kind())

	got, err := entry.(ArrayEntry).Read()
	require.NoError(t, err)
	assert.True(t, arr.Equal(got))
	assert.FileExists(t, filepath.Join(tr.Path(), "x.arr"))
}

func TestKeyTranslationRoundTrip(t *testing.T) {
	tr := New(t.TempDir())
	src := writeFile(t, "hello")

	require.NoError(t, tr.Set("name__ext", FileRef(src)))
	assert.FileExists(t, filepath.Join(tr.Path(), "name.ext"))

	entry, err := tr.Get("name__ext")
	require.NoError(t, err)
	require.Equal(t, KindBlob, entry.Kind())
	data, err := entry.(BlobEntry).Bytes()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entry, err = tr.Get("name.ext")
	require.NoError(t, err)
	assert.Equal(t, KindBlob, entry.Kind())
}

func TestSetFieldsMergesIntoSubtree(t *testing.T) {
	tr := New(t.TempDir())
	src := writeFile(t, "notes")

	require.NoError(t, tr.Set("sub", Fields{
		"a":          ArrayOf(arrayfile.MustNew([]float32{1, 2})),
		"readme__md": FileRef(src),
		"deeper":     Fields{"b": ArrayOf(arrayfile.MustNew([]uint8{7}))},
	}))
	require.NoError(t, tr.Set("sub", Fields{"c": ArrayOf(arrayfile.MustNew([]int8{1}))}))

	entry, err := tr.Get("sub")
	require.NoError(t, err)
	require.Equal(t, KindTree, entry.Kind())
	sub := entry.(*Tree)

	assert.ElementsMatch(t, []string{"a", "readme.md", "deeper", "c"}, collectKeys(t, sub))

	nested, err := tr.Get("sub/deeper/b")
	require.NoError(t, err)
	assert.Equal(t, KindArray, nested.Kind())
}

func TestGetMissingReturnsEmptyTree(t *testing.T) {
	tr := New(t.TempDir())
	entry, err := tr.Get("nothing")
	require.NoError(t, err)
	require.Equal(t, KindTree, entry.Kind())

	sub := entry.(*Tree)
	assert.False(t, sub.Exists())
	n, err := sub.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKeysAndCountHideReservedNames(t *testing.T) {
	root := t.TempDir()
	tr := New(root)
	require.NoError(t, os.WriteFile(filepath.Join(root, "_meta.yaml"), []byte("status: done\n"), 0o644))
	require.NoError(t, tr.Set("x", ArrayOf(arrayfile.MustNew([]int64{1}))))
	require.NoError(t, tr.Set("log__txt", FileRef(writeFile(t, "l"))))
	require.NoError(t, os.Mkdir(filepath.Join(root, "child"), 0o755))

	keys := collectKeys(t, tr)
	sort.Strings(keys)
	assert.Equal(t, []string{"child", "log.txt", "x"}, keys)

	n, err := tr.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestKeysStopsEarly(t *testing.T) {
	tr := New(t.TempDir())
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, tr.Set(k, ArrayOf(arrayfile.MustNew([]int64{1}))))
	}
	seen := 0
	for range tr.Keys() {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestDeleteIsIdempotent(t *testing.T) {
	tr := New(t.TempDir())
	require.NoError(t, tr.Set("keep", ArrayOf(arrayfile.MustNew([]int64{1}))))
	require.NoError(t, tr.Set("drop", ArrayOf(arrayfile.MustNew([]int64{2}))))
	require.NoError(t, tr.Set("dir", Fields{"x": ArrayOf(arrayfile.MustNew([]int64{3}))}))

	require.NoError(t, tr.Delete("drop"))
	require.NoError(t, tr.Delete("drop"))
	require.NoError(t, tr.Delete("dir"))
	require.NoError(t, tr.Delete("never-existed"))

	assert.Equal(t, []string{"keep"}, collectKeys(t, tr))
}

func TestExtendArrayAppendsRows(t *testing.T) {
	tr := New(t.TempDir())
	rows1 := arrayfile.MustNew([]float64{1, 2, 3, 4}, 2, 2)
	rows2 := arrayfile.MustNew([]float64{5, 6}, 1, 2)

	require.NoError(t, tr.Extend("rows", ArrayOf(rows1)))
	require.NoError(t, tr.Extend("rows", ArrayOf(rows2)))

	entry, err := tr.Get("rows")
	require.NoError(t, err)
	got, err := entry.(ArrayEntry).Read()
	require.NoError(t, err)
	want, err := arrayfile.Concat(rows1, rows2)
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func TestExtendFileConcatenatesBytes(t *testing.T) {
	tr := New(t.TempDir())
	require.NoError(t, tr.Extend("log__txt", FileRef(writeFile(t, "one\n"))))
	require.NoError(t, tr.Extend("log__txt", FileRef(writeFile(t, "two\n"))))

	entry, err := tr.Get("log__txt")
	require.NoError(t, err)
	data, err := entry.(BlobEntry).Bytes()
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestExtendFieldsRecurses(t *testing.T) {
	tr := New(t.TempDir())
	batch := Fields{"xs": ArrayOf(arrayfile.MustNew([]int32{1, 2}))}
	require.NoError(t, tr.Extend("series", batch))
	require.NoError(t, tr.Extend("series", batch))

	entry, err := tr.Get("series/xs")
	require.NoError(t, err)
	n, err := entry.(ArrayEntry).Len()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSetValidatesKeysAndValues(t *testing.T) {
	tr := New(t.TempDir())
	arr := ArrayOf(arrayfile.MustNew([]int64{1}))
	src := FileRef(writeFile(t, "x"))

	assert.ErrorIs(t, tr.Set("x.arr", arr), ErrKeyExtension)
	assert.ErrorIs(t, tr.Set("noext", src), ErrKeyExtension)
	assert.ErrorIs(t, tr.Set("sub__d", Fields{}), ErrKeyExtension)
	assert.ErrorIs(t, tr.Set("x__arr", src), ErrKeyExtension)
	assert.ErrorIs(t, tr.Extend("x__arr", src), ErrKeyExtension)
	assert.ErrorIs(t, tr.Set("", arr), ErrInvalidKey)
	assert.ErrorIs(t, tr.Set("../escape", arr), ErrInvalidKey)
	assert.ErrorIs(t, tr.Set("/abs", arr), ErrInvalidKey)
	assert.ErrorIs(t, tr.Set("x", nil), ErrUnsupportedValue)
	assert.ErrorIs(t, tr.Set("sub", Fields{"bad": nil}), ErrUnsupportedValue)
	assert.ErrorIs(t, tr.Extend("x", nil), ErrUnsupportedValue)
	assert.False(t, New(filepath.Join(tr.Path(), "sub")).Exists(), "invalid fields must not create the subtree")
}

func TestSetFileRefRejectsDirectorySource(t *testing.T) {
	tr := New(t.TempDir())
	require.NoError(t, tr.Set("notes__txt", FileRef(writeFile(t, "keep"))))

	err := tr.Set("notes__txt", FileRef(t.TempDir()))
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	assert.ErrorIs(t, tr.Extend("notes__txt", FileRef(t.TempDir())), ErrUnsupportedValue)

	entry, err := tr.Get("notes__txt")
	require.NoError(t, err)
	data, err := entry.(BlobEntry).Bytes()
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func collectKeys(t *testing.T, tr *Tree) []string {
	t.Helper()
	var keys []string
	for k, err := range tr.Keys() {
		require.NoError(t, err)
		keys = append(keys, k)
	}
	return keys
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
