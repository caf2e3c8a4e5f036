package diskfile

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func Test_Arena_Resolve_SamePathReturnsSameIndex(t *testing.T) {
	t.Parallel()

	a := NewArena(afero.NewMemMapFs())

	idx1 := a.Resolve("/data/movie.mkv")
	idx2 := a.Resolve("/data/movie.mkv")

	require.Equal(t, idx1, idx2)
	require.Equal(t, 1, a.Len())
}

func Test_Arena_Resolve_DifferentPathsGetDifferentIndices(t *testing.T) {
	t.Parallel()

	a := NewArena(afero.NewMemMapFs())

	idx1 := a.Resolve("/data/a.mkv")
	idx2 := a.Resolve("/data/b.mkv")

	require.NotEqual(t, idx1, idx2)
	require.Equal(t, 2, a.Len())
}

func Test_Arena_Resolve_CanonicalizesPath(t *testing.T) {
	t.Parallel()

	a := NewArena(afero.NewMemMapFs())

	idx1 := a.Resolve("/data/./a.mkv")
	idx2 := a.Resolve("/data/a.mkv")

	require.Equal(t, idx1, idx2)
}

func Test_Arena_CreateThenOpen_RoundTrips(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	a := NewArena(fsys)

	idx := a.Resolve("/out/sub/file.bin")

	w, err := a.Create(idx)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := a.Open(idx)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 5)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func Test_Arena_OpenWrite_WritesAtArbitraryOffsetWithoutTruncating(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	a := NewArena(fsys)

	idx := a.Resolve("/out/sub/target.bin")

	w, err := a.OpenWrite(idx)
	require.NoError(t, err)
	_, err = w.WriteAt([]byte("XXXXXXXXXX"), 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := a.OpenWrite(idx)
	require.NoError(t, err)
	_, err = w2.WriteAt([]byte("YY"), 4)
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	r, err := a.Open(idx)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 10)
	_, err = r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "XXXXYYXXXX", string(buf))
}

func Test_Arena_Rename_PreservesIndexAndMovesFile(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	a := NewArena(fsys)

	idx := a.Resolve("/data/found.bin")

	w, err := a.Create(idx)
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, a.Rename(idx, "/data/expected.bin"))

	require.Equal(t, "/data/expected.bin", a.Path(idx))

	exists, err := afero.Exists(fsys, "/data/found.bin")
	require.NoError(t, err)
	require.False(t, exists)

	r, err := a.Open(idx)
	require.NoError(t, err)
	defer r.Close()

	data, err := afero.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	require.Equal(t, idx, a.Resolve("/data/expected.bin"))
}

func Test_Arena_Stat_ReturnsSize(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	a := NewArena(fsys)

	idx := a.Resolve("/out/file.bin")

	w, err := a.Create(idx)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	size, err := a.Stat(idx)
	require.NoError(t, err)
	require.Equal(t, int64(11), size)
}
