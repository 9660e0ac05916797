package fsops

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsagent/errs"
)

const root = "/ws"

func newOps(t *testing.T) (*Ops, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(root, 0755))
	return New(fs, 1024), fs
}

func p(rel string) string { return filepath.Join(root, rel) }

func TestCreateFile(t *testing.T) {
	ops, fs := newOps(t)

	res := ops.CreateFile(p("dir/a.txt"), "hello", false)
	require.True(t, res.Success, res.Error)

	data, err := afero.ReadFile(fs, p("dir/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	res = ops.CreateFile(p("dir/a.txt"), "again", false)
	assert.False(t, res.Success)
	assert.Equal(t, errs.AlreadyExists, errs.KindOf(res.Err))

	res = ops.CreateFile(p("dir/a.txt"), "again", true)
	assert.True(t, res.Success)
}

func TestReadFile(t *testing.T) {
	ops, fs := newOps(t)
	require.NoError(t, afero.WriteFile(fs, p("a.txt"), []byte("line one\nline two\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, p("bin.dat"), []byte{0x00, 0x01, 0x02, 0xff}, 0644))
	require.NoError(t, afero.WriteFile(fs, p("big.txt"), []byte(strings.Repeat("x", 2048)), 0644))

	res := ops.ReadFile(p("a.txt"))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "line one\nline two\n", res.Output)

	res = ops.ReadFile(p("bin.dat"))
	assert.False(t, res.Success)
	assert.Equal(t, errs.Unsupported, errs.KindOf(res.Err))

	res = ops.ReadFile(p("big.txt"))
	assert.False(t, res.Success)
	assert.Equal(t, errs.ValidationFailure, errs.KindOf(res.Err))

	res = ops.ReadFile(p("missing.txt"))
	assert.Equal(t, errs.NotFound, errs.KindOf(res.Err))
}

func TestWriteAndAppend(t *testing.T) {
	ops, fs := newOps(t)

	require.True(t, ops.WriteFile(p("log.txt"), "one\n", false).Success)
	require.True(t, ops.WriteFile(p("log.txt"), "two\n", true).Success)

	data, _ := afero.ReadFile(fs, p("log.txt"))
	assert.Equal(t, "one\ntwo\n", string(data))

	require.True(t, ops.WriteFile(p("log.txt"), "fresh", false).Success)
	data, _ = afero.ReadFile(fs, p("log.txt"))
	assert.Equal(t, "fresh", string(data))
}

func TestReplaceInFile(t *testing.T) {
	ops, fs := newOps(t)
	require.NoError(t, afero.WriteFile(fs, p("a.txt"), []byte("a a a"), 0644))

	res := ops.ReplaceInFile(p("a.txt"), "a", "b", 2)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "replaced 2 occurrence(s)", res.Message)

	data, _ := afero.ReadFile(fs, p("a.txt"))
	assert.Equal(t, "b b a", string(data))

	res = ops.ReplaceInFile(p("a.txt"), "zzz", "y", 0)
	assert.Equal(t, errs.NotFound, errs.KindOf(res.Err))
}

func TestTruncate(t *testing.T) {
	ops, fs := newOps(t)
	require.NoError(t, afero.WriteFile(fs, p("a.txt"), []byte("hello world"), 0644))

	require.True(t, ops.Truncate(p("a.txt"), 5).Success)
	data, _ := afero.ReadFile(fs, p("a.txt"))
	assert.Equal(t, "hello", string(data))
}

func TestDeleteDirectoryNeedsRecursive(t *testing.T) {
	ops, fs := newOps(t)
	require.NoError(t, fs.MkdirAll(p("d"), 0755))
	require.NoError(t, afero.WriteFile(fs, p("d/x.txt"), []byte("x"), 0644))

	res := ops.DeleteDirectory(p("d"), false)
	assert.False(t, res.Success)
	assert.Equal(t, errs.ValidationFailure, errs.KindOf(res.Err))

	res = ops.DeleteDirectory(p("d"), true)
	require.True(t, res.Success)
	exists, _ := afero.DirExists(fs, p("d"))
	assert.False(t, exists)

	res = ops.DeleteFile(p("d"))
	assert.Equal(t, errs.NotFound, errs.KindOf(res.Err))
}

func TestMoveAndCopy(t *testing.T) {
	ops, fs := newOps(t)
	require.NoError(t, afero.WriteFile(fs, p("a.txt"), []byte("A"), 0644))
	require.NoError(t, afero.WriteFile(fs, p("b.txt"), []byte("B"), 0644))

	res := ops.Move(p("a.txt"), p("b.txt"), false)
	assert.Equal(t, errs.AlreadyExists, errs.KindOf(res.Err))

	res = ops.Move(p("a.txt"), p("sub/a.txt"), false)
	require.True(t, res.Success, res.Error)
	exists, _ := afero.Exists(fs, p("a.txt"))
	assert.False(t, exists)

	res = ops.Copy(p("sub/a.txt"), p("b.txt"), true)
	require.True(t, res.Success, res.Error)
	data, _ := afero.ReadFile(fs, p("b.txt"))
	assert.Equal(t, "A", string(data))

	res = ops.Copy(p("sub"), p("c"), false)
	assert.Equal(t, errs.Unsupported, errs.KindOf(res.Err))
}

func TestMoveAndCopyOntoItself(t *testing.T) {
	ops, fs := newOps(t)
	require.NoError(t, afero.WriteFile(fs, p("a.txt"), []byte("keep me"), 0644))

	res := ops.Copy(p("a.txt"), p("./a.txt"), true)
	assert.False(t, res.Success)
	assert.Equal(t, errs.ValidationFailure, errs.KindOf(res.Err))

	res = ops.Move(p("a.txt"), p("a.txt"), true)
	assert.Equal(t, errs.ValidationFailure, errs.KindOf(res.Err))

	data, err := afero.ReadFile(fs, p("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestListHidesReservedAndFilters(t *testing.T) {
	ops, fs := newOps(t)
	for _, f := range []string{"a.go", "b.txt", "pkg/c.go", ".agent-backups/s/x.txt"} {
		require.NoError(t, fs.MkdirAll(filepath.Dir(p(f)), 0755))
		require.NoError(t, afero.WriteFile(fs, p(f), []byte("x"), 0644))
	}
	ops.Hidden = func(path string) bool {
		return filepath.Base(path) == ".agent-backups"
	}

	res := ops.List(root, "", false)
	require.True(t, res.Success, res.Error)
	var names []string
	for _, e := range res.Entries {
		names = append(names, e.Path)
	}
	assert.Equal(t, []string{"a.go", "b.txt", "pkg"}, names)

	res = ops.List(root, "**/*.go", false)
	names = names[:0]
	for _, e := range res.Entries {
		names = append(names, e.Path)
	}
	assert.Equal(t, []string{"a.go", "pkg/c.go"}, names)
	assert.NotContains(t, res.Output, ".agent-backups")
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "12 B", FormatSize(12))
	assert.Equal(t, "2.0 KB", FormatSize(2048))
	assert.Equal(t, "1.5 MB", FormatSize(1024*1024*3/2))
}
