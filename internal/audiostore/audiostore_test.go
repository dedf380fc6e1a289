package audiostore

import (
    "crypto/sha256"
    "encoding/hex"
    "os"
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/require"
)

func TestDerivePathVersion1HasNoSuffix(t *testing.T) {
    s, err := New(t.TempDir())
    require.NoError(t, err)

    p1 := s.DerivePath("hello world", "v1", 1, "mp3")
    p2 := s.DerivePath("hello world", "v1", 2, "mp3")
    require.NotEqual(t, p1, p2, "different versions must hash to different paths")

    sum := sha256.Sum256([]byte("hello world|v1"))
    require.Equal(t, filepath.Join(s.Root(), hex.EncodeToString(sum[:])+".mp3"), p1,
        "version 1 must hash text|voice with no version suffix")
}

func TestDerivePathDeterministic(t *testing.T) {
    s, err := New(t.TempDir())
    require.NoError(t, err)

    require.Equal(t,
        s.DerivePath("hello world", "v1", 1, "mp3"),
        s.DerivePath("hello world", "v1", 1, "mp3"),
    )
}

func TestDerivePathExtensionMatchesFormat(t *testing.T) {
    s, err := New(t.TempDir())
    require.NoError(t, err)

    path := s.DerivePath("t", "v", 1, "wav")
    require.Equal(t, ".wav", filepath.Ext(path))
}

func TestWriteThenReadRoundTrip(t *testing.T) {
    s, err := New(t.TempDir())
    require.NoError(t, err)

    path := s.DerivePath("t", "v", 1, "mp3")
    data := []byte("fake audio bytes")
    require.NoError(t, s.Write(path, data))

    got, err := s.Read(path)
    require.NoError(t, err)
    require.Equal(t, data, got)
}

func TestWriteLeavesNoTempFilesBehind(t *testing.T) {
    dir := t.TempDir()
    s, err := New(dir)
    require.NoError(t, err)

    path := s.DerivePath("t", "v", 1, "mp3")
    require.NoError(t, s.Write(path, []byte("data")))

    entries, err := os.ReadDir(dir)
    require.NoError(t, err)
    require.Len(t, entries, 1)
    require.Equal(t, filepath.Base(path), entries[0].Name())
}

func TestExists(t *testing.T) {
    s, err := New(t.TempDir())
    require.NoError(t, err)

    path := s.DerivePath("t", "v", 1, "mp3")
    require.False(t, s.Exists(path))

    require.NoError(t, s.Write(path, []byte("x")))
    require.True(t, s.Exists(path))
}

func TestDeleteMissingFileIsNotAnError(t *testing.T) {
    s, err := New(t.TempDir())
    require.NoError(t, err)

    require.NoError(t, s.Delete(filepath.Join(s.Root(), "never-existed.mp3")))
}

func TestListTopLevelExcludesSubdirectories(t *testing.T) {
    dir := t.TempDir()
    s, err := New(dir)
    require.NoError(t, err)

    require.NoError(t, s.Write(s.DerivePath("t", "v", 1, "mp3"), []byte("x")))
    require.NoError(t, os.MkdirAll(filepath.Join(dir, "fillers"), 0o755))
    require.NoError(t, os.WriteFile(filepath.Join(dir, "fillers", "greeting.mp3"), []byte("y"), 0o644))

    files, err := s.ListTopLevel()
    require.NoError(t, err)
    require.Len(t, files, 1)
}
