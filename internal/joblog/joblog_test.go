package joblog

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAged(t *testing.T, dir, name, body string, modified time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, modified, modified))
}

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	members := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		members[hdr.Name] = string(body)
	}
	return members
}

func TestCompressArchivesOldFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	old := now.Add(-48 * time.Hour)
	writeAged(t, dir, "101.out", "output 101", old)
	writeAged(t, dir, "101_slurm.sh", "#!/bin/sh", old)
	writeAged(t, dir, "102.out", "fresh", now.Add(-time.Hour))
	writeAged(t, dir, "notes.txt", "keep", old)

	res, err := Compress(dir, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240506_070809.tar.gz"), res.Archive)
	assert.Equal(t, []string{"101.out", "101_slurm.sh"}, res.Files)
	assert.Equal(t, int64(len("output 101")+len("#!/bin/sh")), res.Bytes)

	assert.Equal(t, map[string]string{
		"101.out":      "output 101",
		"101_slurm.sh": "#!/bin/sh",
	}, readArchive(t, res.Archive))

	for _, gone := range []string{"101.out", "101_slurm.sh"} {
		_, err := os.Stat(filepath.Join(dir, gone))
		assert.True(t, os.IsNotExist(err), gone)
	}
	for _, kept := range []string{"102.out", "notes.txt"} {
		_, err := os.Stat(filepath.Join(dir, kept))
		assert.NoError(t, err, kept)
	}
}

func TestCompressNothingToDo(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeAged(t, dir, "1.out", "x", now)
	_, err := Compress(dir, time.Hour, now)
	assert.ErrorIs(t, err, ErrNothingToCompress)
}

func TestCompressMissingDir(t *testing.T) {
	_, err := Compress(filepath.Join(t.TempDir(), "missing"), time.Hour, time.Now())
	assert.Error(t, err)
}
