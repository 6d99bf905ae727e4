// Package joblog archives old Slurm output files and submitted scripts.
package joblog

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gobwas/glob"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/multierr"
)

// ErrNothingToCompress is returned when no file is old enough.
var ErrNothingToCompress = errors.New("joblog: no files to compress")

var candidates = glob.MustCompile("*.{out,sh}")

// Result describes one archive.
type Result struct {
	Archive string
	Files   []string
	Bytes   int64
}

// Compress moves every *.out and *.sh file in dir last modified before
// now-olderThan into <dir>/<YYYYmmdd_HHMMSS>.tar.gz. Originals are removed only
// once the archive is complete.
func Compress(dir string, olderThan time.Duration, now time.Time) (Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{}, fmt.Errorf("joblog: read %s: %w", dir, err)
	}
	threshold := now.Add(-olderThan)
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !candidates.Match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return Result{}, fmt.Errorf("joblog: stat %s: %w", entry.Name(), err)
		}
		if info.ModTime().Before(threshold) {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return Result{}, ErrNothingToCompress
	}
	sort.Strings(files)

	archive := filepath.Join(dir, now.Format("20060102_150405")+".tar.gz")
	size, err := writeArchive(archive, dir, files)
	if err != nil {
		_ = os.Remove(archive)
		return Result{}, err
	}
	var removeErr error
	for _, name := range files {
		removeErr = multierr.Append(removeErr, os.Remove(filepath.Join(dir, name)))
	}
	if removeErr != nil {
		return Result{}, fmt.Errorf("joblog: remove archived files: %w", removeErr)
	}
	return Result{Archive: archive, Files: files, Bytes: size}, nil
}

func writeArchive(path, dir string, files []string) (int64, error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("joblog: create %s: %w", path, err)
	}
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	var total int64
	for _, name := range files {
		n, err := addFile(tw, dir, name)
		if err != nil {
			return 0, multierr.Combine(err, tw.Close(), gz.Close(), out.Close())
		}
		total += n
	}
	if err := multierr.Combine(tw.Close(), gz.Close(), out.Close()); err != nil {
		return 0, fmt.Errorf("joblog: finish %s: %w", path, err)
	}
	return total, nil
}

func addFile(tw *tar.Writer, dir, name string) (int64, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return 0, fmt.Errorf("joblog: open %s: %w", name, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("joblog: stat %s: %w", name, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, fmt.Errorf("joblog: header %s: %w", name, err)
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, fmt.Errorf("joblog: write header %s: %w", name, err)
	}
	n, err := io.Copy(tw, f)
	if err != nil {
		return 0, fmt.Errorf("joblog: write %s: %w", name, err)
	}
	return n, nil
}
