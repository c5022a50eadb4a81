package source

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
)

// Archiver packs files and folders into a single zstd compressed tar archive.
type Archiver struct {
	logger log.Logger
}

// NewArchiver ...
func NewArchiver(logger log.Logger) *Archiver {
	return &Archiver{logger: logger}
}

// Compress writes includePaths (absolute paths) into a .tar.zst at archivePath.
// Entries are stored relative to the parent folder of each include path.
func (a *Archiver) Compress(archivePath string, includePaths []string, compressionLevel int) (err error) {
	if compressionLevel < 1 || compressionLevel > 19 {
		return fmt.Errorf("compression level should be between 1 and 19")
	}

	archiveFile, err := os.OpenFile(archivePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if cerr := archiveFile.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive file: %w", cerr)
		}
	}()

	zstdWriter, err := zstd.NewWriter(archiveFile, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zstdWriter)

	for _, p := range includePaths {
		root := filepath.Clean(p)
		a.logger.Debugf("Adding %s", root)
		if err := filepath.Walk(root, func(file string, fi os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			return a.addEntry(tw, filepath.Dir(root), file, fi)
		}); err != nil {
			return fmt.Errorf("iterate on files: %w", err)
		}
	}

	// produce tar
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	// produce zstd
	if err := zstdWriter.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}

	return nil
}

func (a *Archiver) addEntry(tw *tar.Writer, base, file string, fi os.FileInfo) error {
	var link string
	if fi.Mode()&os.ModeSymlink != 0 {
		var err error
		if link, err = os.Readlink(file); err != nil {
			return fmt.Errorf("read symlink: %w", err)
		}
	}

	header, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return fmt.Errorf("create file info header: %w", err)
	}

	name, err := filepath.Rel(base, file)
	if err != nil {
		return fmt.Errorf("relative path of %s: %w", file, err)
	}
	header.Name = filepath.ToSlash(name)
	if fi.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar file header: %w", err)
	}

	// nothing more to do for non-regular files or directories
	if !fi.Mode().IsRegular() {
		return nil
	}

	data, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	if _, err := io.Copy(tw, data); err != nil {
		_ = data.Close()
		return fmt.Errorf("copy to archive: %w", err)
	}
	if err := data.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	return nil
}

// AreAllPathsEmpty checks if the provided paths are all nonexistent files or empty directories
func AreAllPathsEmpty(includePaths []string) bool {
	for _, path := range includePaths {
		fileInfo, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return false
		}

		if !fileInfo.IsDir() {
			return false
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			continue
		}
		if len(entries) > 0 {
			return false
		}
	}

	return true
}
