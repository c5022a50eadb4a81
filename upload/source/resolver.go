// Package source turns the user provided source_path input into a single local file that can be uploaded.
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/melbahja/got"
)

const (
	fileScheme = "file://"

	// ArchiveExtension is appended to the names of archived directories and glob matches.
	ArchiveExtension = ".tar.zst"
)

// Kind tells how a source was resolved.
type Kind string

// Kinds ...
const (
	KindFile       Kind = "file"
	KindDownloaded Kind = "downloaded"
	KindArchive    Kind = "archive"
)

// Resolved is a local file ready to be uploaded.
type Resolved struct {
	Path string
	// Name is the suggested remote file name.
	Name string
	Size int64
	Kind Kind

	tempDir string
}

// Cleanup removes temporary files created while resolving the source.
func (r Resolved) Cleanup() error {
	if r.tempDir == "" {
		return nil
	}
	return os.RemoveAll(r.tempDir)
}

// Resolver ...
type Resolver struct {
	logger       log.Logger
	pathProvider pathutil.PathProvider
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
	archiver     *Archiver
	httpClient   *http.Client
}

// NewResolver ...
func NewResolver(
	logger log.Logger,
	pathProvider pathutil.PathProvider,
	pathModifier pathutil.PathModifier,
	pathChecker pathutil.PathChecker,
	httpClient *http.Client,
) *Resolver {
	return &Resolver{
		logger:       logger,
		pathProvider: pathProvider,
		pathModifier: pathModifier,
		pathChecker:  pathChecker,
		archiver:     NewArchiver(logger),
		httpClient:   httpClient,
	}
}

// Resolve maps the source path input to a local file.
//
// sourcePath is a newline separated list. A single http(s) URL is downloaded, a single file path (optionally
// with the file:// scheme) is used as is. Directories, glob patterns and multiple paths are packed into
// a zstd compressed tar archive using compressionLevel.
func (r *Resolver) Resolve(ctx context.Context, sourcePath string, compressionLevel int) (Resolved, error) {
	paths := splitPaths(sourcePath)
	if len(paths) == 0 {
		return Resolved{}, fmt.Errorf("source path is empty")
	}

	if len(paths) == 1 && isRemote(paths[0]) {
		return r.download(ctx, paths[0])
	}

	for i, p := range paths {
		if isRemote(p) {
			return Resolved{}, fmt.Errorf("remote source %s cannot be combined with other paths", p)
		}
		paths[i] = strings.TrimPrefix(p, fileScheme)
	}

	finalPaths, err := r.evaluatePaths(paths)
	if err != nil {
		return Resolved{}, err
	}
	if len(finalPaths) == 0 {
		return Resolved{}, fmt.Errorf("no existing file matches the source path")
	}

	if len(finalPaths) == 1 {
		info, err := os.Stat(finalPaths[0])
		if err != nil {
			return Resolved{}, err
		}
		if info.Mode().IsRegular() {
			return Resolved{
				Path: finalPaths[0],
				Name: filepath.Base(finalPaths[0]),
				Size: info.Size(),
				Kind: KindFile,
			}, nil
		}
	}

	return r.archive(finalPaths, compressionLevel)
}

func (r *Resolver) download(ctx context.Context, rawURL string) (Resolved, error) {
	fileName, err := fileNameFromURL(rawURL)
	if err != nil {
		return Resolved{}, fmt.Errorf("failed to extract filename from URL %s: %w", rawURL, err)
	}

	tmpDir, err := r.pathProvider.CreateTempDir("upload-source")
	if err != nil {
		return Resolved{}, fmt.Errorf("failed to create temp directory: %w", err)
	}
	localPath := filepath.Join(tmpDir, fileName)

	r.logger.Infof("Downloading %s", rawURL)
	downloader := got.New()
	if r.httpClient != nil {
		downloader.Client = r.httpClient
	}
	if err := downloader.Do(got.NewDownload(ctx, rawURL, localPath)); err != nil {
		_ = os.RemoveAll(tmpDir)
		return Resolved{}, fmt.Errorf("failed to download file from %s: %w", rawURL, err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return Resolved{}, err
	}

	return Resolved{
		Path:    localPath,
		Name:    fileName,
		Size:    info.Size(),
		Kind:    KindDownloaded,
		tempDir: tmpDir,
	}, nil
}

func (r *Resolver) archive(paths []string, compressionLevel int) (Resolved, error) {
	if AreAllPathsEmpty(paths) {
		return Resolved{}, fmt.Errorf("the provided paths are all empty, nothing to upload")
	}

	name := fmt.Sprintf("upload-%s%s", time.Now().UTC().Format("20060102-150405"), ArchiveExtension)
	if len(paths) == 1 {
		name = filepath.Base(paths[0]) + ArchiveExtension
	}

	tmpDir, err := r.pathProvider.CreateTempDir("upload-archive")
	if err != nil {
		return Resolved{}, fmt.Errorf("failed to create temp directory: %w", err)
	}
	archivePath := filepath.Join(tmpDir, name)

	r.logger.Infof("Compressing %d path(s) into %s", len(paths), name)
	if err := r.archiver.Compress(archivePath, paths, compressionLevel); err != nil {
		_ = os.RemoveAll(tmpDir)
		return Resolved{}, fmt.Errorf("compress files: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return Resolved{}, err
	}

	return Resolved{
		Path:    archivePath,
		Name:    name,
		Size:    info.Size(),
		Kind:    KindArchive,
		tempDir: tmpDir,
	}, nil
}

func (r *Resolver) evaluatePaths(paths []string) ([]string, error) {
	// Expand wildcard paths
	var expandedPaths []string
	for _, path := range paths {
		if !strings.Contains(path, "*") {
			expandedPaths = append(expandedPaths, path)
			continue
		}

		base, pattern := doublestar.SplitPattern(path)
		absBase, err := r.pathModifier.AbsPath(base) // resolves ~/ and expands any envs
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow())
		if err != nil {
			r.logger.Warnf("Error in path pattern '%s': %s", path, err)
			continue
		}
		if matches == nil {
			r.logger.Warnf("No match for path pattern: %s", path)
			continue
		}

		for _, match := range matches {
			expandedPaths = append(expandedPaths, filepath.Join(absBase, match))
		}
	}

	// Validate and sanitize paths
	var finalPaths []string
	seen := map[string]bool{}
	for _, path := range expandedPaths {
		absPath, err := r.pathModifier.AbsPath(path)
		if err != nil {
			r.logger.Warnf("Failed to parse path %s, error: %s", path, err)
			continue
		}

		exists, err := r.pathChecker.IsPathExists(absPath)
		if err != nil {
			r.logger.Warnf("Failed to check path %s, error: %s", absPath, err)
		}
		if !exists {
			r.logger.Warnf("Source path doesn't exist: %s", path)
			continue
		}

		if seen[absPath] {
			continue
		}
		seen[absPath] = true
		finalPaths = append(finalPaths, absPath)
	}

	return finalPaths, nil
}

func splitPaths(sourcePath string) []string {
	var paths []string
	for _, line := range strings.Split(sourcePath, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func fileNameFromURL(rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	name := filepath.Base(parsedURL.Path)
	if name == "." || name == "/" || name == "" {
		return "download", nil
	}
	return name, nil
}
