// =============================================================================
// NF-e Supplier Classifier - File Manager Utility
// =============================================================================
//
// This module provides the file plumbing around a classification run:
//   - Input discovery (archives and loose XML documents, recursive)
//   - Staging (every document copied or unpacked into a run-scoped folder)
//   - Archive unpack and bundle (see archive.go)
//   - Retention of old bundles
//
// STAGING STRATEGY:
//   - The input directory is never modified
//   - Documents are staged flat, keeping their base name
//   - A name already present in the staging folder gets a _1, _2, ... suffix
//   - An unreadable archive is reported and skipped, the rest of the run goes on
//
// =============================================================================

package utils

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File extensions recognized in the input directory.
const (
	ArchiveExt  = ".zip"
	DocumentExt = ".xml"
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles the input side of a run.
type FileManager struct {
	// InputDir is the directory scanned for archives and documents.
	InputDir string

	// StagingDir receives the staged documents. It is owned by the run.
	StagingDir string
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(inputDir, stagingDir string) *FileManager {
	return &FileManager{
		InputDir:   inputDir,
		StagingDir: stagingDir,
	}
}

// Inputs is the result of a discovery scan.
type Inputs struct {
	Archives  []string
	Documents []string
}

// Empty reports whether nothing usable was found.
func (in Inputs) Empty() bool {
	return len(in.Archives) == 0 && len(in.Documents) == 0
}

// FailedFileInfo describes an input that could not be staged.
type FailedFileInfo struct {
	InputFile    string
	ErrorMessage string
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// Discover scans InputDir recursively for .zip archives and .xml documents.
// Extensions are matched case-insensitively.
//
// RETURNS:
//   - The archives and documents found, in walk order.
//   - An error if the directory cannot be read.
func (fm *FileManager) Discover() (Inputs, error) {
	var in Inputs

	err := filepath.WalkDir(fm.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if fm.StagingDir != "" && path == fm.StagingDir {
				return filepath.SkipDir
			}
			return nil
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ArchiveExt:
			in.Archives = append(in.Archives, path)
		case DocumentExt:
			in.Documents = append(in.Documents, path)
		}
		return nil
	})
	if err != nil {
		return Inputs{}, fmt.Errorf("failed to walk input directory: %w", err)
	}

	return in, nil
}

// =============================================================================
// STAGING
// =============================================================================

// Stage copies every document and unpacks every archive of in into
// StagingDir.
//
// RETURNS:
//   - The staged document paths.
//   - The inputs that could not be staged.
//   - An error only if the staging folder itself cannot be used.
func (fm *FileManager) Stage(in Inputs) ([]string, []FailedFileInfo, error) {
	if err := os.MkdirAll(fm.StagingDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	var staged []string
	var failed []FailedFileInfo

	for _, archive := range in.Archives {
		docs, err := UnpackDocuments(archive, fm.StagingDir)
		staged = append(staged, docs...)
		if err != nil {
			failed = append(failed, FailedFileInfo{InputFile: archive, ErrorMessage: err.Error()})
		}
	}

	for _, doc := range in.Documents {
		dst, err := UniquePath(fm.StagingDir, filepath.Base(doc))
		if err == nil {
			err = copyFile(doc, dst)
		}
		if err != nil {
			failed = append(failed, FailedFileInfo{InputFile: doc, ErrorMessage: err.Error()})
			continue
		}
		staged = append(staged, dst)
	}

	return staged, failed, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// UniquePath returns dir/name, or dir/<stem>_<n><ext> for the first n that is
// not taken.
func UniquePath(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	if !FileExists(candidate) {
		return candidate, nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; i < 1_000_000; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if !FileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}

// copyFile copies a file from src to dst. dst must not exist.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	return destFile.Sync()
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Lstat(path)
	return !os.IsNotExist(err)
}

// CleanOldArchives removes bundle files older than maxAge from archiveDir.
//
// PARAMETERS:
//   - archiveDir: The directory holding finished bundles.
//   - maxAge: The maximum age of files to keep. Zero or less keeps everything.
//
// RETURNS:
//   - The number of files removed.
//   - An error if cleaning fails.
func CleanOldArchives(archiveDir string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to clean archives: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(archiveDir, e.Name())); err != nil {
				return removed, fmt.Errorf("failed to clean archives: %w", err)
			}
			removed++
		}
	}

	return removed, nil
}
