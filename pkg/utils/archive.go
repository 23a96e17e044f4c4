package utils

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BundlePrefix starts the file name of every output bundle.
const BundlePrefix = "classificados_"

// UnpackDocuments extracts the .xml entries of archive into dest, flattened
// to their base names with UniquePath. Entry paths are never joined to dest,
// so names like ../../x.xml cannot escape it.
//
// RETURNS:
//   - The extracted document paths, even when a later entry fails.
//   - An error if the archive cannot be opened or an entry cannot be written.
func UnpackDocuments(archive, dest string) ([]string, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", filepath.Base(archive), err)
	}
	defer r.Close()

	var out []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(strings.ReplaceAll(f.Name, "\\", "/"))
		if name == "." || name == ".." || name == "/" || !strings.EqualFold(path.Ext(name), DocumentExt) {
			continue
		}

		dst, err := UniquePath(dest, name)
		if err != nil {
			return out, err
		}
		if err := extractEntry(f, dst); err != nil {
			return out, fmt.Errorf("failed to extract %s from %s: %w", f.Name, filepath.Base(archive), err)
		}
		out = append(out, dst)
	}
	return out, nil
}

func extractEntry(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		os.Remove(dst)
		return err
	}
	return w.Close()
}

// BundleName returns <dir>/classificados_<8 hex>.zip.
func BundleName(dir string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return filepath.Join(dir, BundlePrefix+id[:8]+".zip")
}

// BundleDir writes every file and folder below srcDir into a new zip at
// zipPath. Entry names are relative to srcDir and use forward slashes.
func BundleDir(srcDir, zipPath string) (err error) {
	out, err := os.OpenFile(zipPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create bundle: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close bundle: %w", cerr)
		}
		if err != nil {
			os.Remove(zipPath)
		}
	}()

	zw := zip.NewWriter(out)
	walkErr := filepath.Walk(srcDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil || rel == "." {
			return err
		}
		name := filepath.ToSlash(rel)

		if info.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if walkErr != nil {
		zw.Close()
		return fmt.Errorf("failed to bundle %s: %w", srcDir, walkErr)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish bundle: %w", err)
	}
	return nil
}
