// Package archive implements the EPUB-as-ZIP layer: unzipping an EPUB into a
// working directory, re-zipping a working directory into an EPUB with the
// mimetype entry stored first, and walking a directory for translatable
// XHTML/HTML files.
package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Unzip extracts every entry of the ZIP archive at srcPath into destDir,
// creating parent directories as needed.
func Unzip(srcPath, destDir string) error {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
			continue
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// Zip walks srcDir recursively and writes a fresh ZIP archive to destPath.
// The mimetype entry, if present, is written first with Stored compression
// and permissions 0644; every other file is deflated and keeps the
// permission bits and modification time it has on disk (see
// writeDeflatedEntry), so no fixed mode such as 0755 is applied to it.
func Zip(srcDir, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	entries, err := collectEntries(srcDir)
	if err != nil {
		return err
	}

	mimetypePath := filepath.Join(srcDir, "mimetype")
	for i, e := range entries {
		if e.abs == mimetypePath && !e.isDir {
			if err := writeStoredEntry(zw, e); err != nil {
				return err
			}
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}

	for _, e := range entries {
		if err := writeDeflatedEntry(zw, e); err != nil {
			return err
		}
	}
	return nil
}

type zipEntry struct {
	abs     string
	rel     string
	isDir   bool
	mode    os.FileMode
	modTime time.Time
}

// collectEntries walks srcDir and returns every entry in a deterministic
// (lexicographic) order so repeated runs produce byte-identical archives.
// Each entry's mode and mtime are captured via Lstat so writeDeflatedEntry
// can preserve them instead of hardcoding permissions.
func collectEntries(srcDir string) ([]zipEntry, error) {
	var entries []zipEntry
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		lst, err := os.Lstat(path)
		if err != nil {
			return err
		}
		entries = append(entries, zipEntry{
			abs:     path,
			rel:     rel,
			isDir:   info.IsDir(),
			mode:    lst.Mode(),
			modTime: lst.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return entries, nil
}

func writeStoredEntry(zw *zip.Writer, e zipEntry) error {
	data, err := os.ReadFile(e.abs)
	if err != nil {
		return err
	}
	hdr := &zip.FileHeader{
		Name:   e.rel,
		Method: zip.Store,
	}
	hdr.SetMode(0o644)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// writeDeflatedEntry writes a non-mimetype entry with Deflate compression,
// preserving the source file's POSIX permission bits and modification time
// from collectEntries rather than a fixed mode.
func writeDeflatedEntry(zw *zip.Writer, e zipEntry) error {
	name := e.rel
	if e.isDir {
		name += "/"
	}
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: e.modTime,
	}
	hdr.SetMode(e.mode.Perm())
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	if e.isDir {
		return nil
	}
	data, err := os.ReadFile(e.abs)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// XHTMLFiles walks dir and returns every file whose extension is exactly
// "xhtml" or "html" (case-sensitive), as slash-separated paths relative to
// dir, sorted for deterministic processing.
func XHTMLFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := extWithoutDot(path)
		if ext == "xhtml" || ext == "html" {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func extWithoutDot(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimPrefix(ext, ".")
}
