package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptyArchive means extraction produced nothing usable: the archive
	// had no entries, or every entry was rejected.
	ErrEmptyArchive = errors.New("archive is empty or corrupt")
)

// Extractor unpacks uploaded archives into a scratch directory.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract unpacks the zip at archivePath into destDir. Entries whose
// resolved path would escape destDir are skipped, not fatal: a hostile entry
// must not poison the rest of the upload. Parent directories are created as
// needed, so directory entries are optional in the archive.
func (e *Extractor) Extract(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}

	extracted := 0
	for _, f := range reader.File {
		target, ok := resolveWithin(destDir, f.Name)
		if !ok {
			e.logger.Warn("skipping traversal entry in archive", "entry", f.Name, "archive", archivePath)
			continue
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
		extracted++
	}

	if extracted == 0 {
		return ErrEmptyArchive
	}
	e.logger.Info("archive extracted", "archive", archivePath, "dest", destDir, "files", extracted)
	return nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %q: %w", f.Name, err)
	}
	defer func() {
		_ = src.Close()
	}()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create extracted file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("extract entry %q: %w", f.Name, err)
	}
	return dst.Close()
}

// resolveWithin joins name onto root and reports whether the cleaned result
// still lives under root.
func resolveWithin(root, name string) (string, bool) {
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return target, true
}

// EffectiveRoot returns the directory callers should treat as the
// repository root. Archives commonly wrap their content in a single
// top-level folder; when that is the only entry, the inner directory is the
// real root.
func EffectiveRoot(extractDir string) (string, error) {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return "", fmt.Errorf("read extraction dir: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(extractDir, entries[0].Name()), nil
	}
	return extractDir, nil
}
