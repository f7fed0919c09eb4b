package processor

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extraction is a scoped, extracted archive. Close removes the whole
// temporary tree; callers must always call it, on every exit path.
type Extraction struct {
	// Root is the temporary directory owned by this extraction.
	Root string
	// Dir is the directory the analysis engine should read. When the archive
	// contains a single top-level directory this is that directory,
	// otherwise it equals Root.
	Dir string
}

// Close deletes the extraction's temporary tree.
func (e *Extraction) Close() error {
	if e == nil || e.Root == "" {
		return nil
	}
	return os.RemoveAll(e.Root)
}

// Extractor unpacks an uploaded archive into a scoped temporary directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, workDir string) (*Extraction, error)
}

// TarExtractor extracts tar archives, gzip-compressed or plain, into a fresh
// temporary directory under the configured work dir.
type TarExtractor struct{}

// Extract unpacks archivePath. The context bounds the whole operation; it is
// checked between archive entries so a timeout cannot be stalled by a large
// archive. Entry paths are confined to the temporary directory.
func (TarExtractor) Extract(ctx context.Context, archivePath, workDir string) (*Extraction, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(archivePath, ".gz") || strings.HasSuffix(archivePath, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	if workDir != "" {
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			return nil, fmt.Errorf("create extraction work dir: %w", err)
		}
	}
	root, err := os.MkdirTemp(workDir, "insights-extract-")
	if err != nil {
		return nil, fmt.Errorf("create extraction dir: %w", err)
	}

	if err := untar(ctx, reader, root); err != nil {
		os.RemoveAll(root)
		return nil, err
	}

	return &Extraction{Root: root, Dir: contentDir(root)}, nil
}

func untar(ctx context.Context, r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("extraction interrupted: %w", err)
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive entry: %w", err)
		}

		target, err := securePath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent of %s: %w", hdr.Name, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("create file %s: %w", hdr.Name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("write file %s: %w", hdr.Name, err)
			}
			out.Close()
		default:
			// Symlinks and special files are dropped; diagnostic archives
			// only carry regular files and directories.
		}
	}
}

// securePath joins name under dest and rejects entries that escape it.
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction dir", name)
	}
	return target, nil
}

// contentDir returns the single top-level directory of an extraction when
// there is exactly one, otherwise the extraction root itself.
func contentDir(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return root
	}
	return filepath.Join(root, entries[0].Name())
}
