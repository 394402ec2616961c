package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Signer produces the detached signature written next to the inner archive.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
}

// Writer packages an export directory tree into the signed manifest format:
// an outer zip holding the inner consumer export zip plus its detached
// signature.
type Writer struct {
	signer Signer
}

func NewWriter(signer Signer) *Writer {
	return &Writer{signer: signer}
}

// Write zips exportDir (which must contain the export/ tree), signs the inner
// archive bytes and writes the outer archive to out.
func (w *Writer) Write(exportDir string, out io.Writer) error {
	inner, err := zipDirectory(exportDir)
	if err != nil {
		return fmt.Errorf("failed to build inner archive: %w", err)
	}

	signature, err := w.signer.Sign(inner)
	if err != nil {
		return fmt.Errorf("failed to sign inner archive: %w", err)
	}

	outer := zip.NewWriter(out)

	entry, err := outer.Create(InnerArchiveName)
	if err != nil {
		return fmt.Errorf("failed to create %s entry: %w", InnerArchiveName, err)
	}
	if _, err := entry.Write(inner); err != nil {
		return fmt.Errorf("failed to write %s entry: %w", InnerArchiveName, err)
	}

	entry, err = outer.Create(SignatureEntryName)
	if err != nil {
		return fmt.Errorf("failed to create signature entry: %w", err)
	}
	if _, err := entry.Write(signature); err != nil {
		return fmt.Errorf("failed to write signature entry: %w", err)
	}

	return outer.Close()
}

// zipDirectory zips every regular file under root, storing paths relative to
// root's parent so the export/ prefix is preserved.
func zipDirectory(root string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	base := filepath.Dir(filepath.Clean(root))
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}

		entry, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(entry, f)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MakeTempDir creates a scratch directory under baseDir (or the system temp
// dir when blank) for one import or export operation. Callers must remove it
// on every exit path.
func MakeTempDir(baseDir, prefix string) (string, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create work dir %s: %w", baseDir, err)
		}
	}
	dir, err := os.MkdirTemp(baseDir, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	return dir, nil
}

func sanitizeEntryName(name string) (string, error) {
	clean := filepath.FromSlash(name)
	if strings.Contains(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("archive entry %q escapes extraction root", name)
	}
	return clean, nil
}
