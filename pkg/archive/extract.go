package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// Extract unpacks the outer manifest zip into destDir. It returns the paths
// of the extracted inner archive and signature file. A missing signature is
// tolerated here; the verification policy decides what that means.
func Extract(in io.Reader, destDir string) (innerPath string, signaturePath string, err error) {
	raw, err := io.ReadAll(in)
	if err != nil {
		return "", "", &ExtractionError{Msg: "failed to read archive", Err: err}
	}
	if len(raw) == 0 {
		return "", "", &ExtractionError{Msg: "archive is empty"}
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", "", &ExtractionError{Msg: "archive is not a valid zip", Err: err}
	}

	if err := extractAll(zr, destDir); err != nil {
		return "", "", err
	}

	innerPath = filepath.Join(destDir, InnerArchiveName)
	if _, err := os.Stat(innerPath); err != nil {
		return "", "", &StructuralError{Msg: "archive does not contain " + InnerArchiveName}
	}

	signaturePath = filepath.Join(destDir, SignatureEntryName)
	if _, err := os.Stat(signaturePath); err != nil {
		signaturePath = ""
	}

	return innerPath, signaturePath, nil
}

// ExtractInner unpacks the inner consumer export zip into destDir and returns
// the path of the export/ tree root.
func ExtractInner(innerPath, destDir string) (string, error) {
	zr, err := zip.OpenReader(innerPath)
	if err != nil {
		return "", &ExtractionError{Msg: "inner archive is not a valid zip", Err: err}
	}
	defer zr.Close()

	if err := extractAll(&zr.Reader, destDir); err != nil {
		return "", err
	}

	exportDir := filepath.Join(destDir, ExportRoot)
	if info, err := os.Stat(exportDir); err != nil || !info.IsDir() {
		return "", &StructuralError{Msg: "inner archive does not contain an " + ExportRoot + " directory"}
	}
	return exportDir, nil
}

func extractAll(zr *zip.Reader, destDir string) error {
	for _, f := range zr.File {
		name, err := sanitizeEntryName(f.Name)
		if err != nil {
			return &ExtractionError{Msg: "unsafe archive entry", Err: err}
		}

		target := filepath.Join(destDir, name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &ExtractionError{Msg: "failed to create directory " + name, Err: err}
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return &ExtractionError{Msg: "failed to create directory for " + name, Err: err}
		}

		if err := extractFile(f, target); err != nil {
			return &ExtractionError{Msg: "failed to extract " + name, Err: err}
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
