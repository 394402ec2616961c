package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	signature []byte
	signed    [][]byte
}

func (s *fakeSigner) Sign(payload []byte) ([]byte, error) {
	s.signed = append(s.signed, payload)
	return s.signature, nil
}

func writeExportTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	exportDir := filepath.Join(root, ExportRoot)
	for rel, content := range files {
		target := filepath.Join(exportDir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
		require.NoError(t, os.WriteFile(target, []byte(content), 0o644))
	}
	return exportDir
}

func TestWriter_RoundTrip(t *testing.T) {
	exportDir := writeExportTree(t, map[string]string{
		"meta.json":              `{"version":"1.0"}`,
		"consumer.json":          `{"uuid":"abc"}`,
		"entitlements/ent1.json": `{"id":"ent1"}`,
	})

	signer := &fakeSigner{signature: []byte("sig-bytes")}
	writer := NewWriter(signer)

	var out bytes.Buffer
	require.NoError(t, writer.Write(exportDir, &out))

	// outer archive carries exactly the inner zip and its signature
	zr, err := zip.NewReader(bytes.NewReader(out.Bytes()), int64(out.Len()))
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names[InnerArchiveName])
	assert.True(t, names[SignatureEntryName])
	require.Len(t, signer.signed, 1)

	// extraction reverses the packaging
	workDir := t.TempDir()
	innerPath, signaturePath, err := Extract(bytes.NewReader(out.Bytes()), workDir)
	require.NoError(t, err)
	assert.NotEmpty(t, signaturePath)

	sig, err := os.ReadFile(signaturePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("sig-bytes"), sig)

	innerDir := t.TempDir()
	extractedExport, err := ExtractInner(innerPath, innerDir)
	require.NoError(t, err)

	meta, err := os.ReadFile(filepath.Join(extractedExport, "meta.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"version":"1.0"}`, string(meta))

	ent, err := os.ReadFile(filepath.Join(extractedExport, "entitlements", "ent1.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"id":"ent1"}`, string(ent))
}

func TestExtract_EmptyInput(t *testing.T) {
	_, _, err := Extract(bytes.NewReader(nil), t.TempDir())

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
}

func TestExtract_NotAZip(t *testing.T) {
	_, _, err := Extract(bytes.NewReader([]byte("not a zip")), t.TempDir())

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
}

func TestExtract_MissingInnerArchive(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("unrelated.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, _, err = Extract(bytes.NewReader(buf.Bytes()), t.TempDir())

	var structuralErr *StructuralError
	require.ErrorAs(t, err, &structuralErr)
}

func TestExtract_MissingSignatureTolerated(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create(InnerArchiveName)
	require.NoError(t, err)
	_, err = entry.Write([]byte("inner"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	innerPath, signaturePath, err := Extract(bytes.NewReader(buf.Bytes()), t.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, innerPath)
	assert.Empty(t, signaturePath)
}

func TestExtract_RejectsPathTraversal(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("../outside.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("escape"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, _, err = Extract(bytes.NewReader(buf.Bytes()), t.TempDir())
	assert.Error(t, err)
}

func TestExtractInner_MissingExportRoot(t *testing.T) {
	innerDir := t.TempDir()
	innerPath := filepath.Join(innerDir, "inner.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("wrong/meta.json")
	require.NoError(t, err)
	_, err = entry.Write([]byte("{}"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(innerPath, buf.Bytes(), 0o644))

	_, err = ExtractInner(innerPath, t.TempDir())

	var structuralErr *StructuralError
	require.ErrorAs(t, err, &structuralErr)
}
