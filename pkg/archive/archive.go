package archive

import (
	"fmt"
)

const (
	// InnerArchiveName is the nested zip holding the export tree.
	InnerArchiveName = "consumer_export.zip"
	// SignatureEntryName is the detached signature entry in the outer zip.
	SignatureEntryName = "signature"
	// ExportRoot is the top-level directory inside the inner archive.
	ExportRoot = "export"
)

// ExtractionError signals corrupt or empty archive input.
type ExtractionError struct {
	Msg string
	Err error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// StructuralError signals a well-formed zip that is missing a required part,
// such as the inner consumer export. Distinct from a signature failure.
type StructuralError struct {
	Msg string
}

func (e *StructuralError) Error() string {
	return e.Msg
}
