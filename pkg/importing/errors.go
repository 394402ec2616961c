package importing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ConflictError aggregates every overridable conflict detected during one
// import pass. The caller can resubmit with overrides for the listed kinds.
type ConflictError struct {
	Conflicts []models.Conflict
}

func (e *ConflictError) Error() string {
	msgs := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		msgs[i] = c.Message
	}
	return "import conflicts: " + strings.Join(msgs, "; ")
}

// Kinds returns the distinct conflict kinds present.
func (e *ConflictError) Kinds() []models.ConflictKind {
	seen := make(map[models.ConflictKind]struct{})
	var kinds []models.ConflictKind
	for _, c := range e.Conflicts {
		if _, ok := seen[c.Kind]; !ok {
			seen[c.Kind] = struct{}{}
			kinds = append(kinds, c.Kind)
		}
	}
	return kinds
}

// DataFormatError signals malformed or inadmissible manifest data. Never
// overridable.
type DataFormatError struct {
	Msg string
	Err error
}

func (e *DataFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *DataFormatError) Unwrap() error {
	return e.Err
}

func newDataFormatErrorf(format string, args ...any) *DataFormatError {
	return &DataFormatError{Msg: fmt.Sprintf(format, args...)}
}

// AsConflictError unwraps err into a ConflictError if it is one.
func AsConflictError(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// AsDataFormatError unwraps err into a DataFormatError if it is one.
func AsDataFormatError(err error) (*DataFormatError, bool) {
	var de *DataFormatError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
