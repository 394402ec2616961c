package models

import "fmt"

// ConflictKind names one overridable import conflict.
type ConflictKind string

const (
	ConflictManifestOld        ConflictKind = "MANIFEST_OLD"
	ConflictManifestSame       ConflictKind = "MANIFEST_SAME"
	ConflictDistributor        ConflictKind = "DISTRIBUTOR_CONFLICT"
	ConflictSignature          ConflictKind = "SIGNATURE_CONFLICT"
)

// Conflict is one detected import conflict with its operator-facing message.
type Conflict struct {
	Kind    ConflictKind `json:"kind"`
	Message string       `json:"message"`
}

// ConflictOverrides is an immutable set of conflict kinds the caller has
// explicitly authorized to be bypassed.
type ConflictOverrides struct {
	kinds map[ConflictKind]struct{}
}

// NewConflictOverrides builds an override set from known conflict kinds.
func NewConflictOverrides(kinds ...ConflictKind) ConflictOverrides {
	set := make(map[ConflictKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return ConflictOverrides{kinds: set}
}

// ParseConflictOverrides parses caller-supplied override tokens. An
// unrecognized token is a hard input-validation failure.
func ParseConflictOverrides(tokens []string) (ConflictOverrides, error) {
	set := make(map[ConflictKind]struct{}, len(tokens))
	for _, t := range tokens {
		switch kind := ConflictKind(t); kind {
		case ConflictManifestOld, ConflictManifestSame, ConflictDistributor, ConflictSignature:
			set[kind] = struct{}{}
		default:
			return ConflictOverrides{}, fmt.Errorf("unknown conflict override %q", t)
		}
	}
	return ConflictOverrides{kinds: set}, nil
}

// IsForced reports whether the caller authorized bypassing the given kind.
func (o ConflictOverrides) IsForced(kind ConflictKind) bool {
	_, ok := o.kinds[kind]
	return ok
}

// IsEmpty reports whether no overrides were supplied.
func (o ConflictOverrides) IsEmpty() bool {
	return len(o.kinds) == 0
}

// Kinds returns the authorized kinds in no particular order.
func (o ConflictOverrides) Kinds() []ConflictKind {
	out := make([]ConflictKind, 0, len(o.kinds))
	for k := range o.kinds {
		out = append(out, k)
	}
	return out
}
