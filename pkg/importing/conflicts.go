package importing

import (
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Conflict detection is pure: each check returns the conflicts it found and
// the orchestrator decides, once every check has run, whether anything
// unauthorized remains.

// ValidateMetadata compares the manifest's created timestamp against the
// owner's last import watermark. Timestamps are compared at second
// granularity; sub-second fractions are dropped on both sides.
func ValidateMetadata(meta *models.Meta, lastImport *models.ExportMetadata) []models.Conflict {
	if lastImport == nil {
		return nil
	}

	created := meta.Created.Truncate(time.Second)
	exported := lastImport.Exported.Truncate(time.Second)

	switch {
	case created.Before(exported):
		return []models.Conflict{{
			Kind:    models.ConflictManifestOld,
			Message: fmt.Sprintf("import is older than existing data: manifest created %s, last import %s", created.UTC().Format(time.RFC3339), exported.UTC().Format(time.RFC3339)),
		}}
	case created.Equal(exported):
		return []models.Conflict{{
			Kind:    models.ConflictManifestSame,
			Message: "import is the same as existing data",
		}}
	default:
		return nil
	}
}

// CheckDistributor flags a manifest produced by a different distributor than
// the one currently bound to the owner.
func CheckDistributor(current *models.UpstreamConsumer, manifestUUID string) []models.Conflict {
	if current == nil || current.UUID == manifestUUID {
		return nil
	}
	return []models.Conflict{{
		Kind:    models.ConflictDistributor,
		Message: fmt.Sprintf("owner is already bound to distributor %s; manifest was produced by %s", current.UUID, manifestUUID),
	}}
}

// SignatureConflict wraps a failed signature verification as a conflict.
func SignatureConflict(err error) []models.Conflict {
	if err == nil {
		return nil
	}
	return []models.Conflict{{
		Kind:    models.ConflictSignature,
		Message: fmt.Sprintf("manifest signature could not be verified: %v", err),
	}}
}

// FilterForced splits conflicts into those the caller authorized to bypass
// and those still blocking the import.
func FilterForced(conflicts []models.Conflict, overrides models.ConflictOverrides) (remaining, forced []models.Conflict) {
	for _, c := range conflicts {
		if overrides.IsForced(c.Kind) {
			forced = append(forced, c)
		} else {
			remaining = append(remaining, c)
		}
	}
	return remaining, forced
}
