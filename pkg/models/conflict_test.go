package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConflictOverrides(t *testing.T) {
	t.Run("known tokens", func(t *testing.T) {
		overrides, err := ParseConflictOverrides([]string{"MANIFEST_OLD", "SIGNATURE_CONFLICT"})

		require.NoError(t, err)
		assert.True(t, overrides.IsForced(ConflictManifestOld))
		assert.True(t, overrides.IsForced(ConflictSignature))
		assert.False(t, overrides.IsForced(ConflictDistributor))
		assert.ElementsMatch(t, []ConflictKind{ConflictManifestOld, ConflictSignature}, overrides.Kinds())
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := ParseConflictOverrides([]string{"MANIFEST_OLD", "WHATEVER"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "WHATEVER")
	})

	t.Run("empty input", func(t *testing.T) {
		overrides, err := ParseConflictOverrides(nil)

		require.NoError(t, err)
		assert.True(t, overrides.IsEmpty())
		assert.Empty(t, overrides.Kinds())
	})
}
