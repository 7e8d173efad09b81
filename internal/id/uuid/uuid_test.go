package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/harvest"
)

var _ harvest.IDGenerator = (*Generator)(nil)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
	require.Less(t, id1, id2, "v7 ids sort by creation time")
}

func TestNewRequestID(t *testing.T) {
	t.Parallel()

	id, err := goUUID.Parse(NewRequestID())
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(4), id.Version())
}
