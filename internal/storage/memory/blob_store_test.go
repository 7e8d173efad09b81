package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	payload := []byte("<html></html>")
	uri, err := s.PutObject(context.Background(), "faults/run/page-2.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://faults/run/page-2.html", uri)

	payload[0] = 'X'
	got, ct, ok := s.Object("faults/run/page-2.html")
	require.True(t, ok)
	require.Equal(t, "<html></html>", string(got))
	require.Equal(t, "text/html", ct)
	require.Equal(t, []string{"faults/run/page-2.html"}, s.Paths())

	_, _, ok = s.Object("missing")
	require.False(t, ok)
}
