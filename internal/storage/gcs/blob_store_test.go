package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	_, err = New(client, Config{})
	require.Error(t, err)

	s, err := New(client, Config{Bucket: "snapshots", Prefix: "/harvester/"})
	require.NoError(t, err)
	require.Equal(t, "harvester/faults/page.html", s.ObjectName("faults/page.html"))

	_, err = s.PutObject(context.Background(), " ", "text/html", nil)
	require.Error(t, err)
}
