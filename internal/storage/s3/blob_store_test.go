package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
)

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	api := &fakeObjectAPI{}
	s, err := New(api, Config{Bucket: "snapshots", Prefix: "harvester/"})
	require.NoError(t, err)

	uri, err := s.PutObject(context.Background(), "faults/run/page-0002.html", "text/html", strings.NewReader("<html/>"))
	require.NoError(t, err)
	require.Equal(t, "s3://snapshots/harvester/faults/run/page-0002.html", uri)
	require.Equal(t, "harvester/faults/run/page-0002.html", api.key)
	require.Equal(t, "<html/>", api.body)
	require.EqualValues(t, 7, api.size)
	require.Equal(t, "text/html", api.opts.ContentType)
}

func TestPutObjectWrapsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("denied")
	s, err := New(&fakeObjectAPI{putErr: boom}, Config{Bucket: "b"})
	require.NoError(t, err)

	_, err = s.PutObject(context.Background(), "k", "text/html", strings.NewReader("x"))
	require.ErrorIs(t, err, boom)

	_, err = s.PutObject(context.Background(), "", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}

func TestEnsureBucket(t *testing.T) {
	t.Parallel()

	api := &fakeObjectAPI{}
	s, err := New(api, Config{Bucket: "b", Region: "ap-northeast-1"})
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(context.Background()))
	require.Equal(t, "ap-northeast-1", api.madeRegion)

	api = &fakeObjectAPI{exists: true}
	s, err = New(api, Config{Bucket: "b"})
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(context.Background()))
	require.Empty(t, api.madeRegion)
	require.False(t, api.made)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(&fakeObjectAPI{}, Config{})
	require.Error(t, err)
	_, err = NewClient(Config{Endpoint: "localhost:9000"})
	require.Error(t, err)

	client, err := NewClient(Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"})
	require.NoError(t, err)
	require.NotNil(t, client)
}

type fakeObjectAPI struct {
	exists     bool
	made       bool
	madeRegion string
	putErr     error
	key        string
	body       string
	size       int64
	opts       minio.PutObjectOptions
}

func (f *fakeObjectAPI) BucketExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeObjectAPI) MakeBucket(_ context.Context, _ string, opts minio.MakeBucketOptions) error {
	f.made = true
	f.madeRegion = opts.Region
	return nil
}

func (f *fakeObjectAPI) PutObject(
	_ context.Context,
	_, objectName string,
	reader io.Reader,
	objectSize int64,
	opts minio.PutObjectOptions,
) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	b, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.key = objectName
	f.body = string(b)
	f.size = objectSize
	f.opts = opts
	return minio.UploadInfo{Bucket: "b", Key: objectName, Size: objectSize}, nil
}
