package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	store, err := New(client, Config{Bucket: "notes-archive"})
	require.NoError(t, err)
	return store
}

// TestPutObjectUploads verifies the multipart upload reaches the bucket.
func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var gotName string
	var gotBody []byte
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName = r.URL.Query().Get("name")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"bucket":"notes-archive","name":"images/ab/abc.png"}`)
	}))

	uri, err := store.PutObject(context.Background(), "images/ab/abc.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, "gs://notes-archive/images/ab/abc.png", uri)
	require.Equal(t, "images/ab/abc.png", gotName)
	require.Contains(t, string(gotBody), "png-bytes")
}

// TestCheckBucketMissing ensures a 404 from the bucket lookup is reported.
func TestCheckBucketMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":404,"message":"Not Found"}}`, http.StatusNotFound)
	}))
	require.ErrorContains(t, store.CheckBucket(context.Background()), "notes-archive")
}

// TestNewValidates checks constructor arguments.
func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client is required")
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket name is required")
}
