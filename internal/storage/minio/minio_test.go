package minio

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pribylovaa/photostamp-session/internal/config"
	"github.com/pribylovaa/photostamp-session/internal/storage"
	"github.com/stretchr/testify/require"
)

// С явным Region подпись строится локально, без обращения к серверу.
func offlinePresigner(t *testing.T) *Presigner {
	t.Helper()

	client, err := newClient(config.S3Config{
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "root",
		SecretKey: "rootpass",
		Region:    "us-east-1",
	})
	require.NoError(t, err)

	p := newPresigner(client, "photos", 2*time.Minute)
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return p
}

func TestPresignUpload_OK(t *testing.T) {
	t.Parallel()

	p := offlinePresigner(t)

	up, err := p.PresignUpload(context.Background(), 42, "image/png", 1024)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(up.Key, "photos/42/"))
	require.True(t, strings.HasSuffix(up.Key, ".png"))
	require.Equal(t, time.Date(2026, 1, 2, 3, 6, 5, 0, time.UTC), up.ExpiresAt)
	require.Equal(t, "image/png", up.Headers["Content-Type"])
	require.Equal(t, "1024", up.Headers["Content-Length"])

	u, err := url.Parse(up.URL)
	require.NoError(t, err)
	require.Equal(t, "http", u.Scheme)
	require.Equal(t, "127.0.0.1:9000", u.Host)
	require.Equal(t, "/photos/"+up.Key, u.Path)
	require.Equal(t, "120", u.Query().Get("X-Amz-Expires"))
	require.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestPresignUpload_KeysAreUnique(t *testing.T) {
	t.Parallel()

	p := offlinePresigner(t)

	a, err := p.PresignUpload(context.Background(), 1, "image/jpeg", 10)
	require.NoError(t, err)
	b, err := p.PresignUpload(context.Background(), 1, "image/jpeg", 10)
	require.NoError(t, err)
	require.NotEqual(t, a.Key, b.Key)
}

func TestPresignUpload_Validation(t *testing.T) {
	t.Parallel()

	p := offlinePresigner(t)

	tests := []struct {
		name        string
		userID      int64
		contentType string
		size        int64
	}{
		{name: "zero_user", userID: 0, contentType: "image/png", size: 1},
		{name: "zero_size", userID: 1, contentType: "image/png", size: 0},
		{name: "too_large", userID: 1, contentType: "image/png", size: MaxUploadBytes + 1},
		{name: "bad_type", userID: 1, contentType: "text/plain", size: 1},
	}

	for _, tt := range tests {
		_, err := p.PresignUpload(context.Background(), tt.userID, tt.contentType, tt.size)
		require.ErrorIs(t, err, storage.ErrInvalidArgument, tt.name)
	}
}
