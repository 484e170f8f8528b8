package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pribylovaa/photostamp-session/internal/clients"
	"github.com/pribylovaa/photostamp-session/internal/models"
	"github.com/pribylovaa/photostamp-session/internal/pkg/sealbox"
	"github.com/pribylovaa/photostamp-session/internal/storage/file"
	"github.com/stretchr/testify/require"
)

type received struct {
	method string
	path   string
	header http.Header
	length int64
	body   string
}

// bucket — поддельное объектное хранилище: запоминает PUT и отвечает status.
func bucket(t *testing.T, status int) (*httptest.Server, func() []received) {
	t.Helper()

	var mu sync.Mutex
	var got []received

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)

		mu.Lock()
		got = append(got, received{
			method: r.Method,
			path:   r.URL.Path,
			header: r.Header.Clone(),
			length: r.ContentLength,
			body:   string(raw),
		})
		mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

// gatewayUploader — Uploader поверх Gateway.Upload() при активной сессии.
func gatewayUploader(t *testing.T) *Uploader {
	t.Helper()

	st, err := file.Open(filepath.Join(t.TempDir(), "session.json"), "pass", sealbox.Params{Time: 1, MemoryKiB: 1024, Threads: 1})
	require.NoError(t, err)
	require.NoError(t, st.SaveCredentials(context.Background(), models.Credentials{AccessToken: "A1", RefreshToken: "R1"}))

	gw, err := clients.New(st, clients.Options{BaseURL: "http://api.invalid"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	return New(gw.Upload())
}

func TestUpload_OK(t *testing.T) {
	t.Parallel()

	srv, got := bucket(t, http.StatusOK)
	u := gatewayUploader(t)

	p := models.PresignedUpload{
		URL:       srv.URL + "/photos/42/a.jpg?X-Amz-Signature=abc",
		Key:       "photos/42/a.jpg",
		ExpiresAt: time.Now().Add(time.Minute),
		Headers:   map[string]string{"Content-Type": "image/jpeg", "Content-Length": "5"},
	}

	require.NoError(t, u.Upload(context.Background(), p, strings.NewReader("hello")))

	reqs := got()
	require.Len(t, reqs, 1)
	require.Equal(t, http.MethodPut, reqs[0].method)
	require.Equal(t, "/photos/42/a.jpg", reqs[0].path)
	require.Equal(t, "image/jpeg", reqs[0].header.Get("Content-Type"))
	require.Equal(t, int64(5), reqs[0].length)
	require.Equal(t, "hello", reqs[0].body)

	// Presigned PUT не несёт bearer-токен сессии.
	require.Empty(t, reqs[0].header.Get("Authorization"))
}

func TestUpload_Expired(t *testing.T) {
	t.Parallel()

	srv, got := bucket(t, http.StatusOK)
	u := New(srv.Client())
	u.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	p := models.PresignedUpload{
		URL:       srv.URL + "/photos/1/x.png",
		ExpiresAt: time.Date(2026, 1, 1, 11, 59, 0, 0, time.UTC),
	}

	err := u.Upload(context.Background(), p, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrPresignExpired)
	require.Empty(t, got())
}

func TestUpload_Rejected(t *testing.T) {
	t.Parallel()

	srv, _ := bucket(t, http.StatusForbidden)
	u := New(srv.Client())

	err := u.Upload(context.Background(), models.PresignedUpload{URL: srv.URL + "/photos/1/x.png"}, strings.NewReader("x"))
	require.Error(t, err)

	var se *clients.StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusForbidden, se.StatusCode)
}

func TestUpload_InvalidPresign(t *testing.T) {
	t.Parallel()

	u := New(nil)

	err := u.Upload(context.Background(), models.PresignedUpload{}, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrInvalidPresign)

	err = u.Upload(context.Background(), models.PresignedUpload{
		URL:     "http://127.0.0.1:1/x",
		Headers: map[string]string{"Content-Length": "many"},
	}, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrInvalidPresign)
}

func TestUploadFile(t *testing.T) {
	t.Parallel()

	srv, got := bucket(t, http.StatusOK)
	u := gatewayUploader(t)

	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0o600))

	headers := map[string]string{"Content-Type": "image/jpeg"}
	p := models.PresignedUpload{URL: srv.URL + "/photos/42/b.jpg", Headers: headers}

	require.NoError(t, u.UploadFile(context.Background(), p, path))

	reqs := got()
	require.Len(t, reqs, 1)
	require.Equal(t, int64(len("jpeg-bytes")), reqs[0].length)
	require.Equal(t, "jpeg-bytes", reqs[0].body)

	// Заголовки вызывающего не меняются.
	require.Len(t, headers, 1)

	err := u.UploadFile(context.Background(), p, filepath.Join(t.TempDir(), "missing.jpg"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
