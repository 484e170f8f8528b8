package roundtrippers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/pribylovaa/photostamp-session/internal/models"
	"github.com/pribylovaa/photostamp-session/internal/pkg/log"
	"github.com/pribylovaa/photostamp-session/internal/pkg/sealbox"
	"github.com/pribylovaa/photostamp-session/internal/storage"
	"github.com/pribylovaa/photostamp-session/internal/storage/file"
	"github.com/pribylovaa/photostamp-session/mocks"
	"github.com/stretchr/testify/require"
)

// capHandler — минимальный slog.Handler для захвата последней записи
// и всех атрибутов.
type capHandler struct {
	base    []slog.Attr
	lastMsg string
	lastLvl slog.Level
	attrs   map[string]any
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)
	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})
	h.lastMsg = r.Message
	h.lastLvl = r.Level
	h.attrs = out
	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.base = append(h.base, attrs...)
	return h
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

var testParams = sealbox.Params{Time: 1, MemoryKiB: 1024, Threads: 1}

// newStore — настоящее файловое хранилище во временном каталоге.
func newStore(t *testing.T) *file.Store {
	t.Helper()

	st, err := file.Open(filepath.Join(t.TempDir(), "session.json"), "pass", testParams)
	require.NoError(t, err)
	return st
}

// okResponse — ответ 200 без сети.
func okResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     make(http.Header),
		Request:    req,
	}
}

func TestChain_Order(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) Middleware {
		return func(next http.RoundTripper) http.RoundTripper {
			return Func(func(req *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.RoundTrip(req)
			})
		}
	}

	base := Func(func(req *http.Request) (*http.Response, error) {
		order = append(order, "base")
		return okResponse(req), nil
	})

	rt := Chain(base, mw("outer"), mw("inner"))
	req := httptest.NewRequest(http.MethodGet, "http://api.test/photos", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.Equal(t, []string{"outer", "inner", "base"}, order)
}

func TestIsPublic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want bool
	}{
		{url: "http://api.test/auth/social-login", want: true},
		{url: "http://api.test/auth/refresh", want: true},
		{url: "http://api.test/api/v1/auth/refresh/", want: true},
		{url: "http://api.test/auth/logout", want: false},
		{url: "http://api.test/auth/nickname", want: false},
		{url: "http://api.test/photos", want: false},
		{url: "http://api.test/auth/refresh-all", want: false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, tt.url, nil)
		require.Equal(t, tt.want, IsPublic(req), tt.url)
	}

	require.False(t, IsPublic(nil))
}

func TestAuthenticator(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	var seen string
	base := Func(func(req *http.Request) (*http.Response, error) {
		seen = req.Header.Get(HeaderAuthorization)
		return okResponse(req), nil
	})
	rt := Chain(base, Authenticator(st))

	do := func(url string) {
		req := httptest.NewRequest(http.MethodPost, url, nil)
		resp, err := rt.RoundTrip(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Empty(t, req.Header.Get(HeaderAuthorization), "original request must not be modified")
	}

	// Не залогинен — без заголовка.
	do("http://api.test/photos")
	require.Empty(t, seen)

	require.NoError(t, st.SaveCredentials(ctx, models.Credentials{AccessToken: "A1", RefreshToken: "R1"}))

	do("http://api.test/photos")
	require.Equal(t, "Bearer A1", seen)

	// Allow-list — без заголовка даже при наличии токена.
	do("http://api.test/auth/refresh")
	require.Empty(t, seen)
	do("http://api.test/auth/social-login")
	require.Empty(t, seen)
}

func TestAuthenticator_LogsRedactedBearer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)
	require.NoError(t, st.SaveCredentials(ctx, models.Credentials{AccessToken: "secret-access-token", RefreshToken: "R1"}))

	h := &capHandler{}
	rt := Chain(Func(func(req *http.Request) (*http.Response, error) {
		return okResponse(req), nil
	}), Authenticator(st))

	req := httptest.NewRequest(http.MethodGet, "http://api.test/photos", nil)
	req = req.WithContext(log.Into(req.Context(), slog.New(h)))

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.Equal(t, "bearer_attached", h.lastMsg)
	require.Equal(t, slog.LevelDebug, h.lastLvl)
	require.Equal(t, "Bearer secr***", h.attrs["authorization"])
}

func TestAuthenticator_StorageError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	st := mocks.NewMockCredentialStore(ctrl)
	st.EXPECT().Credentials(gomock.Any()).Return(models.Credentials{}, false, storage.Wrap("test", errors.New("disk gone")))

	called := false
	rt := Chain(Func(func(req *http.Request) (*http.Response, error) {
		called = true
		return okResponse(req), nil
	}), Authenticator(st))

	_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://api.test/photos", nil))
	require.True(t, storage.IsStorageError(err))
	require.False(t, called)
}

func TestMetadata(t *testing.T) {
	t.Parallel()

	var got http.Header
	rt := Chain(Func(func(req *http.Request) (*http.Response, error) {
		got = req.Header.Clone()
		return okResponse(req), nil
	}), Metadata("ps-test/1"))

	req := httptest.NewRequest(http.MethodGet, "http://api.test/photos", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	_, err = uuid.Parse(got.Get(HeaderRequestID))
	require.NoError(t, err)
	require.Equal(t, "ps-test/1", got.Get(HeaderUserAgent))
	require.Empty(t, req.Header.Get(HeaderRequestID))

	// Существующий id сохраняется.
	req = httptest.NewRequest(http.MethodGet, "http://api.test/photos", nil)
	req.Header.Set(HeaderRequestID, "rid-1")
	resp, err = rt.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, "rid-1", got.Get(HeaderRequestID))
}

func TestLogging_WritesOneRecord(t *testing.T) {
	t.Parallel()

	h := &capHandler{}
	rt := Chain(Func(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusCreated, Body: http.NoBody, Request: req}, nil
	}), Logging(slog.New(h)))

	req := httptest.NewRequest(http.MethodPut, "http://s3.test/bucket/key?X-Amz-Signature=secret", nil)
	req.Header.Set(HeaderRequestID, "rid-7")
	_, err := rt.RoundTrip(req)
	require.NoError(t, err)

	require.Equal(t, "http", h.lastMsg)
	require.Equal(t, slog.LevelInfo, h.lastLvl)
	require.Equal(t, "rid-7", h.attrs["request_id"])
	require.Equal(t, http.MethodPut, h.attrs["method"])
	require.Equal(t, int64(http.StatusCreated), h.attrs["status"])
	require.NotContains(t, h.attrs["url"], "secret")
	_, ok := h.attrs["dur"].(time.Duration)
	require.True(t, ok)
}

func TestLogging_Failure(t *testing.T) {
	t.Parallel()

	h := &capHandler{}
	rt := Chain(Func(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}), Logging(slog.New(h)))

	_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://api.test/photos", nil))
	require.Error(t, err)
	require.Equal(t, "http_failed", h.lastMsg)
	require.Equal(t, slog.LevelWarn, h.lastLvl)
	require.Equal(t, "-", h.attrs["request_id"])
	require.Equal(t, "connection refused", h.attrs["err"])
}

func TestTimeout_DeadlineLivesUntilBodyClose(t *testing.T) {
	t.Parallel()

	var inner context.Context
	rt := Chain(Func(func(req *http.Request) (*http.Response, error) {
		inner = req.Context()
		return okResponse(req), nil
	}), Timeout(time.Minute))

	resp, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://api.test/photos", nil))
	require.NoError(t, err)

	_, ok := inner.Deadline()
	require.True(t, ok)
	require.NoError(t, inner.Err())

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))

	require.NoError(t, resp.Body.Close())
	require.ErrorIs(t, inner.Err(), context.Canceled)
}

func TestTimeout_Expires(t *testing.T) {
	t.Parallel()

	rt := Chain(Func(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}), Timeout(20*time.Millisecond))

	start := time.Now()
	_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://api.test/photos", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTimeout_DoesNotOverrideExistingDeadline(t *testing.T) {
	t.Parallel()

	want := time.Now().Add(time.Hour)
	ctx, cancel := context.WithDeadline(context.Background(), want)
	defer cancel()

	var got time.Time
	rt := Chain(Func(func(req *http.Request) (*http.Response, error) {
		got, _ = req.Context().Deadline()
		return okResponse(req), nil
	}), Timeout(time.Millisecond))

	req := httptest.NewRequest(http.MethodGet, "http://api.test/photos", nil).WithContext(ctx)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.True(t, want.Equal(got))
}
