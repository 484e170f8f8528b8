package roundtrippers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pribylovaa/photostamp-session/internal/metrics"
	"github.com/pribylovaa/photostamp-session/internal/models"
	"github.com/pribylovaa/photostamp-session/internal/pkg/log"
	"github.com/pribylovaa/photostamp-session/internal/pkg/redact"
	"github.com/pribylovaa/photostamp-session/internal/storage"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxRetries — сколько раз подряд один запрос может пройти продление.
const DefaultMaxRetries = 3

var (
	// ErrNoRefreshToken — в хранилище нет refresh-токена, продлевать нечем.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrRenewalFailed — сервер не выдал новую пару; хранилище очищено.
	ErrRenewalFailed = errors.New("session renewal failed")
)

// Refresher обменивает refresh-токен на новую пару.
// Реализация обязана ходить через "голый" клиент без Authenticator и Renewer.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*models.RefreshResponse, error)
}

// Renewer продлевает сессию при 401 и повторяет исходный запрос.
//
// Одновременно выполняется не больше одного обмена refresh-токена
// (singleflight): refresh-токен одноразовый, второй параллельный обмен
// со старым токеном гарантированно провалился бы и разлогинил пользователя.
type Renewer struct {
	store      storage.CredentialStore
	refresher  Refresher
	maxRetries int
	metrics    *metrics.Session

	group singleflight.Group
}

// RenewerOption настраивает Renewer.
type RenewerOption func(*Renewer)

// WithMaxRetries задаёт предел продлений на один запрос (n <= 0 — по умолчанию).
func WithMaxRetries(n int) RenewerOption {
	return func(r *Renewer) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// WithMetrics подключает счётчики Prometheus.
func WithMetrics(m *metrics.Session) RenewerOption {
	return func(r *Renewer) { r.metrics = m }
}

// NewRenewer создаёт Renewer поверх хранилища и обменника токенов.
func NewRenewer(store storage.CredentialStore, refresher Refresher, opts ...RenewerOption) *Renewer {
	r := &Renewer{
		store:      store,
		refresher:  refresher,
		maxRetries: DefaultMaxRetries,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Middleware возвращает декоратор, который перехватывает 401.
//
// Алгоритм для запроса вне allow-list:
//  1. тело запроса буферизуется, чтобы его можно было отправить повторно;
//  2. пока ответ 401: если уже было maxRetries отказов — 401 отдаётся
//     вызывающему; иначе выполняется продление и запрос повторяется с новым
//     bearer-токеном;
//  3. неудачное продление отдаёт вызывающему исходный 401 (хранилище уже
//     очищено), сбой хранилища отдаётся ошибкой.
func (r *Renewer) Middleware(next http.RoundTripper) http.RoundTripper {
	return Func(func(req *http.Request) (*http.Response, error) {
		if IsPublic(req) {
			return next.RoundTrip(req)
		}

		req, err := replayable(req)
		if err != nil {
			return nil, err
		}

		ctx := req.Context()
		l := log.From(ctx)

		resp, err := next.RoundTrip(req)

		for prior := 0; err == nil && resp.StatusCode == http.StatusUnauthorized; prior++ {
			if prior >= r.maxRetries {
				r.metrics.RetryLimitReached()
				l.Warn("renewal_retry_limit", slog.Int("attempts", prior))
				return resp, nil
			}

			creds, rerr := r.renew(ctx, bearerOf(resp.Request))
			if rerr != nil {
				if storage.IsStorageError(rerr) || ctx.Err() != nil {
					drainAndClose(resp)
					return nil, rerr
				}

				return resp, nil
			}

			retry, berr := rebuild(req, creds.AccessToken)
			if berr != nil {
				drainAndClose(resp)
				return nil, berr
			}

			drainAndClose(resp)
			resp, err = next.RoundTrip(retry)
		}

		return resp, err
	})
}

// Renew выполняет продление явно (SessionRepository.Refresh).
// Делит полёт с продлениями, запущенными из-за 401.
func (r *Renewer) Renew(ctx context.Context) (models.Credentials, error) {
	return r.renew(ctx, "")
}

type flightResult struct {
	creds models.Credentials
}

// renew присоединяется к текущему полёту или запускает новый.
// rejected — access-токен, получивший 401 ("" — обмен обязателен).
// Полёт не отменяется вместе с контекстом вызывающего: его результат
// нужен всем участникам, а ротация на сервере уже могла произойти.
func (r *Renewer) renew(ctx context.Context, rejected string) (models.Credentials, error) {
	creds, led, err := r.join(ctx, rejected)
	if err != nil {
		return models.Credentials{}, err
	}

	// Чужой полёт обошёлся без обмена и вернул ровно тот токен,
	// который только что получил отказ: нужен собственный обмен.
	if !led && rejected != "" && creds.AccessToken == rejected {
		creds, _, err = r.join(ctx, rejected)
	}

	return creds, err
}

func (r *Renewer) join(ctx context.Context, rejected string) (models.Credentials, bool, error) {
	led := false
	ch := r.group.DoChan("renew", func() (any, error) {
		led = true
		return r.exchange(context.WithoutCancel(ctx), rejected)
	})

	select {
	case <-ctx.Done():
		return models.Credentials{}, false, ctx.Err()
	case res := <-ch:
		if !led {
			r.metrics.Shared()
		}

		if res.Err != nil {
			return models.Credentials{}, led, res.Err
		}

		return res.Val.(flightResult).creds, led, nil
	}
}

// exchange — тело полёта: один обмен refresh-токена и сохранение новой пары.
func (r *Renewer) exchange(ctx context.Context, rejected string) (flightResult, error) {
	const op = "roundtrippers/Renewer.exchange"

	l := log.From(ctx)

	creds, ok, err := r.store.Credentials(ctx)
	if err != nil {
		return flightResult{}, err
	}

	if !ok {
		r.metrics.Renewal(metrics.ResultNoAuth)
		if err := r.clear(ctx, metrics.ReasonNoRefresh); err != nil {
			return flightResult{}, err
		}

		return flightResult{}, fmt.Errorf("%s: %w", op, ErrNoRefreshToken)
	}

	// Отказ получил уже заменённый токен: продлевать повторно нельзя,
	// достаточно повторить запрос с текущим.
	if rejected != "" && creds.AccessToken != rejected {
		r.metrics.Renewal(metrics.ResultStale)
		l.Debug("renewal_skipped_stale", slog.String("rejected", redact.Token(rejected)))
		return flightResult{creds: creds}, nil
	}

	l.Debug("renewal_started", slog.String("refresh", redact.Token(creds.RefreshToken)))

	resp, err := r.refresher.Refresh(ctx, creds.RefreshToken)
	if err == nil && (resp == nil || resp.AccessToken == "" || resp.RefreshToken == "") {
		err = errors.New("incomplete token pair")
	}

	if err != nil {
		r.metrics.Renewal(metrics.ResultFailed)
		l.Warn("renewal_failed", slog.String("err", err.Error()))

		if cerr := r.clear(ctx, metrics.ReasonRenewalFailed); cerr != nil {
			return flightResult{}, cerr
		}

		return flightResult{}, fmt.Errorf("%s: %w: %w", op, ErrRenewalFailed, err)
	}

	identity, _, err := r.store.Identity(ctx)
	if err != nil {
		return flightResult{}, err
	}

	if resp.UserID != 0 {
		identity.UserID = resp.UserID
	}
	if resp.Nickname != "" {
		identity.Nickname = resp.Nickname
	}

	next := models.Credentials{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if err := r.store.SaveSession(ctx, next, identity); err != nil {
		return flightResult{}, err
	}

	r.metrics.Renewal(metrics.ResultOK)
	l.Info("session_renewed", slog.Int64("user_id", identity.UserID))

	return flightResult{creds: next}, nil
}

func (r *Renewer) clear(ctx context.Context, reason string) error {
	if err := r.store.Clear(ctx); err != nil {
		return err
	}

	r.metrics.Cleared(reason)
	log.From(ctx).Info("credentials_cleared", slog.String("reason", reason))
	return nil
}

// replayable гарантирует, что тело запроса можно отправить повторно.
// Исходный запрос не меняется: при буферизации возвращается копия.
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("roundtrippers/replayable: %w", err)
	}

	r := req.Clone(req.Context())
	r.ContentLength = int64(len(data))
	r.Body = io.NopCloser(bytes.NewReader(data))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	return r, nil
}

// rebuild готовит копию запроса для повтора с новым access-токеном.
// GetBody может собрать тело заново (например, с новым refresh-токеном),
// поэтому длина пересчитывается.
func rebuild(req *http.Request, access string) (*http.Request, error) {
	r := req.Clone(req.Context())

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("roundtrippers/rebuild: %w", err)
		}

		data, err := io.ReadAll(body)
		_ = body.Close()
		if err != nil {
			return nil, fmt.Errorf("roundtrippers/rebuild: %w", err)
		}

		r.ContentLength = int64(len(data))
		r.Body = http.NoBody
		if len(data) > 0 {
			r.Body = io.NopCloser(bytes.NewReader(data))
		}
	}

	r.Header.Set(HeaderAuthorization, "Bearer "+access)
	return r, nil
}
