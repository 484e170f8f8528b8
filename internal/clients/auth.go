package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pribylovaa/photostamp-session/internal/models"
	"github.com/pribylovaa/photostamp-session/internal/storage"
)

// Пути эндпоинтов аутентификации.
const (
	PathSocialLogin = "/auth/social-login"
	PathRefresh     = "/auth/refresh"
	PathNickname    = "/auth/nickname"
	PathLogout      = "/auth/logout"
	PathWithdrawal  = "/auth/withdrawal"
)

// maxBodyBytes ограничивает чтение тела ответа.
const maxBodyBytes = 1 << 20

// AuthAPI — типизированные вызовы эндпоинтов /auth/*.
// refresh идёт через "голый" клиент, остальное — через общий.
type AuthAPI struct {
	baseURL string
	general *http.Client
	bare    *http.Client
	store   storage.CredentialStore
}

// bodyFunc собирает тело запроса. Вызывается перед первой отправкой
// и перед каждым повтором после продления сессии.
type bodyFunc func(ctx context.Context) (any, error)

// static — тело, не зависящее от состояния сессии.
func static(v any) bodyFunc {
	return func(context.Context) (any, error) { return v, nil }
}

// SocialLogin — POST /auth/social-login (allow-list, без bearer).
func (a *AuthAPI) SocialLogin(ctx context.Context, in models.SocialLoginRequest) (*models.LoginResponse, error) {
	return call[models.LoginResponse](ctx, a.general, a.url(PathSocialLogin), static(in))
}

// Refresh — POST /auth/refresh. Реализует roundtrippers.Refresher.
func (a *AuthAPI) Refresh(ctx context.Context, refreshToken string) (*models.RefreshResponse, error) {
	return call[models.RefreshResponse](ctx, a.bare, a.url(PathRefresh), static(models.RefreshRequest{RefreshToken: refreshToken}))
}

// SetNickname — POST /auth/nickname [bearer].
func (a *AuthAPI) SetNickname(ctx context.Context, nickname string) (*models.NicknameResponse, error) {
	return call[models.NicknameResponse](ctx, a.general, a.url(PathNickname), static(models.NicknameRequest{Nickname: nickname}))
}

// Logout — POST /auth/logout [bearer].
// Если по дороге сессия продлилась, повтор уходит с новым refresh-токеном.
func (a *AuthAPI) Logout(ctx context.Context, in models.LogoutRequest) (*models.LogoutResponse, error) {
	return call[models.LogoutResponse](ctx, a.general, a.url(PathLogout), func(ctx context.Context) (any, error) {
		rt, err := a.currentRefresh(ctx, in.RefreshToken)
		if err != nil {
			return nil, err
		}

		out := in
		out.RefreshToken = rt
		return out, nil
	})
}

// Withdraw — POST /auth/withdrawal [bearer].
func (a *AuthAPI) Withdraw(ctx context.Context, in models.WithdrawalRequest) (*models.WithdrawalResponse, error) {
	return call[models.WithdrawalResponse](ctx, a.general, a.url(PathWithdrawal), func(ctx context.Context) (any, error) {
		rt, err := a.currentRefresh(ctx, in.RefreshToken)
		if err != nil {
			return nil, err
		}

		return models.WithdrawalRequest{RefreshToken: rt}, nil
	})
}

// currentRefresh — refresh-токен из хранилища; fallback, если сессии нет.
func (a *AuthAPI) currentRefresh(ctx context.Context, fallback string) (string, error) {
	if a.store == nil {
		return fallback, nil
	}

	creds, ok, err := a.store.Credentials(ctx)
	if err != nil {
		return "", err
	}

	if !ok || creds.RefreshToken == "" {
		return fallback, nil
	}

	return creds.RefreshToken, nil
}

func (a *AuthAPI) url(path string) string {
	return strings.TrimRight(a.baseURL, "/") + path
}

// call выполняет POST с JSON-телом и разбирает конверт ответа.
//
// Ошибки:
//   - транспорт (включая сбой хранилища внутри цепочки) — как вернул http.Client;
//   - не-2xx — *StatusError;
//   - пустое/неразбираемое тело или data=null — ErrEmptyResponse;
//   - success=false — *BusinessError.
func call[Resp any](ctx context.Context, c *http.Client, endpoint string, body bodyFunc) (*Resp, error) {
	payload, err := marshal(ctx, body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// Повтор после продления пересобирает тело заново.
	req.GetBody = func() (io.ReadCloser, error) {
		p, err := marshal(ctx, body)
		if err != nil {
			return nil, err
		}

		return io.NopCloser(bytes.NewReader(p)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode}

		var env models.Envelope[json.RawMessage]
		if json.Unmarshal(raw, &env) == nil {
			se.Code = env.Code
			se.Message = env.Message
		}

		return nil, se
	}

	var env models.Envelope[Resp]
	if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &env) != nil {
		return nil, ErrEmptyResponse
	}

	if !env.Success {
		return nil, &BusinessError{Code: env.Code, Message: env.Message}
	}

	if env.Data == nil {
		return nil, ErrEmptyResponse
	}

	return env.Data, nil
}

func marshal(ctx context.Context, body bodyFunc) ([]byte, error) {
	v, err := body(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return payload, nil
}
