// service содержит SessionRepository — фасад сессионных операций клиента:
// вход, явное продление, смена никнейма, выход и удаление аккаунта.
//
// Основные аспекты:
//   - каждый вызов идёт через общий клиент Gateway (авторизация и продление
//     при 401 происходят прозрачно для вызывающего);
//   - ошибки сети и API приводятся к единому *Failure; сбои хранилища
//     возвращаются как есть и считаются фатальными;
//   - хранилище меняется только после подтверждения сервером.
package service

import (
	"context"
	"errors"

	"github.com/pribylovaa/photostamp-session/internal/clients"
	"github.com/pribylovaa/photostamp-session/internal/metrics"
	"github.com/pribylovaa/photostamp-session/internal/models"
	"github.com/pribylovaa/photostamp-session/internal/storage"
)

// ErrNotAuthenticated — операция требует активной сессии.
var ErrNotAuthenticated = errors.New("no refresh token")

// AuthAPI — вызовы /auth/*, нужные репозиторию (реализует *clients.AuthAPI).
type AuthAPI interface {
	SocialLogin(ctx context.Context, in models.SocialLoginRequest) (*models.LoginResponse, error)
	SetNickname(ctx context.Context, nickname string) (*models.NicknameResponse, error)
	Logout(ctx context.Context, in models.LogoutRequest) (*models.LogoutResponse, error)
	Withdraw(ctx context.Context, in models.WithdrawalRequest) (*models.WithdrawalResponse, error)
}

// Renewer — общий полёт продления (реализует *roundtrippers.Renewer).
type Renewer interface {
	Renew(ctx context.Context) (models.Credentials, error)
}

// Repository — SessionRepository. Безопасен для конкурентного использования,
// если переданные зависимости потокобезопасны.
type Repository struct {
	store   storage.CredentialStore
	api     AuthAPI
	renewer Renewer
	metrics *metrics.Session
}

// New создаёт репозиторий. m может быть nil.
func New(store storage.CredentialStore, api AuthAPI, renewer Renewer, m *metrics.Session) *Repository {
	return &Repository{
		store:   store,
		api:     api,
		renewer: renewer,
		metrics: m,
	}
}

// FromGateway собирает репозиторий поверх клиентов Gateway.
func FromGateway(store storage.CredentialStore, g *clients.Gateway, m *metrics.Session) *Repository {
	return New(store, g.Auth(), g.Renewer(), m)
}
