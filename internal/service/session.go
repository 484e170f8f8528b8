package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pribylovaa/photostamp-session/internal/metrics"
	"github.com/pribylovaa/photostamp-session/internal/models"
	"github.com/pribylovaa/photostamp-session/internal/pkg/log"
)

// maxNicknameLen — предел длины никнейма в символах.
const maxNicknameLen = 20

var socialTypes = map[string]bool{
	models.SocialKakao:  true,
	models.SocialNaver:  true,
	models.SocialGoogle: true,
}

// Login выполняет социальный вход и сохраняет пару токенов вместе с
// идентичностью одной записью.
func (r *Repository) Login(ctx context.Context, socialType, socialToken string) (models.LoginResponse, error) {
	const op = "service/Repository.Login"

	socialType = strings.ToUpper(strings.TrimSpace(socialType))
	if !socialTypes[socialType] {
		return models.LoginResponse{}, invalidArgument(fmt.Sprintf("unsupported social type %q", socialType))
	}
	if strings.TrimSpace(socialToken) == "" {
		return models.LoginResponse{}, invalidArgument("social token is required")
	}

	resp, err := r.api.SocialLogin(ctx, models.SocialLoginRequest{
		SocialType:  socialType,
		AccessToken: socialToken,
	})
	if err != nil {
		return models.LoginResponse{}, toFailure(err)
	}

	creds := models.Credentials{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if !creds.Complete() {
		return models.LoginResponse{}, &Failure{Kind: KindEmpty, Message: "empty response"}
	}

	identity := models.Identity{UserID: resp.UserID, Nickname: resp.Nickname}
	if err := r.store.SaveSession(ctx, creds, identity); err != nil {
		return models.LoginResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("login_succeeded",
		slog.Int64("user_id", resp.UserID),
		slog.Bool("new_user", resp.IsNewUser),
	)

	return *resp, nil
}

// Refresh продлевает сессию явно. Делит полёт с продлениями из-за 401;
// при неудаче хранилище уже очищено.
func (r *Repository) Refresh(ctx context.Context) (models.Credentials, error) {
	creds, err := r.renewer.Renew(ctx)
	if err != nil {
		return models.Credentials{}, toFailure(err)
	}

	return creds, nil
}

// SetNickname меняет никнейм и обновляет только идентичность.
func (r *Repository) SetNickname(ctx context.Context, nickname string) (models.NicknameResponse, error) {
	const op = "service/Repository.SetNickname"

	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return models.NicknameResponse{}, invalidArgument("nickname is required")
	}
	if len([]rune(nickname)) > maxNicknameLen {
		return models.NicknameResponse{}, invalidArgument(fmt.Sprintf("nickname is longer than %d characters", maxNicknameLen))
	}

	resp, err := r.api.SetNickname(ctx, nickname)
	if err != nil {
		return models.NicknameResponse{}, toFailure(err)
	}

	identity, _, err := r.store.Identity(ctx)
	if err != nil {
		return models.NicknameResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	if resp.UserID != 0 {
		identity.UserID = resp.UserID
	}
	identity.Nickname = resp.Nickname

	if err := r.store.SaveIdentity(ctx, identity); err != nil {
		return models.NicknameResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("nickname_updated", slog.Int64("user_id", identity.UserID))

	return *resp, nil
}

// Logout завершает сессию на сервере и очищает хранилище.
// Без активной сессии — успешный no-op без обращения к сети.
func (r *Repository) Logout(ctx context.Context, allDevices bool) (models.LogoutResponse, error) {
	const op = "service/Repository.Logout"

	creds, ok, err := r.store.Credentials(ctx)
	if err != nil {
		return models.LogoutResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		log.From(ctx).Debug("logout_skipped", slog.String("reason", "not_authenticated"))
		return models.LogoutResponse{Success: true}, nil
	}

	resp, err := r.api.Logout(ctx, models.LogoutRequest{
		RefreshToken: creds.RefreshToken,
		AllDevices:   allDevices,
	})
	if err != nil {
		return models.LogoutResponse{}, toFailure(err)
	}

	if err := r.clear(ctx, metrics.ReasonLogout); err != nil {
		return models.LogoutResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("logout_succeeded",
		slog.Int64("user_id", resp.UserID),
		slog.Int("invalidated", resp.InvalidatedTokenCount),
		slog.Bool("all_devices", allDevices),
	)

	return *resp, nil
}

// Withdraw удаляет аккаунт и очищает хранилище.
// Без активной сессии — *Failure{KindUnauthenticated} без обращения к сети.
func (r *Repository) Withdraw(ctx context.Context) (models.WithdrawalResponse, error) {
	const op = "service/Repository.Withdraw"

	creds, ok, err := r.store.Credentials(ctx)
	if err != nil {
		return models.WithdrawalResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		return models.WithdrawalResponse{}, notAuthenticated()
	}

	resp, err := r.api.Withdraw(ctx, models.WithdrawalRequest{RefreshToken: creds.RefreshToken})
	if err != nil {
		return models.WithdrawalResponse{}, toFailure(err)
	}

	if err := r.clear(ctx, metrics.ReasonWithdraw); err != nil {
		return models.WithdrawalResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("account_withdrawn", slog.Int64("user_id", resp.UserID))

	return *resp, nil
}

// IsAuthenticated — проверка по хранилищу, без сети.
func (r *Repository) IsAuthenticated(ctx context.Context) (bool, error) {
	return r.store.IsAuthenticated(ctx)
}

// Identity — закэшированная идентичность пользователя.
func (r *Repository) Identity(ctx context.Context) (models.Identity, bool, error) {
	return r.store.Identity(ctx)
}

// Credentials — текущая пара (для статуса сессии в CLI).
func (r *Repository) Credentials(ctx context.Context) (models.Credentials, bool, error) {
	return r.store.Credentials(ctx)
}

func (r *Repository) clear(ctx context.Context, reason string) error {
	if err := r.store.Clear(ctx); err != nil {
		return err
	}

	r.metrics.Cleared(reason)
	log.From(ctx).Info("credentials_cleared", slog.String("reason", reason))
	return nil
}
