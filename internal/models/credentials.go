// models описывает локальное состояние сессии клиента и DTO REST API.
package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials — пара токенов текущей сессии.
//
// Описание:
//   - AccessToken — короткоживущий bearer-токен для авторизации запросов;
//   - RefreshToken — одноразовый секрет для выпуска новой пары (ротация:
//     каждый успешный refresh делает предыдущий RefreshToken недействительным).
//
// Инвариант: либо заданы оба поля, либо ни одного.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Complete — обе части пары присутствуют ("залогинен").
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Empty — обе части пары отсутствуют.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// AccessExpiresAt возвращает exp из access-токена, если он является JWT.
// Подпись не проверяется: клиенту нужна только подсказка для UI,
// решение о валидности всегда принимает сервер. Для непрозрачных токенов ok=false.
func (c Credentials) AccessExpiresAt() (time.Time, bool) {
	if c.AccessToken == "" {
		return time.Time{}, false
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(c.AccessToken, &claims); err != nil {
		return time.Time{}, false
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}

	return claims.ExpiresAt.Time.UTC(), true
}

// Identity — кэш идентичности пользователя для UI и аналитики.
// Источник — ответы login/refresh/nickname, локально не редактируется.
type Identity struct {
	UserID   int64
	Nickname string
}
