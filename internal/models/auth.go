// Входные/выходные модели REST API сессии.
package models

import "time"

// Поддерживаемые провайдеры социального входа.
const (
	SocialKakao  = "KAKAO"
	SocialNaver  = "NAVER"
	SocialGoogle = "GOOGLE"
)

// Envelope — общий конверт всех ответов API.
// success=false или data=null считаются неуспехом независимо от HTTP-статуса.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type SocialLoginRequest struct {
	SocialType  string `json:"socialType"`
	AccessToken string `json:"accessToken"`
}

type LoginResponse struct {
	UserID       int64  `json:"userId"`
	Nickname     string `json:"nickname,omitempty"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	IsNewUser    bool   `json:"isNewUser"`
	NeedNickname bool   `json:"needNickname"`
	UserStatus   string `json:"userStatus,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       int64  `json:"userId"`
	Nickname     string `json:"nickname,omitempty"`
}

type NicknameRequest struct {
	Nickname string `json:"nickname"`
}

type NicknameResponse struct {
	UserID            int64  `json:"userId"`
	Nickname          string `json:"nickname"`
	IsProfileComplete bool   `json:"isProfileComplete"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
	AllDevices   bool   `json:"allDevices"`
}

type LogoutResponse struct {
	UserID                int64  `json:"userId"`
	Success               bool   `json:"success"`
	InvalidatedTokenCount int    `json:"invalidatedTokenCount"`
	LogoutTime            string `json:"logoutTime,omitempty"`
}

type WithdrawalRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type WithdrawalResponse struct {
	UserID                int64  `json:"userId"`
	Success               bool   `json:"success"`
	MaskedNickname        string `json:"maskedNickname,omitempty"`
	InvalidatedTokenCount int    `json:"invalidatedTokenCount"`
	WithdrawalTime        string `json:"withdrawalTime,omitempty"`
}

// PresignedUpload — выданная сервером (или dev-подписчиком) presigned PUT загрузка.
//   - URL: конечная URL для PUT-запроса;
//   - Key: ключ будущего объекта в бакете;
//   - ExpiresAt: момент истечения подписи (zero — неизвестен);
//   - Headers: заголовки, которые клиент ОБЯЗАН передать при PUT.
type PresignedUpload struct {
	URL       string            `json:"uploadUrl"`
	Key       string            `json:"key"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Headers   map[string]string `json:"headers,omitempty"`
}
