// apitest — поддельный REST API для тестов клиента: выдаёт пары токенов
// "A<n>"/"R<n>", ротирует refresh-токен при каждом продлении и защищает
// bearer-эндпоинты. Поведение настраивается полями Server.
package apitest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pribylovaa/photostamp-session/internal/models"
)

// Значения пользователя, которого выдаёт вход.
const (
	UserID   int64 = 42
	Nickname       = "kim"
)

// Коды ошибок в конверте.
const (
	CodeInvalidRefresh = "INVALID_REFRESH_TOKEN"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInvalidSocial  = "INVALID_SOCIAL_TOKEN"
	CodeBadRequest     = "BAD_REQUEST"
)

// BadSocialToken — социальный токен, на который вход отвечает success=false.
const BadSocialToken = "bad-social-token"

// Canned — заранее заданный ответ для пути (переопределяет обработчик).
type Canned struct {
	Status int
	Body   string
}

// Server — поддельный API поверх httptest.Server.
type Server struct {
	*httptest.Server

	// FailRefresh — /auth/refresh всегда отвечает 401.
	FailRefresh atomic.Bool
	// AlwaysUnauthorized — защищённые эндпоинты всегда отвечают 401.
	AlwaysUnauthorized atomic.Bool
	// RefreshCalls/ProtectedCalls — число обращений.
	RefreshCalls   atomic.Int32
	ProtectedCalls atomic.Int32

	mu              sync.Mutex
	seq             int
	access          map[string]bool
	refresh         map[string]string // refresh -> парный access
	nickname        string
	refreshDelay    time.Duration
	beforeProtected func(token string)
	canned          map[string]Canned
	lastBody        map[string][]byte
}

// New поднимает сервер; он закрывается в t.Cleanup.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		access:   make(map[string]bool),
		refresh:  make(map[string]string),
		nickname: Nickname,
		canned:   make(map[string]Canned),
		lastBody: make(map[string][]byte),
	}

	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)

	return s
}

// Issue регистрирует действующую пару (как будто она выдана ранее).
// Следующая выданная пара получит очередной номер.
func (s *Server) Issue(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.access[access] = true
	s.refresh[refresh] = access
}

// Expire делает access-токен недействительным (истёк на сервере),
// парный refresh-токен остаётся рабочим.
func (s *Server) Expire(access string) {
	s.mu.Lock()
	delete(s.access, access)
	s.mu.Unlock()
}

// SetRefreshDelay задерживает ответ /auth/refresh.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	s.refreshDelay = d
	s.mu.Unlock()
}

// SetBeforeProtected задаёт хук, вызываемый до проверки bearer-токена.
func (s *Server) SetBeforeProtected(fn func(token string)) {
	s.mu.Lock()
	s.beforeProtected = fn
	s.mu.Unlock()
}

// SetCanned заставляет путь отвечать фиксированным статусом и телом.
func (s *Server) SetCanned(path string, c Canned) {
	s.mu.Lock()
	s.canned[path] = c
	s.mu.Unlock()
}

// LastBody возвращает тело последнего запроса на путь.
func (s *Server) LastBody(path string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastBody[path]
}

// AccessValid сообщает, принимает ли сервер access-токен.
func (s *Server) AccessValid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.access[token]
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record, s.cannedResponses)

	r.Post("/auth/social-login", s.socialLogin)
	r.Post("/auth/refresh", s.refreshPair)

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Post("/auth/nickname", s.setNickname)
		r.Post("/auth/logout", s.logout)
		r.Post("/auth/withdrawal", s.withdraw)
		r.Get("/photos", s.photos)
	})

	return r
}

// issueLocked выдаёт новую пару; s.mu должен быть захвачен.
func (s *Server) issueLocked() (string, string) {
	s.seq++
	a := fmt.Sprintf("A%d", s.seq)
	rt := fmt.Sprintf("R%d", s.seq)
	s.access[a] = true
	s.refresh[rt] = a

	return a, rt
}

func (s *Server) socialLogin(w http.ResponseWriter, r *http.Request) {
	var in models.SocialLoginRequest
	if err := decodeStrict(r, &in); err != nil || in.AccessToken == "" {
		fail(w, http.StatusBadRequest, CodeBadRequest, "invalid request")
		return
	}

	if in.AccessToken == BadSocialToken {
		fail(w, http.StatusOK, CodeInvalidSocial, "invalid social token")
		return
	}

	s.mu.Lock()
	a, rt := s.issueLocked()
	nick := s.nickname
	s.mu.Unlock()

	ok(w, models.LoginResponse{
		UserID:       UserID,
		Nickname:     nick,
		AccessToken:  a,
		RefreshToken: rt,
		UserStatus:   "ACTIVE",
	})
}

func (s *Server) refreshPair(w http.ResponseWriter, r *http.Request) {
	s.RefreshCalls.Add(1)

	var in models.RefreshRequest
	if err := decodeStrict(r, &in); err != nil {
		fail(w, http.StatusBadRequest, CodeBadRequest, "invalid request")
		return
	}

	s.mu.Lock()
	delay := s.refreshDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if s.FailRefresh.Load() {
		fail(w, http.StatusUnauthorized, CodeInvalidRefresh, "refresh token is invalid")
		return
	}

	s.mu.Lock()
	oldAccess, found := s.refresh[in.RefreshToken]
	if !found {
		s.mu.Unlock()
		fail(w, http.StatusUnauthorized, CodeInvalidRefresh, "refresh token is invalid")
		return
	}

	// Ротация: старая пара больше не действует.
	delete(s.refresh, in.RefreshToken)
	delete(s.access, oldAccess)
	a, rt := s.issueLocked()
	nick := s.nickname
	s.mu.Unlock()

	ok(w, models.RefreshResponse{
		AccessToken:  a,
		RefreshToken: rt,
		UserID:       UserID,
		Nickname:     nick,
	})
}

func (s *Server) setNickname(w http.ResponseWriter, r *http.Request) {
	var in models.NicknameRequest
	if err := decodeStrict(r, &in); err != nil || strings.TrimSpace(in.Nickname) == "" {
		fail(w, http.StatusBadRequest, CodeBadRequest, "nickname is required")
		return
	}

	s.mu.Lock()
	s.nickname = in.Nickname
	s.mu.Unlock()

	ok(w, models.NicknameResponse{UserID: UserID, Nickname: in.Nickname, IsProfileComplete: true})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var in models.LogoutRequest
	if err := decodeStrict(r, &in); err != nil {
		fail(w, http.StatusBadRequest, CodeBadRequest, "invalid request")
		return
	}

	s.mu.Lock()
	a, found := s.refresh[in.RefreshToken]
	if !found {
		s.mu.Unlock()
		fail(w, http.StatusBadRequest, CodeInvalidRefresh, "refresh token is invalid")
		return
	}

	n := 1
	if in.AllDevices {
		n = len(s.refresh)
		s.access = make(map[string]bool)
		s.refresh = make(map[string]string)
	} else {
		delete(s.refresh, in.RefreshToken)
		delete(s.access, a)
	}
	s.mu.Unlock()

	ok(w, models.LogoutResponse{
		UserID:                UserID,
		Success:               true,
		InvalidatedTokenCount: n,
		LogoutTime:            time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var in models.WithdrawalRequest
	if err := decodeStrict(r, &in); err != nil {
		fail(w, http.StatusBadRequest, CodeBadRequest, "invalid request")
		return
	}

	s.mu.Lock()
	if _, found := s.refresh[in.RefreshToken]; !found {
		s.mu.Unlock()
		fail(w, http.StatusBadRequest, CodeInvalidRefresh, "refresh token is invalid")
		return
	}

	n := len(s.refresh)
	s.access = make(map[string]bool)
	s.refresh = make(map[string]string)
	nick := s.nickname
	s.mu.Unlock()

	ok(w, models.WithdrawalResponse{
		UserID:                UserID,
		Success:               true,
		MaskedNickname:        Mask(nick),
		InvalidatedTokenCount: n,
		WithdrawalTime:        time.Now().UTC().Format(time.RFC3339),
	})
}

// Mask оставляет первую букву никнейма, остальные заменяет на '*'.
func Mask(nickname string) string {
	runes := []rune(nickname)
	if len(runes) <= 1 {
		return nickname
	}

	return string(runes[:1]) + strings.Repeat("*", len(runes)-1)
}

func (s *Server) photos(w http.ResponseWriter, _ *http.Request) {
	ok(w, map[string]any{"items": []string{}})
}

// requireBearer пропускает только действующий access-токен.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.ProtectedCalls.Add(1)

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		s.mu.Lock()
		hook := s.beforeProtected
		s.mu.Unlock()

		if hook != nil {
			hook(token)
		}

		if s.AlwaysUnauthorized.Load() || !s.AccessValid(token) {
			fail(w, http.StatusUnauthorized, CodeUnauthorized, "access token is invalid")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// record запоминает тело запроса, чтобы тесты могли его проверить.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			raw, err := io.ReadAll(r.Body)
			if err == nil {
				s.mu.Lock()
				s.lastBody[r.URL.Path] = raw
				s.mu.Unlock()
				r.Body = io.NopCloser(bytes.NewReader(raw))
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) cannedResponses(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		c, found := s.canned[r.URL.Path]
		s.mu.Unlock()

		if !found {
			next.ServeHTTP(w, r)
			return
		}

		if r.URL.Path == "/auth/refresh" {
			s.RefreshCalls.Add(1)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(c.Status)
		_, _ = w.Write([]byte(c.Body))
	})
}

// ok — единый успешный ответ в конверте.
func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

// fail — ответ-ошибка в конверте.
func fail(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"success": false, "data": nil, "code": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}
