// roundtrippers предоставляет набор http.RoundTripper-декораторов для
// исходящих запросов к REST API: метаданные, логирование, продление сессии,
// авторизация и таймауты.
package roundtrippers

import (
	"io"
	"net/http"
	"strings"
)

// Заголовки, которые выставляют декораторы.
const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-Id"
	HeaderUserAgent     = "User-Agent"
)

// Пути, которые обслуживаются без bearer-токена.
var publicPaths = []string{
	"/auth/social-login",
	"/auth/refresh",
}

// Func — адаптер обычной функции к http.RoundTripper.
type Func func(*http.Request) (*http.Response, error)

// RoundTrip вызывает f(req).
func (f Func) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// Middleware — декоратор транспорта.
type Middleware func(http.RoundTripper) http.RoundTripper

// Chain оборачивает base декораторами; первый в списке — самый внешний.
// nil base заменяется на http.DefaultTransport.
func Chain(base http.RoundTripper, mws ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}

	rt := base
	for i := len(mws) - 1; i >= 0; i-- {
		rt = mws[i](rt)
	}

	return rt
}

// IsPublic сообщает, входит ли запрос в allow-list (вход и продление).
// Сравнивается суффикс пути: базовый URL API может содержать префикс.
func IsPublic(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}

	p := strings.TrimRight(req.URL.Path, "/")
	for _, pub := range publicPaths {
		if strings.HasSuffix(p, pub) {
			return true
		}
	}

	return false
}

// bearerOf возвращает bearer-токен из заголовка Authorization запроса.
func bearerOf(req *http.Request) string {
	if req == nil {
		return ""
	}

	h := req.Header.Get(HeaderAuthorization)
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}

	return strings.TrimPrefix(h, "Bearer ")
}

// closeRequestBody выполняет контракт RoundTripper: тело закрывается и при ошибке.
func closeRequestBody(req *http.Request) {
	if req != nil && req.Body != nil {
		_ = req.Body.Close()
	}
}

// drainAndClose дочитывает небольшой остаток тела, чтобы соединение вернулось в пул.
func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
