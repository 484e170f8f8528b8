package roundtrippers

import (
	"net/http"

	"github.com/google/uuid"
)

// Metadata добавляет в исходящий запрос заголовки:
//   - X-Request-Id (если не задан — генерируется UUID);
//   - User-Agent (если передан параметром).
//
// Повторы внутри цепочки (продление сессии) сохраняют тот же X-Request-Id.
func Metadata(userAgent string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return Func(func(req *http.Request) (*http.Response, error) {
			r := req.Clone(req.Context())

			if r.Header.Get(HeaderRequestID) == "" {
				r.Header.Set(HeaderRequestID, uuid.NewString())
			}

			if userAgent != "" {
				r.Header.Set(HeaderUserAgent, userAgent)
			}

			return next.RoundTrip(r)
		})
	}
}
