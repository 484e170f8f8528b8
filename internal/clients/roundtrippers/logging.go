package roundtrippers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/pribylovaa/photostamp-session/internal/pkg/log"
	"github.com/pribylovaa/photostamp-session/internal/pkg/redact"
)

// Logging — логирование исходящих HTTP-запросов.
// Поведение:
//   - берёт X-Request-Id из заголовков (ставится Metadata), иначе "-";
//   - добавляет поля request_id/method/url, прокладывает обогащённый логгер
//     в контекст (pkg/log): внутренние декораторы пишут через log.From;
//   - пишет одну финальную запись: msg="http" (Info) со status и dur или
//     msg="http_failed" (Warn) с err.
//
// Безопасность: query-строка (подписи presigned URL) и заголовки не логируются.
func Logging(base *slog.Logger) Middleware {
	if base == nil {
		base = slog.Default()
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return Func(func(req *http.Request) (*http.Response, error) {
			start := time.Now()

			rid := req.Header.Get(HeaderRequestID)
			if rid == "" {
				rid = "-"
			}

			l := base.With(
				slog.String("request_id", rid),
				slog.String("method", req.Method),
				slog.String("url", redact.URL(req.URL.String())),
			)

			resp, err := next.RoundTrip(req.WithContext(log.Into(req.Context(), l)))
			if err != nil {
				l.Warn("http_failed",
					slog.String("err", err.Error()),
					slog.Duration("dur", time.Since(start)),
				)
				return nil, err
			}

			l.Info("http",
				slog.Int("status", resp.StatusCode),
				slog.Duration("dur", time.Since(start)),
			)

			return resp, nil
		})
	}
}
