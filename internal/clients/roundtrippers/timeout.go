package roundtrippers

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Timeout навешивает дедлайн d на одну попытку запроса, если у контекста
// ещё нет дедлайна. Существующий дедлайн не переопределяется.
//
// Контракт:
//  1. d <= 0 — запрос передаётся дальше без изменений;
//  2. у ctx уже есть deadline — оставляет как есть;
//  3. иначе — контекст с таймаутом живёт до закрытия тела ответа
//     (чтение тела тоже укладывается в d), при ошибке отменяется сразу.
func Timeout(d time.Duration) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return Func(func(req *http.Request) (*http.Response, error) {
			if d <= 0 {
				return next.RoundTrip(req)
			}

			if _, ok := req.Context().Deadline(); ok {
				return next.RoundTrip(req)
			}

			ctx, cancel := context.WithTimeout(req.Context(), d)

			resp, err := next.RoundTrip(req.WithContext(ctx))
			if err != nil {
				cancel()
				return nil, err
			}

			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		})
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
