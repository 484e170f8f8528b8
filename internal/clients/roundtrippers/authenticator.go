package roundtrippers

import (
	"log/slog"
	"net/http"

	"github.com/pribylovaa/photostamp-session/internal/pkg/log"
	"github.com/pribylovaa/photostamp-session/internal/pkg/redact"
	"github.com/pribylovaa/photostamp-session/internal/storage"
)

// Authenticator прикрепляет "Authorization: Bearer <access>" из хранилища.
//
// Контракт:
//  1. запрос из allow-list (IsPublic) уходит без изменений;
//  2. пользователь не залогинен — запрос уходит без заголовка, отказ
//     обрабатывает сервер;
//  3. иначе заголовок ставится на копию запроса, исходный не меняется.
//
// Ошибка чтения хранилища возвращается как есть: повторов нет.
func Authenticator(store storage.CredentialStore) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return Func(func(req *http.Request) (*http.Response, error) {
			if IsPublic(req) {
				return next.RoundTrip(req)
			}

			creds, ok, err := store.Credentials(req.Context())
			if err != nil {
				closeRequestBody(req)
				return nil, err
			}

			if !ok {
				return next.RoundTrip(req)
			}

			r := req.Clone(req.Context())
			r.Header.Set(HeaderAuthorization, "Bearer "+creds.AccessToken)

			log.From(r.Context()).Debug("bearer_attached",
				slog.String("authorization", redact.Authorization(r.Header.Get(HeaderAuthorization))),
			)

			return next.RoundTrip(r)
		})
	}
}
