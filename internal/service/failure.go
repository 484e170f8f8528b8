package service

import (
	"context"
	"errors"
	"net/url"

	"github.com/pribylovaa/photostamp-session/internal/clients"
	"github.com/pribylovaa/photostamp-session/internal/clients/roundtrippers"
	"github.com/pribylovaa/photostamp-session/internal/storage"
)

// Kind — класс неуспеха операции.
type Kind string

const (
	// KindTransport — нет связи, DNS, TLS, таймаут.
	KindTransport Kind = "transport"
	// KindServer — сервер ответил не-2xx.
	KindServer Kind = "server"
	// KindEmpty — 2xx без данных или с неразбираемым телом.
	KindEmpty Kind = "empty"
	// KindBusiness — конверт с success=false.
	KindBusiness Kind = "business"
	// KindUnauthenticated — нет активной сессии.
	KindUnauthenticated Kind = "unauthenticated"
	// KindInvalidArgument — вызов отклонён до обращения к сети.
	KindInvalidArgument Kind = "invalid_argument"
)

// Failure — единый результат-неуспех сессионной операции.
//   - Message: человекочитаемая причина ("server error: 500", "empty response",
//     сообщение API или сети);
//   - Code: код из конверта API, если он был;
//   - Status: HTTP-статус для KindServer.
type Failure struct {
	Kind    Kind
	Message string
	Code    string
	Status  int
	Err     error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure достаёт *Failure из цепочки err. ok=false — ошибка фатальная
// (сбой хранилища) или не относится к операции репозитория.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}

	return nil, false
}

// toFailure приводит ошибку вызова API к *Failure.
// Сбой хранилища возвращается без изменений.
func toFailure(err error) error {
	if err == nil {
		return nil
	}

	if storage.IsStorageError(err) {
		return err
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var se *clients.StatusError
	if errors.As(err, &se) {
		return &Failure{Kind: KindServer, Message: se.Error(), Code: se.Code, Status: se.StatusCode, Err: err}
	}

	var be *clients.BusinessError
	if errors.As(err, &be) {
		return &Failure{Kind: KindBusiness, Message: be.Error(), Code: be.Code, Err: err}
	}

	if errors.Is(err, clients.ErrEmptyResponse) {
		return &Failure{Kind: KindEmpty, Message: clients.ErrEmptyResponse.Error(), Err: err}
	}

	if errors.Is(err, roundtrippers.ErrNoRefreshToken) {
		return &Failure{Kind: KindUnauthenticated, Message: ErrNotAuthenticated.Error(), Err: err}
	}

	msg := err.Error()
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		msg = ue.Err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		msg = context.DeadlineExceeded.Error()
	}

	return &Failure{Kind: KindTransport, Message: msg, Err: err}
}

func invalidArgument(msg string) *Failure {
	return &Failure{Kind: KindInvalidArgument, Message: msg}
}

func notAuthenticated() *Failure {
	return &Failure{Kind: KindUnauthenticated, Message: ErrNotAuthenticated.Error(), Err: ErrNotAuthenticated}
}
