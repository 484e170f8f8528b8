// storage задаёт контракт локального хранилища сессии (CredentialStore).
//
// Требования к реализациям:
//   - данные зашифрованы "на диске" (см. internal/pkg/sealbox);
//   - запись пары токенов атомарна: читатель никогда не видит новый access
//     вместе со старым refresh (и наоборот), частичная пара не сохраняется;
//   - ошибки хранилища возвращаются вызывающему как *Error и не ретраятся.
package storage

//go:generate mockgen -destination=../../mocks/mock_storage.go -package=mocks github.com/pribylovaa/photostamp-session/internal/storage CredentialStore

import (
	"context"
	"errors"

	"github.com/pribylovaa/photostamp-session/internal/models"
)

var (
	// ErrInvalidArgument — попытка сохранить частичную пару токенов.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCorrupted — сохранённое состояние не расшифровывается или нарушает инвариант пары.
	ErrCorrupted = errors.New("corrupted")
)

// CredentialStore — долговременное зашифрованное хранилище пары токенов
// и кэшированной идентичности пользователя.
type CredentialStore interface {
	// Credentials возвращает текущую пару; ok=false, если пользователь не залогинен.
	Credentials(ctx context.Context) (creds models.Credentials, ok bool, err error)
	// SaveCredentials атомарно перезаписывает обе части пары.
	SaveCredentials(ctx context.Context, creds models.Credentials) error
	// Identity возвращает кэшированную идентичность; ok=false, если её нет.
	Identity(ctx context.Context) (identity models.Identity, ok bool, err error)
	// SaveIdentity обновляет идентичность, не трогая пару токенов.
	SaveIdentity(ctx context.Context, identity models.Identity) error
	// SaveSession одной записью сохраняет пару и идентичность (login/refresh).
	SaveSession(ctx context.Context, creds models.Credentials, identity models.Identity) error
	// IsAuthenticated — true, если присутствуют обе части пары.
	IsAuthenticated(ctx context.Context) (bool, error)
	// Clear стирает все поля (пара + идентичность).
	Clear(ctx context.Context) error
	// Close освобождает ресурсы хранилища.
	Close() error
}

// Error — сбой слоя хранения (диск, Redis, расшифровка).
// Для сессионного слоя это фатальный класс ошибок: восстановиться без
// читаемого/записываемого хранилища нельзя.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap оборачивает err в *Error (nil остаётся nil).
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Op: op, Err: err}
}

// IsStorageError сообщает, является ли err (или одна из обёрнутых в неё) сбоем хранилища.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// ValidatePair проверяет инвариант "обе части или ни одной" для сохраняемой пары.
// Пустую пару сохранять тоже нельзя: для выхода используется Clear.
func ValidatePair(creds models.Credentials) error {
	if !creds.Complete() {
		return ErrInvalidArgument
	}

	return nil
}
