// redis — реализация storage.CredentialStore поверх Redis Hash.
//
// Ключи:
//   - <prefix>session — Hash с полями access, refresh, uid, nickname;
//   - <prefix>salt — соль argon2id (создаётся один раз через SETNX).
//
// Каждое поле запечатано sealbox отдельно (AD = имя поля) и хранится в base64.
// Пара токенов пишется через MULTI/EXEC (TxPipeline), читается одним HMGET:
// читатель не видит новый access со старым refresh.
package redis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/pribylovaa/photostamp-session/internal/models"
	"github.com/pribylovaa/photostamp-session/internal/pkg/sealbox"
	"github.com/pribylovaa/photostamp-session/internal/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix — префикс ключей, если в конфиге пусто.
const DefaultPrefix = "photostamp:session:"

const (
	fieldAccess   = "access"
	fieldRefresh  = "refresh"
	fieldUserID   = "uid"
	fieldNickname = "nickname"
)

// Store — хранилище сессии в Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
	box    *sealbox.Box
	owned  bool
}

// Open создаёт клиент Redis из URL (например, redis://:pass@host:6379/0),
// проверяет доступность и готовит ключ шифрования.
func Open(ctx context.Context, redisURL, prefix, passphrase string, params sealbox.Params) (*Store, error) {
	const op = "storage/redis/Open"

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, storage.Wrap(op, err)
	}

	st, err := NewWithClient(ctx, rdb, prefix, passphrase, params)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	st.owned = true
	return st, nil
}

// NewWithClient использует готовый клиент; Close его не закрывает.
func NewWithClient(ctx context.Context, rdb *redis.Client, prefix, passphrase string, params sealbox.Params) (*Store, error) {
	const op = "storage/redis/NewWithClient"

	if prefix == "" {
		prefix = DefaultPrefix
	}

	salt, err := loadSalt(ctx, rdb, prefix+"salt")
	if err != nil {
		return nil, storage.Wrap(op, err)
	}

	box, err := sealbox.New(passphrase, salt, params)
	if err != nil {
		if errors.Is(err, sealbox.ErrInvalidSalt) {
			return nil, storage.Wrap(op, storage.ErrCorrupted)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Store{rdb: rdb, prefix: prefix, box: box}, nil
}

// loadSalt возвращает существующую соль или атомарно публикует новую.
func loadSalt(ctx context.Context, rdb *redis.Client, key string) ([]byte, error) {
	fresh, err := sealbox.NewSalt()
	if err != nil {
		return nil, err
	}

	if err := rdb.SetNX(ctx, key, base64.StdEncoding.EncodeToString(fresh), 0).Err(); err != nil {
		return nil, err
	}

	stored, err := rdb.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, storage.ErrCorrupted
	}

	return salt, nil
}

func (s *Store) key() string { return s.prefix + "session" }

// Credentials возвращает текущую пару.
func (s *Store) Credentials(ctx context.Context) (models.Credentials, bool, error) {
	const op = "storage/redis/Credentials"

	vals, err := s.rdb.HMGet(ctx, s.key(), fieldAccess, fieldRefresh).Result()
	if err != nil {
		return models.Credentials{}, false, storage.Wrap(op, err)
	}

	access, err := s.open(fieldAccess, vals[0])
	if err != nil {
		return models.Credentials{}, false, storage.Wrap(op, err)
	}

	refresh, err := s.open(fieldRefresh, vals[1])
	if err != nil {
		return models.Credentials{}, false, storage.Wrap(op, err)
	}

	creds := models.Credentials{AccessToken: access, RefreshToken: refresh}
	switch {
	case creds.Empty():
		return models.Credentials{}, false, nil
	case !creds.Complete():
		return models.Credentials{}, false, storage.Wrap(op, storage.ErrCorrupted)
	}

	return creds, true, nil
}

// SaveCredentials атомарно перезаписывает обе части пары.
func (s *Store) SaveCredentials(ctx context.Context, creds models.Credentials) error {
	const op = "storage/redis/SaveCredentials"

	if err := storage.ValidatePair(creds); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	kv, err := s.sealPair(creds)
	if err != nil {
		return storage.Wrap(op, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(), kv)
		return nil
	})

	return storage.Wrap(op, err)
}

// Identity возвращает кэшированную идентичность.
func (s *Store) Identity(ctx context.Context) (models.Identity, bool, error) {
	const op = "storage/redis/Identity"

	vals, err := s.rdb.HMGet(ctx, s.key(), fieldUserID, fieldNickname).Result()
	if err != nil {
		return models.Identity{}, false, storage.Wrap(op, err)
	}

	rawID, err := s.open(fieldUserID, vals[0])
	if err != nil {
		return models.Identity{}, false, storage.Wrap(op, err)
	}

	nickname, err := s.open(fieldNickname, vals[1])
	if err != nil {
		return models.Identity{}, false, storage.Wrap(op, err)
	}

	var id int64
	if rawID != "" {
		id, err = strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return models.Identity{}, false, storage.Wrap(op, storage.ErrCorrupted)
		}
	}

	if id == 0 && nickname == "" {
		return models.Identity{}, false, nil
	}

	return models.Identity{UserID: id, Nickname: nickname}, true, nil
}

// SaveIdentity обновляет идентичность, пара токенов не меняется.
func (s *Store) SaveIdentity(ctx context.Context, identity models.Identity) error {
	const op = "storage/redis/SaveIdentity"

	set, del, err := s.sealIdentity(identity)
	if err != nil {
		return storage.Wrap(op, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(set) > 0 {
			pipe.HSet(ctx, s.key(), set)
		}
		if len(del) > 0 {
			pipe.HDel(ctx, s.key(), del...)
		}
		return nil
	})

	return storage.Wrap(op, err)
}

// SaveSession сохраняет пару и идентичность одной транзакцией.
func (s *Store) SaveSession(ctx context.Context, creds models.Credentials, identity models.Identity) error {
	const op = "storage/redis/SaveSession"

	if err := storage.ValidatePair(creds); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	kv, err := s.sealPair(creds)
	if err != nil {
		return storage.Wrap(op, err)
	}

	set, del, err := s.sealIdentity(identity)
	if err != nil {
		return storage.Wrap(op, err)
	}

	for k, v := range set {
		kv[k] = v
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(), kv)
		if len(del) > 0 {
			pipe.HDel(ctx, s.key(), del...)
		}
		return nil
	})

	return storage.Wrap(op, err)
}

// IsAuthenticated — присутствуют ли обе части пары.
func (s *Store) IsAuthenticated(ctx context.Context) (bool, error) {
	_, ok, err := s.Credentials(ctx)
	return ok, err
}

// Clear удаляет Hash сессии целиком. Соль остаётся.
func (s *Store) Clear(ctx context.Context) error {
	return storage.Wrap("storage/redis/Clear", s.rdb.Del(ctx, s.key()).Err())
}

// Close закрывает клиент Redis, если он создан в Open.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}

	return s.rdb.Close()
}

func (s *Store) sealPair(creds models.Credentials) (map[string]string, error) {
	access, err := s.seal(fieldAccess, creds.AccessToken)
	if err != nil {
		return nil, err
	}

	refresh, err := s.seal(fieldRefresh, creds.RefreshToken)
	if err != nil {
		return nil, err
	}

	return map[string]string{fieldAccess: access, fieldRefresh: refresh}, nil
}

// sealIdentity возвращает поля для HSET и имена полей для HDEL (пустые значения).
func (s *Store) sealIdentity(identity models.Identity) (map[string]string, []string, error) {
	set := make(map[string]string, 2)
	var del []string

	if identity.UserID != 0 {
		v, err := s.seal(fieldUserID, strconv.FormatInt(identity.UserID, 10))
		if err != nil {
			return nil, nil, err
		}
		set[fieldUserID] = v
	} else {
		del = append(del, fieldUserID)
	}

	if identity.Nickname != "" {
		v, err := s.seal(fieldNickname, identity.Nickname)
		if err != nil {
			return nil, nil, err
		}
		set[fieldNickname] = v
	} else {
		del = append(del, fieldNickname)
	}

	return set, del, nil
}

func (s *Store) seal(field, plain string) (string, error) {
	sealed, err := s.box.Seal([]byte(plain), []byte(field))
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// open расшифровывает значение из HMGET; отсутствующее поле даёт "".
func (s *Store) open(field string, v any) (string, error) {
	if v == nil {
		return "", nil
	}

	str, ok := v.(string)
	if !ok {
		return "", storage.ErrCorrupted
	}

	sealed, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return "", storage.ErrCorrupted
	}

	plain, err := s.box.Open(sealed, []byte(field))
	if err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrCorrupted, err)
	}

	return string(plain), nil
}

// Проверка выполнения контракта верхнего уровня.
var _ storage.CredentialStore = (*Store)(nil)
