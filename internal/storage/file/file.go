// file — реализация storage.CredentialStore поверх одного зашифрованного файла.
//
// Формат файла (JSON): {"v":1,"salt":"<base64>","box":"<base64>"}, где box —
// запечатанный sealbox JSON-снимок всех полей сессии. Каждая мутация пишет
// новый снимок во временный файл, делает fsync и атомарно переименовывает его
// поверх старого: после падения процесса на диске либо старый, либо новый
// снимок целиком. Снимок в памяти заменяется только после успешной записи.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pribylovaa/photostamp-session/internal/models"
	"github.com/pribylovaa/photostamp-session/internal/pkg/sealbox"
	"github.com/pribylovaa/photostamp-session/internal/storage"
)

const formatVersion = 1

// additional data для AEAD: шифртекст не переносится между форматами.
var snapshotAD = []byte("photostamp-session/file/v1")

type envelope struct {
	Version int    `json:"v"`
	Salt    []byte `json:"salt"`
	Box     []byte `json:"box"`
}

type snapshot struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	UserID       int64  `json:"user_id,omitempty"`
	Nickname     string `json:"nickname,omitempty"`
}

func (s snapshot) credentials() models.Credentials {
	return models.Credentials{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
}

// Store — файловое хранилище сессии. Безопасно для конкурентного использования
// внутри одного процесса.
type Store struct {
	path string
	box  *sealbox.Box

	mu   sync.RWMutex
	snap snapshot
}

// Open открывает (или подготавливает к созданию) файл сессии по path.
// Существующий файл расшифровывается сразу: неверная парольная фраза или
// порча данных дают storage.ErrCorrupted.
func Open(path, passphrase string, params sealbox.Params) (*Store, error) {
	const op = "storage/file/Open"

	if path == "" {
		return nil, fmt.Errorf("%s: empty path", op)
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		salt, err := sealbox.NewSalt()
		if err != nil {
			return nil, storage.Wrap(op, err)
		}

		box, err := sealbox.New(passphrase, salt, params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		return &Store{path: path, box: box}, nil
	case err != nil:
		return nil, storage.Wrap(op, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version != formatVersion {
		return nil, storage.Wrap(op, storage.ErrCorrupted)
	}

	box, err := sealbox.New(passphrase, env.Salt, params)
	if err != nil {
		if errors.Is(err, sealbox.ErrInvalidSalt) {
			return nil, storage.Wrap(op, storage.ErrCorrupted)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	plain, err := box.Open(env.Box, snapshotAD)
	if err != nil {
		return nil, storage.Wrap(op, fmt.Errorf("%w: %v", storage.ErrCorrupted, err))
	}

	var snap snapshot
	if err := json.Unmarshal(plain, &snap); err != nil {
		return nil, storage.Wrap(op, storage.ErrCorrupted)
	}

	if c := snap.credentials(); !c.Complete() && !c.Empty() {
		return nil, storage.Wrap(op, storage.ErrCorrupted)
	}

	return &Store{path: path, box: box, snap: snap}, nil
}

// Credentials возвращает текущую пару.
func (s *Store) Credentials(_ context.Context) (models.Credentials, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.snap.credentials()
	if !c.Complete() {
		return models.Credentials{}, false, nil
	}

	return c, true, nil
}

// SaveCredentials атомарно перезаписывает обе части пары.
func (s *Store) SaveCredentials(_ context.Context, creds models.Credentials) error {
	const op = "storage/file/SaveCredentials"

	if err := storage.ValidatePair(creds); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return s.mutate(op, func(next *snapshot) {
		next.AccessToken = creds.AccessToken
		next.RefreshToken = creds.RefreshToken
	})
}

// Identity возвращает кэшированную идентичность.
func (s *Store) Identity(_ context.Context) (models.Identity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap.UserID == 0 && s.snap.Nickname == "" {
		return models.Identity{}, false, nil
	}

	return models.Identity{UserID: s.snap.UserID, Nickname: s.snap.Nickname}, true, nil
}

// SaveIdentity обновляет идентичность, пара токенов не меняется.
func (s *Store) SaveIdentity(_ context.Context, identity models.Identity) error {
	return s.mutate("storage/file/SaveIdentity", func(next *snapshot) {
		next.UserID = identity.UserID
		next.Nickname = identity.Nickname
	})
}

// SaveSession сохраняет пару и идентичность одним снимком.
func (s *Store) SaveSession(_ context.Context, creds models.Credentials, identity models.Identity) error {
	const op = "storage/file/SaveSession"

	if err := storage.ValidatePair(creds); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return s.mutate(op, func(next *snapshot) {
		next.AccessToken = creds.AccessToken
		next.RefreshToken = creds.RefreshToken
		next.UserID = identity.UserID
		next.Nickname = identity.Nickname
	})
}

// IsAuthenticated — присутствуют ли обе части пары.
func (s *Store) IsAuthenticated(ctx context.Context) (bool, error) {
	_, ok, err := s.Credentials(ctx)
	return ok, err
}

// Clear удаляет файл сессии и обнуляет снимок в памяти.
func (s *Store) Clear(_ context.Context) error {
	const op = "storage/file/Clear"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storage.Wrap(op, err)
	}

	s.snap = snapshot{}
	return nil
}

// Close — файловому хранилищу нечего освобождать.
func (s *Store) Close() error { return nil }

// mutate применяет fn к копии снимка, сохраняет её на диск и только затем
// публикует в памяти. При ошибке записи состояние не меняется.
func (s *Store) mutate(op string, fn func(next *snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap
	fn(&next)

	if err := s.persist(next); err != nil {
		return storage.Wrap(op, err)
	}

	s.snap = next
	return nil
}

func (s *Store) persist(snap snapshot) error {
	plain, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	sealed, err := s.box.Seal(plain, snapshotAD)
	if err != nil {
		return err
	}

	data, err := json.Marshal(envelope{Version: formatVersion, Salt: s.box.Salt(), Box: sealed})
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Временный файл не должен пережить неудачную запись.
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}

	committed = true
	return nil
}

// Проверка выполнения контракта верхнего уровня.
var _ storage.CredentialStore = (*Store)(nil)
