// sealbox шифрует локальное состояние сессии.
//
// Ключ выводится из парольной фразы устройства через Argon2id (соль хранится
// рядом с шифртекстом), шифрование — XChaCha20-Poly1305 со случайным nonce.
// Формат запечатанного блока: nonce(24) || ciphertext+tag.
package sealbox

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SaltSize — длина соли Argon2id в байтах.
const SaltSize = 16

var (
	// ErrEmptyPassphrase — парольная фраза не задана.
	ErrEmptyPassphrase = errors.New("empty passphrase")
	// ErrInvalidSalt — соль отсутствует или имеет неверную длину.
	ErrInvalidSalt = errors.New("invalid salt")
	// ErrOpen — блок не расшифровывается (чужой ключ, порча данных, подмена AD).
	ErrOpen = errors.New("sealed data cannot be opened")
)

// Params — параметры Argon2id.
type Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultParams — значения по умолчанию (рекомендация RFC 9106 для интерактивных сценариев).
func DefaultParams() Params {
	return Params{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}
}

func (p Params) normalize() Params {
	d := DefaultParams()
	if p.Time == 0 {
		p.Time = d.Time
	}
	if p.MemoryKiB == 0 {
		p.MemoryKiB = d.MemoryKiB
	}
	if p.Threads == 0 {
		p.Threads = d.Threads
	}

	return p
}

// Box — AEAD с ключом, выведенным из парольной фразы и соли.
// Безопасен для конкурентного использования.
type Box struct {
	aead cipher.AEAD
	salt []byte
}

// NewSalt генерирует криптографически стойкую соль.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("sealbox/NewSalt: %w", err)
	}

	return salt, nil
}

// New выводит ключ и создаёт Box.
func New(passphrase string, salt []byte, p Params) (*Box, error) {
	const op = "sealbox/New"

	if passphrase == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyPassphrase)
	}

	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSalt)
	}

	p = p.normalize()
	key := argon2.IDKey([]byte(passphrase), salt, p.Time, p.MemoryKiB, p.Threads, chacha20poly1305.KeySize)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := make([]byte, len(salt))
	copy(s, salt)

	return &Box{aead: aead, salt: s}, nil
}

// Salt возвращает копию соли, с которой был выведен ключ.
func (b *Box) Salt() []byte {
	s := make([]byte, len(b.salt))
	copy(s, b.salt)
	return s
}

// Seal шифрует plain; ad связывает шифртекст с контекстом (имя поля, версия формата).
func (b *Box) Seal(plain, ad []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plain)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sealbox/Seal: %w", err)
	}

	return b.aead.Seal(nonce, nonce, plain, ad), nil
}

// Open расшифровывает блок, созданный Seal с тем же ad.
func (b *Box) Open(sealed, ad []byte) ([]byte, error) {
	ns := b.aead.NonceSize()
	if len(sealed) < ns+b.aead.Overhead() {
		return nil, ErrOpen
	}

	plain, err := b.aead.Open(nil, sealed[:ns], sealed[ns:], ad)
	if err != nil {
		return nil, ErrOpen
	}

	return plain, nil
}
