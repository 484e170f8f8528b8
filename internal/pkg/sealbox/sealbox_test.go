package sealbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Лёгкие параметры, чтобы не тратить 64 MiB на каждый тест.
var testParams = Params{Time: 1, MemoryKiB: 1024, Threads: 1}

func newBox(t *testing.T, pass string) *Box {
	t.Helper()
	salt, err := NewSalt()
	require.NoError(t, err)

	b, err := New(pass, salt, testParams)
	require.NoError(t, err)
	return b
}

func TestSealOpen_RoundTrip(t *testing.T) {
	t.Parallel()

	b := newBox(t, "device-secret")
	sealed, err := b.Seal([]byte("R1"), []byte("refresh"))
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "R1")

	plain, err := b.Open(sealed, []byte("refresh"))
	require.NoError(t, err)
	require.Equal(t, "R1", string(plain))
}

func TestSeal_NonceIsRandom(t *testing.T) {
	t.Parallel()

	b := newBox(t, "device-secret")
	s1, err := b.Seal([]byte("same"), nil)
	require.NoError(t, err)
	s2, err := b.Seal([]byte("same"), nil)
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)
}

func TestOpen_Failures(t *testing.T) {
	t.Parallel()

	b := newBox(t, "device-secret")
	sealed, err := b.Seal([]byte("A1"), []byte("access"))
	require.NoError(t, err)

	// Другой AD.
	_, err = b.Open(sealed, []byte("refresh"))
	require.ErrorIs(t, err, ErrOpen)

	// Подмена байта.
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = b.Open(tampered, []byte("access"))
	require.ErrorIs(t, err, ErrOpen)

	// Слишком короткий блок.
	_, err = b.Open([]byte{1, 2, 3}, []byte("access"))
	require.ErrorIs(t, err, ErrOpen)
}

func TestNew_SameSaltSamePassphrase_Interoperable(t *testing.T) {
	t.Parallel()

	salt, err := NewSalt()
	require.NoError(t, err)

	b1, err := New("pass", salt, testParams)
	require.NoError(t, err)
	b2, err := New("pass", b1.Salt(), testParams)
	require.NoError(t, err)

	sealed, err := b1.Seal([]byte("payload"), nil)
	require.NoError(t, err)
	plain, err := b2.Open(sealed, nil)
	require.NoError(t, err)
	require.Equal(t, "payload", string(plain))

	wrong, err := New("other", salt, testParams)
	require.NoError(t, err)
	_, err = wrong.Open(sealed, nil)
	require.ErrorIs(t, err, ErrOpen)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	salt, err := NewSalt()
	require.NoError(t, err)

	_, err = New("", salt, testParams)
	require.ErrorIs(t, err, ErrEmptyPassphrase)

	_, err = New("pass", []byte("short"), testParams)
	require.ErrorIs(t, err, ErrInvalidSalt)
}
