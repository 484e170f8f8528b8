package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pribylovaa/photostamp-session/internal/models"
	"github.com/pribylovaa/photostamp-session/internal/pkg/sealbox"
	"github.com/pribylovaa/photostamp-session/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Интеграционные тесты для пакета redis:
// — поднимают реальный Redis через testcontainers-go (образ redis:7-alpine);
// — проверяют:
//    SaveSession/Credentials/Identity: round-trip и шифрование полей;
//    частичную пару: отказ при записи и ErrCorrupted при чтении;
//    повторное открытие с той же/чужой парольной фразой;
//    Clear.
//
// Запуск:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/redis -v -race -count=1

var testParams = sealbox.Params{Time: 1, MemoryKiB: 1024, Threads: 1}

// startRedis поднимает Redis и возвращает его URL.
func startRedis(t *testing.T) string {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "6379/tcp")
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestIntegration_SaveSession_RoundTrip(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	st, err := Open(ctx, url, "test:", "pass", testParams)
	require.NoError(t, err)
	defer st.Close()

	_, ok, err := st.Credentials(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.SaveSession(ctx,
		models.Credentials{AccessToken: "A1", RefreshToken: "R1"},
		models.Identity{UserID: 42, Nickname: "kim"},
	))

	// В Redis лежат только шифртексты.
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	raw := redis.NewClient(opt)
	defer raw.Close()

	m, err := raw.HGetAll(ctx, "test:session").Result()
	require.NoError(t, err)
	require.Len(t, m, 4)
	for _, v := range m {
		require.NotContains(t, v, "A1")
		require.NotContains(t, v, "kim")
	}

	creds, ok, err := st.Credentials(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.Credentials{AccessToken: "A1", RefreshToken: "R1"}, creds)

	id, ok, err := st.Identity(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.Identity{UserID: 42, Nickname: "kim"}, id)

	// Пустой ник удаляет поле.
	require.NoError(t, st.SaveIdentity(ctx, models.Identity{UserID: 42}))
	id, _, err = st.Identity(ctx)
	require.NoError(t, err)
	require.Equal(t, models.Identity{UserID: 42}, id)

	// Тот же пароль: данные читаются новым экземпляром.
	re, err := Open(ctx, url, "test:", "pass", testParams)
	require.NoError(t, err)
	defer re.Close()

	creds, ok, err = re.Credentials(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "R1", creds.RefreshToken)

	// Чужой пароль: ErrCorrupted, а не мусор.
	wrong, err := Open(ctx, url, "test:", "other", testParams)
	require.NoError(t, err)
	defer wrong.Close()

	_, _, err = wrong.Credentials(ctx)
	require.ErrorIs(t, err, storage.ErrCorrupted)
	require.True(t, storage.IsStorageError(err))

	require.NoError(t, st.Clear(ctx))
	authed, err := st.IsAuthenticated(ctx)
	require.NoError(t, err)
	require.False(t, authed)
}

func TestIntegration_PartialPair(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	st, err := Open(ctx, url, "", "pass", testParams)
	require.NoError(t, err)
	defer st.Close()

	err = st.SaveCredentials(ctx, models.Credentials{AccessToken: "A1"})
	require.ErrorIs(t, err, storage.ErrInvalidArgument)

	require.NoError(t, st.SaveCredentials(ctx, models.Credentials{AccessToken: "A1", RefreshToken: "R1"}))

	// Порча извне: осталось только одно поле пары.
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	raw := redis.NewClient(opt)
	defer raw.Close()
	require.NoError(t, raw.HDel(ctx, DefaultPrefix+"session", fieldRefresh).Err())

	_, _, err = st.Credentials(ctx)
	require.ErrorIs(t, err, storage.ErrCorrupted)
}

func TestOpen_BadURL(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "not-a-url", "", "pass", testParams)
	require.Error(t, err)
}
