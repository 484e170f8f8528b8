// clients собирает HTTP-клиентов для REST API приложения.
//
// Gateway владеет тремя *http.Client поверх одного *http.Transport:
//   - General: Metadata -> Logging -> Renewer -> Authenticator -> Timeout;
//   - Upload: Logging -> Timeout (без авторизации, для presigned PUT);
//   - bare (внутренний): Metadata -> Logging -> Timeout, только для refresh,
//     чтобы продление не рекурсировало через Authenticator/Renewer.
package clients

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pribylovaa/photostamp-session/internal/clients/roundtrippers"
	"github.com/pribylovaa/photostamp-session/internal/config"
	"github.com/pribylovaa/photostamp-session/internal/metrics"
	"github.com/pribylovaa/photostamp-session/internal/storage"
)

// DefaultTimeout — таймаут по умолчанию для connect/read/write.
const DefaultTimeout = 30 * time.Second

// Options — параметры Gateway.
type Options struct {
	BaseURL        string
	UserAgent      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRetries     int

	Logger  *slog.Logger
	Metrics *metrics.Session

	// Transport подменяет базовый транспорт (тесты); по умолчанию — общий *http.Transport.
	Transport http.RoundTripper
}

// OptionsFromConfig переносит настройки из конфигурации.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:        cfg.API.BaseURL,
		UserAgent:      cfg.API.UserAgent,
		ConnectTimeout: cfg.Timeouts.Connect,
		ReadTimeout:    cfg.Timeouts.Read,
		WriteTimeout:   cfg.Timeouts.Write,
		MaxRetries:     cfg.Renewal.MaxRetries,
	}
}

// Gateway — точка доступа к API. Создаётся явно, хранилище внедряется.
type Gateway struct {
	opts  Options
	store storage.CredentialStore

	once      sync.Once
	transport *http.Transport
	general   *http.Client
	upload    *http.Client
	bare      *http.Client
	auth      *AuthAPI
	renewer   *roundtrippers.Renewer
}

// New проверяет параметры; клиенты собираются лениво и ровно один раз.
func New(store storage.CredentialStore, opts Options) (*Gateway, error) {
	const op = "clients/New"

	if store == nil {
		return nil, fmt.Errorf("%s: nil credential store", op)
	}

	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s: invalid base url %q", op, opts.BaseURL)
	}

	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Gateway{opts: opts, store: store}, nil
}

// General — клиент для всех вызовов API (авторизация + продление).
func (g *Gateway) General() *http.Client {
	g.once.Do(g.build)
	return g.general
}

// Upload — клиент для загрузки по presigned URL, без авторизации.
func (g *Gateway) Upload() *http.Client {
	g.once.Do(g.build)
	return g.upload
}

// Auth — типизированные вызовы /auth/*.
func (g *Gateway) Auth() *AuthAPI {
	g.once.Do(g.build)
	return g.auth
}

// Renewer — общий механизм продления (для явного refresh).
func (g *Gateway) Renewer() *roundtrippers.Renewer {
	g.once.Do(g.build)
	return g.renewer
}

// BaseURL возвращает базовый адрес API.
func (g *Gateway) BaseURL() string { return g.opts.BaseURL }

// Close освобождает простаивающие соединения.
func (g *Gateway) Close() error {
	if g.transport != nil {
		g.transport.CloseIdleConnections()
	}

	return nil
}

func (g *Gateway) build() {
	base := g.opts.Transport
	if base == nil {
		g.transport = newTransport(g.opts.ConnectTimeout, g.opts.ReadTimeout)
		base = g.transport
	}

	// Одна попытка целиком: установка соединения, отправка тела, чтение ответа.
	perAttempt := g.opts.ConnectTimeout + g.opts.WriteTimeout + g.opts.ReadTimeout

	g.bare = &http.Client{
		Transport: roundtrippers.Chain(base,
			roundtrippers.Metadata(g.opts.UserAgent),
			roundtrippers.Logging(g.opts.Logger),
			roundtrippers.Timeout(perAttempt),
		),
	}

	g.auth = &AuthAPI{baseURL: g.opts.BaseURL, bare: g.bare, store: g.store}

	g.renewer = roundtrippers.NewRenewer(g.store, g.auth,
		roundtrippers.WithMaxRetries(g.opts.MaxRetries),
		roundtrippers.WithMetrics(g.opts.Metrics),
	)

	g.general = &http.Client{
		Transport: roundtrippers.Chain(base,
			roundtrippers.Metadata(g.opts.UserAgent),
			roundtrippers.Logging(g.opts.Logger),
			g.renewer.Middleware,
			roundtrippers.Authenticator(g.store),
			roundtrippers.Timeout(perAttempt),
		),
	}
	g.auth.general = g.general

	g.upload = &http.Client{
		Transport: roundtrippers.Chain(base,
			roundtrippers.Logging(g.opts.Logger),
			roundtrippers.Timeout(perAttempt),
		),
	}
}

func newTransport(connect, read time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   connect,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
