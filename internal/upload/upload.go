// upload выполняет загрузку файлов по presigned PUT URL через клиент
// без авторизации: подпись в URL заменяет bearer-токен сессии.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/pribylovaa/photostamp-session/internal/clients"
	"github.com/pribylovaa/photostamp-session/internal/models"
	"github.com/pribylovaa/photostamp-session/internal/pkg/log"
	"github.com/pribylovaa/photostamp-session/internal/pkg/redact"
)

var (
	// ErrPresignExpired — срок действия подписи истёк до начала загрузки.
	ErrPresignExpired = errors.New("presigned url expired")
	// ErrInvalidPresign — в выданной загрузке нет URL.
	ErrInvalidPresign = errors.New("invalid presigned upload")
)

// Uploader — PUT по presigned URL.
type Uploader struct {
	client *http.Client
	now    func() time.Time
}

// New создаёт Uploader поверх клиента загрузок (Gateway.Upload()).
func New(client *http.Client) *Uploader {
	if client == nil {
		client = http.DefaultClient
	}

	return &Uploader{client: client, now: time.Now}
}

// Upload отправляет body по p.URL с обязательными заголовками из p.Headers.
// Истёкшая подпись отклоняется без обращения к сети; не-2xx возвращается
// как *clients.StatusError.
func (u *Uploader) Upload(ctx context.Context, p models.PresignedUpload, body io.Reader) error {
	const op = "upload/Uploader.Upload"

	if p.URL == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidPresign)
	}

	if !p.ExpiresAt.IsZero() && !u.now().Before(p.ExpiresAt) {
		return fmt.Errorf("%s: %w", op, ErrPresignExpired)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.URL, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for k, v := range p.Headers {
		if http.CanonicalHeaderKey(k) == "Content-Length" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: content length %q: %w", op, v, ErrInvalidPresign)
			}
			req.ContentLength = n
			continue
		}

		req.Header.Set(k, v)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %w", op, &clients.StatusError{StatusCode: resp.StatusCode})
	}

	log.From(ctx).Info("upload_completed",
		slog.String("key", p.Key),
		slog.String("url", redact.URL(p.URL)),
		slog.Int64("bytes", req.ContentLength),
	)

	return nil
}

// UploadFile загружает файл с диска; Content-Length берётся из размера файла,
// если подпись его не фиксирует.
func (u *Uploader) UploadFile(ctx context.Context, p models.PresignedUpload, path string) error {
	const op = "upload/Uploader.UploadFile"

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, ok := p.Headers["Content-Length"]; !ok {
		headers := make(map[string]string, len(p.Headers)+1)
		for k, v := range p.Headers {
			headers[k] = v
		}
		headers["Content-Length"] = strconv.FormatInt(info.Size(), 10)
		p.Headers = headers
	}

	return u.Upload(ctx, p, f)
}
