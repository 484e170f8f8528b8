// minio — dev-подписчик загрузок фотографий на базе MinIO/S3.
// В проде presigned URL выдаёт сервер; локально их выдаёт этот пакет,
// чтобы загрузчик можно было прогнать против настоящего S3-совместимого хранилища.
package minio

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pribylovaa/photostamp-session/internal/config"
	"github.com/pribylovaa/photostamp-session/internal/models"
	"github.com/pribylovaa/photostamp-session/internal/storage"
)

// MaxUploadBytes — верхняя граница размера одной фотографии.
const MaxUploadBytes = 32 << 20

// Presigner выдаёт presigned PUT URL для загрузки фотографий.
type Presigner struct {
	client *mclient.Client
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

// New создаёт клиент MinIO и проверяет наличие целевого бакета.
func New(ctx context.Context, cfg config.S3Config) (*Presigner, error) {
	const op = "storage/minio/New"

	client, err := newClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s: bucket %q does not exist", op, cfg.Bucket)
	}

	return newPresigner(client, cfg.Bucket, cfg.PresignTTL), nil
}

// newClient нормализует endpoint (убирает схему) и подбирает Secure по схеме.
func newClient(cfg config.S3Config) (*mclient.Client, error) {
	endpoint := cfg.Endpoint
	secure := strings.HasPrefix(endpoint, "https://")

	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	return mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
}

func newPresigner(client *mclient.Client, bucket string, ttl time.Duration) *Presigner {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &Presigner{client: client, bucket: bucket, ttl: ttl, now: time.Now}
}

// PresignUpload валидирует тип и размер, формирует ключ вида
// "photos/<userID>/<uuid>.<ext>" и возвращает URL вместе с заголовками,
// которые клиент обязан передать при PUT.
func (p *Presigner) PresignUpload(ctx context.Context, userID int64, contentType string, size int64) (*models.PresignedUpload, error) {
	const op = "storage/minio/PresignUpload"

	if userID <= 0 || size <= 0 || size > MaxUploadBytes {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrInvalidArgument)
	}

	var ext string
	switch contentType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	default:
		return nil, fmt.Errorf("%s: content type %q: %w", op, contentType, storage.ErrInvalidArgument)
	}

	key := path.Join("photos", strconv.FormatInt(userID, 10), uuid.NewString()+ext)
	issued := p.now()

	u, err := p.client.PresignedPutObject(ctx, p.bucket, key, p.ttl)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.PresignedUpload{
		URL:       u.String(),
		Key:       key,
		ExpiresAt: issued.Add(p.ttl).UTC(),
		Headers: map[string]string{
			"Content-Type":   contentType,
			"Content-Length": strconv.FormatInt(size, 10),
		},
	}, nil
}
