// Пакет objectstore — клиент объектного хранилища S3 для файлов кейсов:
// загрузка объектов, потоковое чтение и выпуск подписанных ссылок.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Hazimafiq/test-express-portal/internal/config"
)

// ErrObjectNotFound — объект отсутствует в хранилище.
var ErrObjectNotFound = errors.New("объект не найден в хранилище")

// SignOptions — параметры подписанной ссылки.
type SignOptions struct {
	// ContentType — переопределение Content-Type ответа (пусто — как у объекта)
	ContentType string
	// Disposition — переопределение Content-Disposition ответа (inline, attachment)
	Disposition string
	// TTL — срок действия ссылки
	TTL time.Duration
}

// unsafeKeyChars — символы, недопустимые в ключе при подписи ссылки.
var unsafeKeyChars = regexp.MustCompile(`[^\p{L}\p{N}\s._\-()@+#&!=/]`)

// SanitizeKey заменяет недопустимые символы ключа на "_".
func SanitizeKey(key string) string {
	return unsafeKeyChars.ReplaceAllString(key, "_")
}

// Store — клиент S3 с привязкой к одному bucket.
type Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	endpoint  string
	region    string
	pathStyle bool
	logger    *slog.Logger
}

// New создаёт клиент S3 по конфигурации.
// Статические ключи используются, если заданы; иначе — цепочка
// учётных данных AWS SDK по умолчанию (env, профиль, IRSA).
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS SDK: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	})

	return newStore(client, cfg.S3Bucket, cfg.S3Endpoint, cfg.S3Region, cfg.S3UsePathStyle, logger), nil
}

func newStore(client *s3.Client, bucket, endpoint, region string, pathStyle bool, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		endpoint:  endpoint,
		region:    region,
		pathStyle: pathStyle,
		logger:    logger.With(slog.String("component", "objectstore")),
	}
}

// Put загружает объект. size < 0 — размер неизвестен.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
		ACL:    types.ObjectCannedACLPrivate,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("ошибка загрузки объекта %s: %w", key, err)
	}

	s.logger.Debug("Объект загружен",
		slog.String("key", key),
		slog.Int64("size", size),
	)
	return nil
}

// Stream открывает объект на чтение. Вызывающий обязан закрыть поток.
func (s *Store) Stream(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("ошибка чтения объекта %s: %w", key, err)
	}
	return out.Body, nil
}

// MintSignedURL выпускает подписанную ссылку на чтение объекта.
// Ключ предварительно очищается через SanitizeKey.
func (s *Store) MintSignedURL(ctx context.Context, key string, opts SignOptions) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(SanitizeKey(key)),
	}
	if opts.ContentType != "" {
		input.ResponseContentType = aws.String(opts.ContentType)
	}
	if opts.Disposition != "" {
		input.ResponseContentDisposition = aws.String(opts.Disposition)
	}

	req, err := s.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(opts.TTL))
	if err != nil {
		return "", fmt.Errorf("ошибка подписи ссылки на %s: %w", key, err)
	}
	return req.URL, nil
}

// ObjectURL возвращает постоянный (неподписанный) URL объекта.
func (s *Store) ObjectURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if s.endpoint != "" {
		if s.pathStyle {
			return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, escaped)
		}
		u, err := url.Parse(s.endpoint)
		if err == nil {
			return fmt.Sprintf("%s://%s.%s/%s", u.Scheme, s.bucket, u.Host, escaped)
		}
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, strings.TrimPrefix(escaped, "/"))
}
