// signed_url.go — выдача ссылок на скачивание файлов кейса.
//
// Подписанная ссылка кэшируется в строке case_files вместе со сроком
// действия. Пока срок не истёк, повторные обращения получают ту же
// ссылку без обращения к объектному хранилищу. Параллельные обновления
// одной строки не блокируются: побеждает последняя запись.
package service

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/objectstore"
	"github.com/Hazimafiq/test-express-portal/internal/repository"
)

// SignedURLTTL — срок действия подписанной ссылки.
const SignedURLTTL = 24 * time.Hour

// expirySkew — запас до истечения, при котором ссылка уже считается устаревшей.
const expirySkew = time.Second

// Prometheus-метрики выдачи ссылок.
var (
	signedURLTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cp_signed_url_requests_total",
		Help: "Запросы ссылок на скачивание (minted — выпущена новая, cached — из кэша, error — ошибка).",
	}, []string{"result"})

	signedURLMintDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cp_signed_url_mint_duration_seconds",
		Help:    "Длительность выпуска подписанной ссылки.",
		Buckets: prometheus.DefBuckets,
	})
)

// URLSigner — выпуск подписанных ссылок на объекты.
type URLSigner interface {
	MintSignedURL(ctx context.Context, key string, opts objectstore.SignOptions) (string, error)
}

// AccessGate — выдача ссылок на скачивание с персистентным кэшем.
type AccessGate struct {
	files  repository.FileRegistryRepository
	signer URLSigner
	now    func() time.Time
	logger *slog.Logger
}

// NewAccessGate создаёт сервис выдачи ссылок.
func NewAccessGate(files repository.FileRegistryRepository, signer URLSigner, logger *slog.Logger) *AccessGate {
	return &AccessGate{
		files:  files,
		signer: signer,
		now:    time.Now,
		logger: logger.With(slog.String("component", "access_gate")),
	}
}

// ResolveDownloadURL возвращает ссылку на скачивание файла кейса.
//
// Pipeline:
//  1. Найти файл по (case_id, file_id)
//  2. Срок не задан — считается истёкшим
//  3. Истёк — выпустить ссылку на 24 часа (PDF открывается в браузере,
//     остальное скачивается), сохранить ссылку, срок и +1 к счётчику
//  4. Действует — +1 к счётчику и закэшированная ссылка
func (g *AccessGate) ResolveDownloadURL(ctx context.Context, caseID string, fileID int) (string, error) {
	f, err := g.files.GetByFileID(ctx, caseID, fileID)
	if err != nil {
		signedURLTotal.WithLabelValues("error").Inc()
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", storageErr("получение файла", err)
	}
	return g.resolve(ctx, f)
}

// ResolveByType возвращает ссылку на текущий файл указанного типа.
func (g *AccessGate) ResolveByType(ctx context.Context, caseID string, ft filetype.Type) (string, error) {
	f, err := g.files.GetBySlot(ctx, caseID, ft, nil)
	if err != nil {
		signedURLTotal.WithLabelValues("error").Inc()
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", storageErr("получение файла", err)
	}
	return g.resolve(ctx, f)
}

func (g *AccessGate) resolve(ctx context.Context, f *model.CaseFile) (string, error) {
	now := g.now()

	if f.SignedURL != nil && *f.SignedURL != "" && !expired(f.SignedURLExpiresAt, now) {
		if err := g.files.IncrementAccess(ctx, f.ID); err != nil {
			// Счётчик не критичен для выдачи ссылки
			g.logger.Warn("Ошибка обновления счётчика обращений",
				slog.String("case_id", f.CaseID),
				slog.Int("file_id", f.FileID),
				slog.String("error", err.Error()),
			)
		}
		signedURLTotal.WithLabelValues("cached").Inc()
		return *f.SignedURL, nil
	}

	start := time.Now()
	signed, err := g.signer.MintSignedURL(ctx, f.StorageKey, signOptionsFor(f.StorageKey))
	signedURLMintDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		signedURLTotal.WithLabelValues("error").Inc()
		return "", storageErr("выпуск подписанной ссылки", err)
	}

	expiresAt := now.Add(SignedURLTTL)
	if err := g.files.StoreSignedURL(ctx, f.ID, signed, expiresAt); err != nil {
		signedURLTotal.WithLabelValues("error").Inc()
		return "", storageErr("сохранение подписанной ссылки", err)
	}

	g.logger.Debug("Выпущена подписанная ссылка",
		slog.String("case_id", f.CaseID),
		slog.Int("file_id", f.FileID),
		slog.Time("expires_at", expiresAt),
	)
	signedURLTotal.WithLabelValues("minted").Inc()
	return signed, nil
}

// expired сообщает, истёк ли срок ссылки. Незаданный срок считается текущим моментом.
func expired(expiresAt *time.Time, now time.Time) bool {
	exp := now
	if expiresAt != nil {
		exp = *expiresAt
	}
	return !now.Add(expirySkew).Before(exp)
}

// signOptionsFor выбирает заголовки ответа по расширению ключа.
func signOptionsFor(key string) objectstore.SignOptions {
	if strings.EqualFold(path.Ext(key), ".pdf") {
		return objectstore.SignOptions{
			ContentType: "application/pdf",
			Disposition: "inline",
			TTL:         SignedURLTTL,
		}
	}
	return objectstore.SignOptions{
		Disposition: "attachment",
		TTL:         SignedURLTTL,
	}
}
