// Точка входа Case Portal — портал клинических кейсов элайнеров.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL
// и S3, создаёт сервисный слой и API handlers, запускает topologymetrics
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/Hazimafiq/test-express-portal/internal/api/handlers"
	"github.com/Hazimafiq/test-express-portal/internal/api/middleware"
	"github.com/Hazimafiq/test-express-portal/internal/config"
	"github.com/Hazimafiq/test-express-portal/internal/database"
	"github.com/Hazimafiq/test-express-portal/internal/objectstore"
	"github.com/Hazimafiq/test-express-portal/internal/repository"
	"github.com/Hazimafiq/test-express-portal/internal/server"
	"github.com/Hazimafiq/test-express-portal/internal/service"
)

// Параметры клиента JWKS.
const (
	jwksClientTimeout   = 10 * time.Second
	jwksRefreshInterval = 15 * time.Minute
	jwtLeeway           = 30 * time.Second
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Case Portal запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("environment", cfg.Environment),
		slog.String("public_url", cfg.PublicBaseURL),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics: проверка идёт
	// через тот же пул и обнаруживает его исчерпание
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Объектное хранилище S3
	store, err := objectstore.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации S3", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Публикация событий кейсов
	var events service.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub := service.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := kafkaPub.Close(); err != nil {
				logger.Warn("Ошибка закрытия Kafka writer", slog.String("error", err.Error()))
			}
		}()
		events = kafkaPub
		logger.Info("Публикация событий в Kafka включена",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("topic", cfg.KafkaTopic),
		)
	} else {
		events = service.NewNopPublisher(logger)
		logger.Warn("CP_KAFKA_BROKERS не задана, события кейсов только логируются")
	}

	// 7. Repositories
	caseRepo := repository.NewCaseRepository(pool)
	fileRepo := repository.NewFileRegistryRepository(pool)
	simRepo := repository.NewSimulationRepository(pool)
	commentRepo := repository.NewCommentRepository(pool)

	// 8. Services
	reconciler := service.NewReconcileService(fileRepo, store, cfg.PublicBaseURL, logger)
	caseSvc := service.NewCaseService(caseRepo, fileRepo, reconciler, events, logger)
	accessGate := service.NewAccessGate(fileRepo, store, logger)
	simSvc := service.NewSimulationService(caseSvc, simRepo, fileRepo, reconciler, logger)
	commentSvc := service.NewCommentService(caseSvc, commentRepo, logger)
	archiveSvc := service.NewArchiveService(caseSvc, fileRepo, store, logger)

	// 9. topologymetrics — мониторинг зависимостей (PostgreSQL + S3)
	var deps handlers.DependencyHealth
	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:             "case-portal",
		Group:                 cfg.DephealthGroup,
		PostgresURL:           cfg.DependencyURL(),
		ObjectStoreURL:        cfg.S3Endpoint,
		ObjectStoreHealthPath: cfg.S3HealthPath,
		CheckInterval:         cfg.DephealthCheckInterval,
	}, pgDB, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dephealthSvc = nil
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		dephealthSvc = nil
	} else {
		deps = dephealthSvc
	}

	// 10. Health и API handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), deps)
	apiHandler := handlers.NewAPIHandler(healthHandler, handlers.Services{
		Cases:       caseSvc,
		Files:       accessGate,
		Simulations: simSvc,
		Comments:    commentSvc,
		Archives:    archiveSvc,
	}, cfg.MaxUploadBytes, logger)

	// 11. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWTJWKSURL,
		Issuer:          cfg.JWTIssuer,
		RoleClaim:       cfg.JWTRoleClaim,
		ClientTimeout:   jwksClientTimeout,
		RefreshInterval: jwksRefreshInterval,
		Leeway:          jwtLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("role_claim", cfg.JWTRoleClaim),
	)

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.JWTAuthWithExclusions(jwtAuth.Middleware(), server.PublicPrefixes...),
	)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Case Portal остановлен")
}
