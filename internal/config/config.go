// Пакет config — загрузка и валидация конфигурации Case Portal
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Окружения развёртывания. От окружения зависит публичный базовый URL,
// из которого строятся стабильные ссылки на скачивание файлов.
const (
	EnvProduction = "production"
	EnvLocal      = "local"
	EnvDefault    = "default"
)

// Config содержит все параметры конфигурации Case Portal.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения запроса (включая multipart-загрузку)
	HTTPReadTimeout time.Duration
	// Таймаут записи ответа (включая zip-архивы)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя keep-alive соединения
	HTTPIdleTimeout time.Duration
	// Максимальный размер multipart-запроса в байтах
	MaxUploadBytes int64

	// --- Публичные ссылки ---

	// Окружение: production, local, default
	Environment string
	// Базовый URL для ссылок вида <base>/file/<case_id>/<file_id>.
	// Вычисляется один раз при загрузке по Environment.
	PublicBaseURL string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Размер пула соединений
	DBMaxConns int32
	DBMinConns int32
	// Максимальное время жизни соединения пула
	DBMaxConnLifetime time.Duration

	// --- Объектное хранилище (S3) ---

	// Имя bucket для файлов кейсов
	S3Bucket string
	// Регион S3
	S3Region string
	// Endpoint S3-совместимого хранилища (пусто — AWS)
	S3Endpoint string
	// Статические ключи доступа (пусто — цепочка по умолчанию AWS SDK)
	S3AccessKeyID     string
	S3SecretAccessKey string
	// Path-style адресация (MinIO и аналоги)
	S3UsePathStyle bool

	// --- JWT ---

	// URL JWKS endpoint провайдера идентификации
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Claim с ролью пользователя (doctor, lab, admin)
	JWTRoleClaim string

	// --- Kafka ---

	// Брокеры Kafka (пусто — события не публикуются)
	KafkaBrokers []string
	// Топик событий кейсов
	KafkaTopic string

	// --- Мониторинг ---

	// Группа сервиса в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Путь health-проверки объектного хранилища (пусто — проверка отключена)
	S3HealthPath string

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CP_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("CP_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("CP_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CP_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// CP_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CP_LOG_LEVEL: %w", err)
	}

	// CP_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CP_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("CP_HTTP_READ_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CP_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("CP_HTTP_WRITE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CP_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("CP_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CP_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// CP_MAX_UPLOAD_MB — лимит размера multipart-запроса (по умолчанию 512 МБ)
	maxUploadMB, err := getEnvInt("CP_MAX_UPLOAD_MB", 512)
	if err != nil {
		return nil, fmt.Errorf("CP_MAX_UPLOAD_MB: %w", err)
	}
	if maxUploadMB < 1 {
		return nil, fmt.Errorf("CP_MAX_UPLOAD_MB: значение должно быть > 0")
	}
	cfg.MaxUploadBytes = int64(maxUploadMB) << 20

	// --- Публичные ссылки ---

	cfg.Environment = getEnvDefault("CP_ENVIRONMENT", EnvDefault)
	cfg.PublicBaseURL, err = resolvePublicBaseURL(cfg.Environment, cfg.Port)
	if err != nil {
		return nil, err
	}

	// --- PostgreSQL ---

	// CP_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("CP_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("CP_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CP_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("CP_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("CP_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("CP_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("CP_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("CP_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	maxConns, err := getEnvInt("CP_DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("CP_DB_MAX_CONNS: %w", err)
	}
	minConns, err := getEnvInt("CP_DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("CP_DB_MIN_CONNS: %w", err)
	}
	if maxConns < 1 || minConns < 0 || minConns > maxConns {
		return nil, fmt.Errorf("CP_DB_MIN_CONNS/CP_DB_MAX_CONNS: ожидается 0 <= min <= max, max >= 1 (получено %d/%d)", minConns, maxConns)
	}
	cfg.DBMaxConns, cfg.DBMinConns = int32(maxConns), int32(minConns)

	cfg.DBMaxConnLifetime, err = getEnvDuration("CP_DB_MAX_CONN_LIFETIME", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CP_DB_MAX_CONN_LIFETIME: %w", err)
	}

	// --- Объектное хранилище ---

	// CP_S3_BUCKET — обязательный
	cfg.S3Bucket, err = getEnvRequired("CP_S3_BUCKET")
	if err != nil {
		return nil, err
	}

	cfg.S3Region = getEnvDefault("CP_S3_REGION", "ap-southeast-1")
	cfg.S3Endpoint = strings.TrimRight(getEnvDefault("CP_S3_ENDPOINT", ""), "/")
	cfg.S3AccessKeyID = getEnvDefault("CP_S3_ACCESS_KEY_ID", "")
	cfg.S3SecretAccessKey = getEnvDefault("CP_S3_SECRET_ACCESS_KEY", "")
	if (cfg.S3AccessKeyID == "") != (cfg.S3SecretAccessKey == "") {
		return nil, fmt.Errorf("CP_S3_ACCESS_KEY_ID и CP_S3_SECRET_ACCESS_KEY задаются только вместе")
	}

	cfg.S3UsePathStyle, err = getEnvBool("CP_S3_USE_PATH_STYLE", cfg.S3Endpoint != "")
	if err != nil {
		return nil, fmt.Errorf("CP_S3_USE_PATH_STYLE: %w", err)
	}

	// --- JWT ---

	// CP_JWT_JWKS_URL — обязательный
	cfg.JWTJWKSURL, err = getEnvRequired("CP_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("CP_JWT_ISSUER", "")
	cfg.JWTRoleClaim = getEnvDefault("CP_JWT_ROLE_CLAIM", "role")

	// --- Kafka ---

	cfg.KafkaBrokers = parseCSV(getEnvDefault("CP_KAFKA_BROKERS", ""))
	cfg.KafkaTopic = getEnvDefault("CP_KAFKA_TOPIC", "case-portal.cases")

	// --- Мониторинг ---

	cfg.DephealthGroup = getEnvDefault("CP_DEPHEALTH_GROUP", "case-portal")
	cfg.DephealthCheckInterval, err = getEnvDuration("CP_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CP_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.S3HealthPath = getEnvDefault("CP_S3_HEALTH_PATH", "")

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("CP_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CP_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// resolvePublicBaseURL выбирает базовый URL по окружению.
// Для local значение по умолчанию — http://localhost:<port>/,
// для production и default соответствующая переменная обязательна.
func resolvePublicBaseURL(env string, port int) (string, error) {
	var (
		raw string
		err error
	)
	switch env {
	case EnvProduction:
		raw, err = getEnvRequired("CP_PUBLIC_URL_PRODUCTION")
	case EnvLocal:
		raw = getEnvDefault("CP_PUBLIC_URL_LOCAL", fmt.Sprintf("http://localhost:%d/", port))
	case EnvDefault:
		raw, err = getEnvRequired("CP_PUBLIC_URL_DEFAULT")
	default:
		return "", fmt.Errorf("CP_ENVIRONMENT: недопустимое значение %q, допустимые: production, local, default", env)
	}
	if err != nil {
		return "", err
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("публичный URL для окружения %s некорректен: %q", env, raw)
	}
	return raw, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// MigrationURL возвращает URL базы в формате golang-migrate (pgx5://).
func (c *Config) MigrationURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// DependencyURL возвращает URL PostgreSQL без учётных данных
// (для лейблов метрик зависимостей).
func (c *Config) DependencyURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
