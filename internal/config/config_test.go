package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"CP_DB_HOST":            "localhost",
		"CP_DB_NAME":            "portal",
		"CP_DB_USER":            "portal",
		"CP_DB_PASSWORD":        "secret",
		"CP_S3_BUCKET":          "case-files",
		"CP_JWT_JWKS_URL":       "https://idp.example.com/certs",
		"CP_PUBLIC_URL_DEFAULT": "https://dev.portal.example.com/",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, ожидается 8080", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.Environment != EnvDefault {
		t.Errorf("Environment = %q, ожидается default", cfg.Environment)
	}
	if cfg.PublicBaseURL != "https://dev.portal.example.com/" {
		t.Errorf("PublicBaseURL = %q", cfg.PublicBaseURL)
	}
	if cfg.MaxUploadBytes != 512<<20 {
		t.Errorf("MaxUploadBytes = %d, ожидается %d", cfg.MaxUploadBytes, 512<<20)
	}
	if cfg.S3UsePathStyle {
		t.Error("S3UsePathStyle = true, ожидается false без endpoint")
	}
	if cfg.JWTRoleClaim != "role" {
		t.Errorf("JWTRoleClaim = %q, ожидается role", cfg.JWTRoleClaim)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v, ожидается пустой список", cfg.KafkaBrokers)
	}
	if cfg.DephealthCheckInterval != 15*time.Second {
		t.Errorf("DephealthCheckInterval = %v, ожидается 15s", cfg.DephealthCheckInterval)
	}
	if cfg.DBMaxConns != 20 || cfg.DBMinConns != 2 {
		t.Errorf("DBMaxConns/DBMinConns = %d/%d, ожидается 20/2", cfg.DBMaxConns, cfg.DBMinConns)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 5s", cfg.ShutdownTimeout)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	required := []string{"CP_DB_HOST", "CP_DB_NAME", "CP_DB_USER", "CP_DB_PASSWORD", "CP_S3_BUCKET", "CP_JWT_JWKS_URL"}

	for _, key := range required {
		t.Run(key, func(t *testing.T) {
			envs := minimalEnvs()
			delete(envs, key)
			setEnvs(t, envs)
			t.Setenv(key, "")

			_, err := Load()
			if err == nil {
				t.Fatalf("ожидалась ошибка при отсутствии %s", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка %q не упоминает %s", err, key)
			}
		})
	}
}

func TestLoad_PublicBaseURLByEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		envs    map[string]string
		want    string
		wantErr bool
	}{
		{
			name: "production",
			envs: map[string]string{"CP_ENVIRONMENT": "production", "CP_PUBLIC_URL_PRODUCTION": "https://portal.example.com/"},
			want: "https://portal.example.com/",
		},
		{
			name: "production без URL",
			envs: map[string]string{"CP_ENVIRONMENT": "production"},
			wantErr: true,
		},
		{
			name: "local по умолчанию",
			envs: map[string]string{"CP_ENVIRONMENT": "local", "CP_PORT": "9090"},
			want: "http://localhost:9090/",
		},
		{
			name:    "неизвестное окружение",
			envs:    map[string]string{"CP_ENVIRONMENT": "staging"},
			wantErr: true,
		},
		{
			name:    "URL без схемы",
			envs:    map[string]string{"CP_PUBLIC_URL_DEFAULT": "portal.example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvs(t, minimalEnvs())
			setEnvs(t, tt.envs)

			cfg, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("ожидалась ошибка")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() вернул ошибку: %v", err)
			}
			if cfg.PublicBaseURL != tt.want {
				t.Errorf("PublicBaseURL = %q, ожидается %q", cfg.PublicBaseURL, tt.want)
			}
		})
	}
}

func TestLoad_S3Settings(t *testing.T) {
	setEnvs(t, minimalEnvs())
	t.Setenv("CP_S3_ENDPOINT", "http://minio:9000/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.S3Endpoint != "http://minio:9000" {
		t.Errorf("S3Endpoint = %q, ожидается без завершающего слэша", cfg.S3Endpoint)
	}
	if !cfg.S3UsePathStyle {
		t.Error("S3UsePathStyle = false, ожидается true при заданном endpoint")
	}
}

func TestLoad_S3KeysPair(t *testing.T) {
	setEnvs(t, minimalEnvs())
	t.Setenv("CP_S3_ACCESS_KEY_ID", "AKIA")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка: задан только access key")
	}
}

func TestLoad_KafkaBrokers(t *testing.T) {
	setEnvs(t, minimalEnvs())
	t.Setenv("CP_KAFKA_BROKERS", "kafka-0:9092, kafka-1:9092,,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-1:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"CP_PORT", "abc"},
		{"CP_PORT", "70000"},
		{"CP_LOG_LEVEL", "verbose"},
		{"CP_LOG_FORMAT", "xml"},
		{"CP_DB_SSL_MODE", "prefer"},
		{"CP_MAX_UPLOAD_MB", "0"},
		{"CP_SHUTDOWN_TIMEOUT", "5"},
		{"CP_S3_USE_PATH_STYLE", "maybe"},
		{"CP_DB_MAX_CONNS", "0"},
		{"CP_DB_MIN_CONNS", "50"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			setEnvs(t, minimalEnvs())
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Fatalf("ожидалась ошибка для %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestMigrationURL_EscapesCredentials(t *testing.T) {
	cfg := &Config{DBUser: "portal", DBPassword: "p@ss:w/rd", DBHost: "db", DBPort: 5432, DBName: "portal", DBSSLMode: "disable"}

	got := cfg.MigrationURL()
	want := "pgx5://portal:p%40ss%3Aw%2Frd@db:5432/portal?sslmode=disable"
	if got != want {
		t.Errorf("MigrationURL() = %q, ожидается %q", got, want)
	}
}

func TestDependencyURL_NoCredentials(t *testing.T) {
	cfg := &Config{DBUser: "portal", DBPassword: "secret", DBHost: "db", DBPort: 5432, DBName: "portal"}

	got := cfg.DependencyURL()
	if got != "postgres://db:5432/portal" {
		t.Errorf("DependencyURL() = %q", got)
	}
	if strings.Contains(got, "secret") {
		t.Error("DependencyURL() содержит пароль")
	}
}
