// auth.go — JWT middleware аутентификации портала.
// Валидирует Bearer-токен внешнего IdP через JWKS, извлекает sub, имя и
// роль пользователя (doctor, lab, admin) и помещает сессию в контекст.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/Hazimafiq/test-express-portal/internal/api/errors"
	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
)

type contextKey string

const (
	// ContextKeySession — сессия пользователя в контексте запроса.
	ContextKeySession contextKey = "session"
	// contextKeyUserSlot — ячейка RequestLogger для user_id.
	contextKeyUserSlot contextKey = "user_slot"
)

// roleWeight — вес роли: при нескольких ролях выбирается старшая.
var roleWeight = map[string]int{
	model.RoleDoctor: 1,
	model.RoleLab:    2,
	model.RoleAdmin:  3,
}

// JWTAuthConfig — параметры JWT middleware.
type JWTAuthConfig struct {
	// JWKSURL — URL JWKS endpoint IdP
	JWKSURL string
	// Issuer — ожидаемый iss (пусто — не проверяется)
	Issuer string
	// RoleClaim — claim с ролью; допускается путь через точку (realm_access.roles)
	RoleClaim string
	// ClientTimeout — таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// RefreshInterval — интервал обновления ключей
	RefreshInterval time.Duration
	// Leeway — допустимое отклонение часов
	Leeway time.Duration
}

// JWTAuth — middleware для JWT-аутентификации.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	issuer    string
	roleClaim string
	leeway    time.Duration
	logger    *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с фоновым обновлением JWKS.
func NewJWTAuth(cfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен
	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: cfg.ClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	auth := NewJWTAuthWithKeyfunc(k, cfg.RoleClaim, cfg.Leeway, logger)
	auth.issuer = cfg.Issuer
	return auth, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с готовой keyfunc (для тестов).
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, roleClaim string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	if roleClaim == "" {
		roleClaim = "role"
	}
	return &JWTAuth{
		jwks:      kf,
		roleClaim: roleClaim,
		leeway:    leeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware JWT-аутентификации.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized.Write(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				apierrors.Unauthorized.Write(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			claims := jwt.MapClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(parts[1], claims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized.Write(w, "Невалидный или просроченный токен")
				return
			}

			session, err := j.buildSession(claims)
			if err != nil {
				apierrors.Forbidden.Write(w, err.Error())
				return
			}

			if slot, ok := r.Context().Value(contextKeyUserSlot).(*string); ok {
				*slot = session.UserID
			}
			ctx := context.WithValue(r.Context(), ContextKeySession, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildSession формирует сессию из claims.
func (j *JWTAuth) buildSession(claims jwt.MapClaims) (model.Session, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return model.Session{}, fmt.Errorf("отсутствует sub в токене")
	}

	role := highestRole(rolesFromClaim(lookupClaim(claims, j.roleClaim)))
	if role == "" {
		return model.Session{}, fmt.Errorf("в токене нет роли портала (doctor, lab, admin)")
	}

	name, _ := claims["name"].(string)
	if name == "" {
		name, _ = claims["preferred_username"].(string)
	}

	return model.Session{UserID: sub, Name: name, Role: role}, nil
}

// lookupClaim возвращает значение claim по пути через точку.
func lookupClaim(claims jwt.MapClaims, path string) any {
	var current any = map[string]any(claims)
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}

// rolesFromClaim принимает строку, строку через пробел или массив строк.
func rolesFromClaim(v any) []string {
	switch val := v.(type) {
	case string:
		return strings.Fields(val)
	case []any:
		roles := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	}
	return nil
}

// highestRole возвращает старшую из известных ролей или "".
func highestRole(roles []string) string {
	highest := ""
	for _, r := range roles {
		r = strings.ToLower(r)
		if roleWeight[r] > roleWeight[highest] {
			highest = r
		}
	}
	return highest
}

// SessionFromContext извлекает сессию из контекста запроса.
func SessionFromContext(ctx context.Context) (model.Session, bool) {
	s, ok := ctx.Value(ContextKeySession).(model.Session)
	return s, ok
}

// WithSession помещает сессию в контекст.
func WithSession(ctx context.Context, s model.Session) context.Context {
	return context.WithValue(ctx, ContextKeySession, s)
}

func withUserSlot(ctx context.Context, slot *string) context.Context {
	return context.WithValue(ctx, contextKeyUserSlot, slot)
}
