package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/craftstock-backend/api/responses"
	pkgAuth "github.com/angelmondragon/craftstock-backend/pkg/auth"
	"github.com/angelmondragon/craftstock-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
)

// Auth resolves the calling operator from a bearer token. Requests without a
// usable identity never reach the handler.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			op := claims.Operator()
			ctx = logg.WithOperator(WithOperator(ctx, op), op.ID.String(), op.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts "Bearer <token>" in any case. A bare token is tolerated
// for local tooling.
func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	switch {
	case len(parts) == 1 && !strings.EqualFold(parts[0], "bearer"):
		return parts[0], true
	case len(parts) == 2 && strings.EqualFold(parts[0], "bearer"):
		return parts[1], true
	}
	return "", false
}
