package controllers

import (
	"net/http"

	"github.com/angelmondragon/craftstock-backend/api/middleware"
	"github.com/angelmondragon/craftstock-backend/api/responses"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

// WhoAmI echoes the operator identity resolved from the bearer token.
func WhoAmI(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, ok := requireOperator(w, r, logg)
		if !ok {
			return
		}
		responses.WriteSuccess(w, map[string]any{"operator": op})
	}
}

func requireOperator(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (types.Operator, bool) {
	op, ok := middleware.OperatorFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator context missing"))
		return types.Operator{}, false
	}
	return op, true
}

func serviceUnavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger, name string) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, name+" service unavailable"))
}
