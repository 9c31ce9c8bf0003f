package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
)

type sampleBody struct {
	Name     string `json:"name" validate:"required,max=5"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ring","quantity":1,"extra":true}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestDecodeJSONBodyReportsFieldMessages(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"bracelet","quantity":0}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, "must be at most 5", details["name"])
	require.Equal(t, "must be greater than 0", details["quantity"])
}

func TestSanitizeString(t *testing.T) {
	require.Equal(t, "ring", SanitizeString("  ring \n", 0))
	require.Equal(t, "ab", SanitizeString("a\x00b", 0))
	require.Equal(t, "玉珠", SanitizeString("玉珠手链", 2))
	require.Equal(t, "line\nbreak", SanitizeString("line\nbreak", 0))
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&low=true&spec=8.5&type=accessory,pendant&type=bracelet&bad=x", nil)

	limit, err := ParseQueryInt(req, "limit", 50, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 20, limit)

	def, err := ParseQueryInt(req, "absent", 50, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 50, def)

	_, err = ParseQueryInt(req, "bad", 50, 1, 100)
	require.Error(t, err)

	low, err := ParseQueryBool(req, "low")
	require.NoError(t, err)
	require.True(t, low)

	spec, err := ParseQueryDecimal(req, "spec")
	require.NoError(t, err)
	require.Equal(t, "8.5", spec.String())

	missing, err := ParseQueryDecimal(req, "absent")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.Equal(t, []string{"accessory", "pendant", "bracelet"}, ParseQueryList(req, "type"))
}

func TestParseUUIDParam(t *testing.T) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("skuId", "not-a-uuid")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	_, err := ParseUUIDParam(req, "skuId")
	require.Error(t, err)

	rctx.URLParams = chi.RouteParams{}
	rctx.URLParams.Add("skuId", "00000000-0000-0000-0000-000000000000")
	_, err = ParseUUIDParam(req, "skuId")
	require.Error(t, err, "nil uuid is rejected")
}
