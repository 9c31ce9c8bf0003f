package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/craftstock-backend/api/controllers"
	"github.com/angelmondragon/craftstock-backend/internal/app"
	"github.com/angelmondragon/craftstock-backend/internal/testutil"
	"github.com/angelmondragon/craftstock-backend/pkg/auth"
	"github.com/angelmondragon/craftstock-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

type memoryIdempotency struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryIdempotency) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryIdempotency) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryIdempotency) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryIdempotency) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryIdempotency) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *types.APIError `json:"error"`
}

type apiHarness struct {
	t       *testing.T
	handler http.Handler
	token   string
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "test-secret", Issuer: "craftstock-test", ExpirationMinutes: 10},
		Inventory: config.InventoryConfig{
			LowStockThreshold: decimal.NewFromInt(10),
			HistoryPageSize:   50,
		},
	}
}

func newHarness(t *testing.T) *apiHarness {
	t.Helper()
	cfg := testConfig()
	client, _ := testutil.NewClient(t)
	services, err := app.NewServices(app.Options{DB: client, Inventory: cfg.Inventory, EmitLedger: true})
	require.NoError(t, err)

	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), types.Operator{ID: uuid.New(), Role: "owner"})
	require.NoError(t, err)

	handler := NewRouter(cfg, nil, Dependencies{
		Services:    services,
		Idempotency: &memoryIdempotency{data: map[string]string{}},
		Readiness:   map[string]controllers.Pinger{"db": client, "redis": nil},
	})
	return &apiHarness{t: t, handler: handler, token: token}
}

func (h *apiHarness) do(method, path, key string, body any) (int, envelope) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), string(env.Data))
	return out
}

type idResponse struct {
	ID uuid.UUID `json:"id"`
}

type skuResponse struct {
	ID                uuid.UUID `json:"id"`
	AvailableQuantity int64     `json:"available_quantity"`
	TotalQuantity     int64     `json:"total_quantity"`
}

type entryResponse struct {
	ID            uuid.UUID `json:"id"`
	Sequence      int64     `json:"sequence"`
	Action        string    `json:"action"`
	QuantityAfter int64     `json:"quantity_after"`
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(http.MethodGet, "/health/live", "", nil)
	require.Equal(t, http.StatusOK, code)

	code, env := h.do(http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, code)
	checks := decodeData[struct {
		Checks map[string]string `json:"checks"`
	}](t, env)
	require.Equal(t, "ok", checks.Checks["db"])
	require.Equal(t, "disabled", checks.Checks["redis"])
}

func TestReadinessReportsFailedDependency(t *testing.T) {
	cfg := testConfig()
	handler := NewRouter(cfg, nil, Dependencies{
		Readiness: map[string]controllers.Pinger{"db": stubPinger{err: fmt.Errorf("down")}},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	h := newHarness(t)
	h.token = ""
	code, env := h.do(http.MethodGet, "/api/v1/whoami", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, string(pkgerrors.CodeUnauthorized), env.Error.Code)
}

func TestProduceSellAndAuditOverHTTP(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(http.MethodPost, "/api/v1/batches", "batch-1", map[string]any{
		"material_type":     "loose_beads",
		"specification":     "8",
		"quality":           "A",
		"original_quantity": "100",
		"unit_cost":         "0.5",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	batch := decodeData[idResponse](t, env)

	recipe := map[string]any{
		"mode":   "combination_craft",
		"recipe": []map[string]any{{"batch_id": batch.ID, "per_unit": "5"}},
	}
	code, env = h.do(http.MethodPost, "/api/v1/production/feasibility", "", recipe)
	require.Equal(t, http.StatusOK, code, env.Error)
	feasible := decodeData[struct {
		MaxProducible int64 `json:"max_producible"`
	}](t, env)
	require.Equal(t, int64(20), feasible.MaxProducible)

	code, env = h.do(http.MethodPost, "/api/v1/production", "run-1", map[string]any{
		"plan":     recipe,
		"quantity": 4,
		"sku":      map[string]any{"name": "Blue bracelet", "labor_cost": "3", "craft_cost": "1", "selling_price": "12"},
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	sku := decodeData[skuResponse](t, env)
	require.Equal(t, int64(4), sku.AvailableQuantity)

	sellPath := "/api/v1/skus/" + sku.ID.String() + "/sell"
	code, env = h.do(http.MethodPost, sellPath, "sale-1", map[string]any{"quantity": 3, "buyer": "Ana"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	sale := decodeData[entryResponse](t, env)
	require.Equal(t, "SELL", sale.Action)
	require.Equal(t, int64(1), sale.QuantityAfter)

	code, env = h.do(http.MethodPost, sellPath, "sale-1", map[string]any{"quantity": 3, "buyer": "Ana"})
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, sale.ID, decodeData[entryResponse](t, env).ID)

	code, env = h.do(http.MethodPost, sellPath, "sale-2", map[string]any{"quantity": 5})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, string(pkgerrors.CodeInsufficientStock), env.Error.Code)

	code, env = h.do(http.MethodGet, "/api/v1/skus/"+sku.ID.String()+"/history", "", nil)
	require.Equal(t, http.StatusOK, code)
	history := decodeData[struct {
		Entries []entryResponse `json:"entries"`
	}](t, env)
	require.Len(t, history.Entries, 2)

	code, env = h.do(http.MethodGet, "/api/v1/skus/"+sku.ID.String()+"/history/"+sale.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	require.Equal(t, "SELL", decodeData[entryResponse](t, env).Action)

	code, env = h.do(http.MethodGet, "/api/v1/skus/"+uuid.NewString()+"/history/"+sale.ID.String(), "", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, string(pkgerrors.CodeNotFound), env.Error.Code)

	code, env = h.do(http.MethodGet, "/api/v1/skus/"+sku.ID.String()+"/production-records", "", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	runs := decodeData[[]struct {
		Quantity  int64           `json:"quantity"`
		TotalCost decimal.Decimal `json:"total_cost"`
	}](t, env)
	require.Len(t, runs, 1)
	require.Equal(t, int64(4), runs[0].Quantity)
	require.True(t, runs[0].TotalCost.Equal(decimal.RequireFromString("6.5")), runs[0].TotalCost.String())

	code, env = h.do(http.MethodGet, "/api/v1/skus/"+sku.ID.String()+"/verify", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, decodeData[struct {
		Consistent bool `json:"consistent"`
	}](t, env).Consistent)

	code, env = h.do(http.MethodPost, "/api/v1/skus/"+sku.ID.String()+"/refund", "refund-1", map[string]any{"sale_entry_id": sale.ID})
	require.Equal(t, http.StatusCreated, code, env.Error)
	require.Equal(t, int64(4), decodeData[entryResponse](t, env).QuantityAfter)

	code, _ = h.do(http.MethodGet, "/api/v1/batches/hierarchy?material_type=loose_beads", "", nil)
	require.Equal(t, http.StatusOK, code)
}

func TestStockMovementValidation(t *testing.T) {
	h := newHarness(t)
	path := "/api/v1/skus/" + uuid.NewString()

	code, env := h.do(http.MethodPost, path+"/destroy", "d-1", map[string]any{"quantity": 1, "reason": "broken", "return_policy": "SOMETIMES"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, string(pkgerrors.CodeValidation), env.Error.Code)

	code, env = h.do(http.MethodPost, path+"/adjust", "a-1", map[string]any{"delta": 0, "reason": "count"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, string(pkgerrors.CodeValidation), env.Error.Code)

	code, _ = h.do(http.MethodPost, path+"/sell", "", map[string]any{"quantity": 1})
	require.Equal(t, http.StatusBadRequest, code)

	code, env = h.do(http.MethodPost, path+"/sell", "s-1", map[string]any{"quantity": 1})
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, string(pkgerrors.CodeNotFound), env.Error.Code)

	code, _ = h.do(http.MethodGet, "/api/v1/skus/not-a-uuid/history", "", nil)
	require.Equal(t, http.StatusBadRequest, code)
}
