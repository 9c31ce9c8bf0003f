package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/types"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = fmt.Sprint(value)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = fmt.Sprint(value)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

const sellPath = "/api/v1/skus/4b1e2cc5-8f0e-4f43-9a57-0e0a7e5c2d11/sell"

var clerk = types.Operator{ID: uuid.MustParse("9d9cf3a4-3f0a-4a51-8f8b-b7b5b2f51f01"), Role: "clerk"}

func sellRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, sellPath, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req.WithContext(WithOperator(req.Context(), clerk))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil, StockReplayTTL)
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, sellRequest(`{"quantity":1}`, ""))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, called)

	rec = httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, sellRequest(`{"quantity":1}`, strings.Repeat("k", 129)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdempotencyPassesThroughWithoutStore(t *testing.T) {
	mw := Idempotency(nil, nil, StockReplayTTL)
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})).ServeHTTP(rec, sellRequest(`{}`, ""))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil, StockReplayTTL)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"sequence":3}}`))
	})

	first := httptest.NewRecorder()
	mw(handler).ServeHTTP(first, sellRequest(`{"quantity":1}`, "abc"))
	require.Equal(t, http.StatusCreated, first.Code)

	again := httptest.NewRecorder()
	mw(handler).ServeHTTP(again, sellRequest(`{"quantity":1}`, "abc"))
	require.Equal(t, http.StatusCreated, again.Code)
	require.Equal(t, "application/json", again.Header().Get("Content-Type"))
	require.Equal(t, "true", again.Header().Get("Idempotent-Replay"))
	require.Equal(t, `{"data":{"sequence":3}}`, strings.TrimSpace(again.Body.String()))
	require.Equal(t, 1, calls)

	for key, ttl := range store.ttls {
		require.Equal(t, StockReplayTTL, ttl, "record %s kept for the route's ttl", key)
	}
}

func TestIdempotencyKeepsClientErrors(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil, StockReplayTTL)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
	})
	for i := 0; i < 2; i++ {
		mw(handler).ServeHTTP(httptest.NewRecorder(), sellRequest(`{"quantity":9}`, "short"))
	}
	require.Equal(t, 1, calls, "a definitive rejection is replayed, not re-run")
}

func TestIdempotencyReleasesRetryableFailures(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil, StockReplayTTL)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		mw(handler).ServeHTTP(httptest.NewRecorder(), sellRequest(`{"quantity":1}`, "retry-me"))
	}
	require.Equal(t, 2, calls)

	failing := Idempotency(store, nil, StockReplayTTL)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	failing.ServeHTTP(httptest.NewRecorder(), sellRequest(`{"quantity":1}`, "boom"))
	for key := range store.data {
		require.NotContains(t, key, ":boom", "5xx must release the key")
	}
}

func TestIdempotencyDetectsBodyChange(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil, StockReplayTTL)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw(handler).ServeHTTP(httptest.NewRecorder(), sellRequest(`{"quantity":1}`, "xyz"))

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, sellRequest(`{"quantity":2}`, "xyz"))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil, StockReplayTTL)
	entered := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusCreated)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		mw(handler).ServeHTTP(httptest.NewRecorder(), sellRequest(`{"quantity":1}`, "dup"))
	}()
	<-entered

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, sellRequest(`{"quantity":1}`, "dup"))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(pkgerrors.CodeConcurrencyConflict), errorCode(t, rec))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	close(release)
	<-done
}

func TestIdempotencyScopesKeysPerOperator(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil, StockReplayTTL)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	mw(handler).ServeHTTP(httptest.NewRecorder(), sellRequest(`{"quantity":1}`, "shared"))
	other := sellRequest(`{"quantity":1}`, "shared")
	other = other.WithContext(WithOperator(other.Context(), types.Operator{ID: uuid.New(), Role: "clerk"}))
	mw(handler).ServeHTTP(httptest.NewRecorder(), other)
	require.Equal(t, 2, calls)
}

func TestIdempotencyReleasesKeyWhenHandlerPanics(t *testing.T) {
	store := newFakeStore()
	var calls int
	handler := Recoverer(nil)(Idempotency(store, nil, StockReplayTTL)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			panic("ledger exploded")
		}
		w.WriteHeader(http.StatusCreated)
	})))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, sellRequest(`{"quantity":1}`, "panicky"))
	require.Equal(t, http.StatusInternalServerError, first.Code)
	require.Empty(t, store.data, "in-flight marker must not outlive the panic")

	again := httptest.NewRecorder()
	handler.ServeHTTP(again, sellRequest(`{"quantity":1}`, "panicky"))
	require.Equal(t, http.StatusCreated, again.Code)
	require.Equal(t, 2, calls)
}
