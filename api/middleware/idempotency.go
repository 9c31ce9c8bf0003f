package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/craftstock-backend/api/responses"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/craftstock-backend/pkg/redis"
)

// IdempotencyHeader carries the caller's replay token.
const IdempotencyHeader = "Idempotency-Key"

const (
	// MetadataReplayTTL covers batch intake and SKU metadata edits.
	MetadataReplayTTL = 24 * time.Hour
	// StockReplayTTL covers production runs and stock movements.
	StockReplayTTL = 7 * 24 * time.Hour

	inFlightTTL       = time.Minute
	maxIdempotencyKey = 128
)

// replayRecord is what the store holds under a key. While the first request is
// still running only InFlight and RequestHash are set.
type replayRecord struct {
	InFlight    bool   `json:"in_flight,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency makes a route safe to retry. The first request under an
// Idempotency-Key runs and its response is kept for ttl; repeats with the same
// body get that response back, repeats with another body are rejected, and a
// repeat that arrives while the first is still running gets a retryable 409.
// Responses that ask the caller to retry (5xx or Retry-After) are not kept.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger, ttl time.Duration) func(http.Handler) http.Handler {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if token == "" || len(token) > maxIdempotencyKey {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required (max 128 characters)"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])
			key := store.IdempotencyKey(replayScope(r), token)

			claimed, err := claim(ctx, store, key, hash)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if !claimed {
				replay(ctx, store, logg, w, key, hash)
				return
			}

			// The key is released on retryable outcomes and on panic. Once the handler
			// finished definitively the marker stays, even if the record cannot be stored.
			settled := false
			defer func() {
				if !settled {
					release(context.WithoutCancel(ctx), store, logg, key)
				}
			}()

			capture := &responseCapture{}
			next.ServeHTTP(capture.wrap(w), r)

			status := capture.statusCode()
			if status >= http.StatusInternalServerError || w.Header().Get("Retry-After") != "" {
				return
			}
			settled = true
			record, err := json.Marshal(replayRecord{
				RequestHash: hash,
				Status:      status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err != nil {
				logg.Error(ctx, "encode idempotency record", err)
				return
			}
			if err := store.Set(ctx, key, string(record), ttl); err != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

// release drops the in-flight marker so the caller can retry.
func release(ctx context.Context, store pkgredis.IdempotencyStore, logg *logger.Logger, key string) {
	if err := store.Del(ctx, key); err != nil {
		logg.Error(ctx, "release idempotency key", err)
	}
}

// claim marks key as in flight. It reports false when another request already owns it.
func claim(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string) (bool, error) {
	marker, err := json.Marshal(replayRecord{InFlight: true, RequestHash: hash})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency marker")
	}
	ok, err := store.SetNX(ctx, key, string(marker), inFlightTTL)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key")
	}
	return ok, nil
}

func replay(ctx context.Context, store pkgredis.IdempotencyStore, logg *logger.Logger, w http.ResponseWriter, key, hash string) {
	stored, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		// the owner released the key between our claim and this read
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "request with this Idempotency-Key was just released; retry"))
		return
	case err != nil:
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}

	var record replayRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != hash {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.InFlight {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "request with this Idempotency-Key is still in progress"))
		return
	}

	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write(record.Body)
}

// replayScope keeps keys private to one operator and one route.
func replayScope(r *http.Request) string {
	op, _ := OperatorFromContext(r.Context())
	return op.ID.String() + "|" + r.Method + "|" + strings.TrimSuffix(r.URL.Path, "/")
}

// responseCapture records what the handler wrote so it can be replayed.
type responseCapture struct {
	body   bytes.Buffer
	status int
}

func (c *responseCapture) wrap(w http.ResponseWriter) http.ResponseWriter {
	return httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				if c.status == 0 {
					c.status = code
				}
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				if c.status == 0 {
					c.status = http.StatusOK
				}
				c.body.Write(b)
				return next(b)
			}
		},
	})
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
