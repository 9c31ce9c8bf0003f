package hierarchy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/craftstock-backend/internal/batches"
	"github.com/angelmondragon/craftstock-backend/pkg/db/models"
	"github.com/angelmondragon/craftstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/craftstock-backend/pkg/errors"
	"github.com/angelmondragon/craftstock-backend/pkg/logger"
	"github.com/angelmondragon/craftstock-backend/pkg/pagination"
	"github.com/angelmondragon/craftstock-backend/pkg/redis"
)

const cacheScope = "hierarchy"

// Service answers stock-overview reads. Reads never lock and may be served from cache
// for up to the configured TTL.
type Service interface {
	Tree(ctx context.Context, filters Filters) (*Tree, error)
	LeafBatches(ctx context.Context, leaf LeafFilters, params pagination.Params) (*LeafPage, error)
	Invalidate(ctx context.Context)
}

// LeafFilters address one quality node of the tree.
type LeafFilters struct {
	MaterialType     enums.MaterialType
	Specification    decimal.Decimal
	Quality          enums.QualityGrade
	Search           string
	IncludeExhausted bool
}

type LeafPage struct {
	Batches    []models.MaterialBatch `json:"batches"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type service struct {
	repo       batches.Repository
	cache      redis.CacheStore
	ttl        time.Duration
	thresholds Thresholds
	logg       *logger.Logger
	builds     singleflight.Group
}

// NewService wires the aggregator. cache may be nil, which disables caching.
func NewService(repo batches.Repository, cache redis.CacheStore, ttl time.Duration, thresholds Thresholds, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, cache: cache, ttl: ttl, thresholds: thresholds, logg: logg}, nil
}

func (s *service) Tree(ctx context.Context, filters Filters) (*Tree, error) {
	if err := filters.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid hierarchy filters")
	}
	key, cacheable := s.cacheKey(ctx, filters)
	if !cacheable {
		return s.build(ctx, filters)
	}
	if tree, ok := s.cached(ctx, key); ok {
		return tree, nil
	}

	// Concurrent misses for one key share a single scan; the result is read-only. The scan
	// runs detached so a cancelled first caller does not fail the others.
	v, err, _ := s.builds.Do(key, func() (any, error) {
		shared := context.WithoutCancel(ctx)
		if tree, ok := s.cached(shared, key); ok {
			return tree, nil
		}
		tree, err := s.build(shared, filters)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(tree); err == nil {
			if err := s.cache.Set(shared, key, raw, s.ttl); err != nil {
				s.logg.Warn(s.logg.WithField(shared, "error", err.Error()), "hierarchy.cache_store_failed")
			}
		}
		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tree), nil
}

func (s *service) build(ctx context.Context, filters Filters) (*Tree, error) {
	rows, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list batches")
	}
	return Build(rows, filters, s.thresholds), nil
}

func (s *service) LeafBatches(ctx context.Context, leaf LeafFilters, params pagination.Params) (*LeafPage, error) {
	if !leaf.MaterialType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown material type %q", leaf.MaterialType))
	}
	if leaf.Quality == "" {
		leaf.Quality = enums.QualityUngraded
	}
	if !leaf.Quality.IsValid() && leaf.Quality != enums.QualityUngraded {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown quality %q", leaf.Quality))
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListLeaf(ctx, batches.LeafQuery{
		MaterialType:     leaf.MaterialType,
		Specification:    leaf.Specification,
		Quality:          leaf.Quality,
		Search:           leaf.Search,
		IncludeExhausted: leaf.IncludeExhausted,
		After:            cursor,
		Limit:            limit + 1,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list leaf batches")
	}
	page := &LeafPage{Batches: rows}
	if len(rows) > limit {
		page.Batches = rows[:limit]
		last := page.Batches[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

// Invalidate drops every cached tree by advancing the cache generation.
func (s *service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.BumpGeneration(ctx, cacheScope); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "hierarchy.invalidate_failed")
	}
}

func (s *service) cacheKey(ctx context.Context, filters Filters) (string, bool) {
	if s.cache == nil || s.ttl <= 0 {
		return "", false
	}
	generation, err := s.cache.Generation(ctx, cacheScope)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "hierarchy.cache_generation_failed")
		return "", false
	}
	raw, err := json.Marshal(filters)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(raw)
	return s.cache.CacheKey(cacheScope, strconv.FormatInt(generation, 10), hex.EncodeToString(sum[:8])), true
}

func (s *service) cached(ctx context.Context, key string) (*Tree, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "hierarchy.cache_read_failed")
		}
		return nil, false
	}
	var tree Tree
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return nil, false
	}
	return &tree, true
}
