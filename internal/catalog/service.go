package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/angelmondragon/leadledger-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
	"github.com/angelmondragon/leadledger-backend/pkg/redis"
)

const (
	cacheScope         = "plan"
	activePlansCacheID = "__active"
)

// Service is the plan catalog surface consumed by checkout and the ledger.
// Lookups go through a redis read-through cache with a TTL; misses fall back
// to the plans table. The cache object is injected, never process-global.
type Service interface {
	GetPlanByID(ctx context.Context, id string) (*models.Plan, error)
	GetPlanByName(ctx context.Context, name string) (*models.Plan, error)
	ListActivePlans(ctx context.Context) ([]models.Plan, error)
}

// ServiceParams configures the catalog service.
type ServiceParams struct {
	Repo     Repository
	Cache    redis.CacheStore
	CacheTTL time.Duration
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	cache    redis.CacheStore
	cacheTTL time.Duration
	logg     *logger.Logger
}

// NewService builds the catalog service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog repo required")
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &service{
		repo:     params.Repo,
		cache:    params.Cache,
		cacheTTL: ttl,
		logg:     params.Logger,
	}, nil
}

func (s *service) GetPlanByID(ctx context.Context, id string) (*models.Plan, error) {
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id required")
	}

	if plan := s.cachedPlan(ctx, id); plan != nil {
		return plan, nil
	}

	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown plan").
			WithDetails(map[string]any{"plan_id": id})
	}

	s.storePlan(ctx, id, plan)
	return plan, nil
}

func (s *service) GetPlanByName(ctx context.Context, name string) (*models.Plan, error) {
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan name required")
	}

	plan, err := s.repo.FindByName(ctx, name)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan by name")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown plan").
			WithDetails(map[string]any{"plan_name": name})
	}

	s.storePlan(ctx, plan.ID, plan)
	return plan, nil
}

func (s *service) ListActivePlans(ctx context.Context) ([]models.Plan, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, s.cache.CacheKey(cacheScope, activePlansCacheID)); err == nil {
			var plans []models.Plan
			if jsonErr := json.Unmarshal([]byte(raw), &plans); jsonErr == nil {
				return plans, nil
			}
		} else if !errors.Is(err, redis.Nil) && s.logg != nil {
			s.logg.Warn(ctx, "plan cache read failed, falling through to database")
		}
	}

	plans, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active plans")
	}

	if s.cache != nil {
		if raw, jsonErr := json.Marshal(plans); jsonErr == nil {
			_ = s.cache.Set(ctx, s.cache.CacheKey(cacheScope, activePlansCacheID), string(raw), s.cacheTTL)
		}
	}
	return plans, nil
}

func (s *service) cachedPlan(ctx context.Context, id string) *models.Plan {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, s.cache.CacheKey(cacheScope, id))
	if err != nil {
		if !errors.Is(err, redis.Nil) && s.logg != nil {
			s.logg.Warn(ctx, "plan cache read failed, falling through to database")
		}
		return nil
	}
	var plan models.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil
	}
	return &plan
}

func (s *service) storePlan(ctx context.Context, id string, plan *models.Plan) {
	if s.cache == nil || plan == nil {
		return
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, s.cache.CacheKey(cacheScope, id), string(raw), s.cacheTTL)
}
