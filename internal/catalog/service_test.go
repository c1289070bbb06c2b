package catalog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/angelmondragon/leadledger-backend/pkg/db/models"
	"github.com/angelmondragon/leadledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
	"github.com/angelmondragon/leadledger-backend/pkg/redis"
)

type fakePlanRepo struct {
	plans     map[string]*models.Plan
	findCalls int
	listCalls int
}

func (f *fakePlanRepo) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	f.findCalls++
	return f.plans[id], nil
}

func (f *fakePlanRepo) FindByName(ctx context.Context, name string) (*models.Plan, error) {
	for _, plan := range f.plans {
		if plan.Name == name {
			return plan, nil
		}
	}
	return nil, nil
}

func (f *fakePlanRepo) ListActive(ctx context.Context) ([]models.Plan, error) {
	f.listCalls++
	var out []models.Plan
	for _, plan := range f.plans {
		if plan.Status == enums.PlanStatusActive {
			out = append(out, *plan)
		}
	}
	return out, nil
}

type fakeCache struct {
	values map[string]string
	sets   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string]string{}}
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	value, ok := f.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	f.sets++
	f.values[key] = value.(string)
	return nil
}

func (f *fakeCache) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func (f *fakeCache) CacheKey(scope, id string) string {
	return "test:cache:" + scope + ":" + id
}

func newCatalogService(t *testing.T, repo *fakePlanRepo, cache *fakeCache) Service {
	t.Helper()
	var store redis.CacheStore
	if cache != nil {
		store = cache
	}
	svc, err := NewService(ServiceParams{
		Repo:     repo,
		Cache:    store,
		CacheTTL: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func startPlan() *models.Plan {
	return &models.Plan{
		ID:            "start",
		Name:          "start",
		Status:        enums.PlanStatusActive,
		PriceCents:    4900,
		LeadsIncluded: 1000,
	}
}

func TestGetPlanByIDReadThrough(t *testing.T) {
	repo := &fakePlanRepo{plans: map[string]*models.Plan{"start": startPlan()}}
	cache := newFakeCache()
	svc := newCatalogService(t, repo, cache)

	plan, err := svc.GetPlanByID(context.Background(), "start")
	if err != nil {
		t.Fatalf("GetPlanByID: %v", err)
	}
	if plan.LeadsIncluded != 1000 {
		t.Fatalf("expected 1000 leads, got %d", plan.LeadsIncluded)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected one repo lookup, got %d", repo.findCalls)
	}
	if cache.sets != 1 {
		t.Fatalf("expected plan cached, got %d sets", cache.sets)
	}

	// Second lookup is served from the cache.
	if _, err := svc.GetPlanByID(context.Background(), "start"); err != nil {
		t.Fatalf("cached GetPlanByID: %v", err)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected cache hit, repo called %d times", repo.findCalls)
	}
}

func TestGetPlanByIDUnknown(t *testing.T) {
	repo := &fakePlanRepo{plans: map[string]*models.Plan{}}
	svc := newCatalogService(t, repo, newFakeCache())

	_, err := svc.GetPlanByID(context.Background(), "ghost")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetPlanByIDWithoutCache(t *testing.T) {
	repo := &fakePlanRepo{plans: map[string]*models.Plan{"start": startPlan()}}
	svc := newCatalogService(t, repo, nil)

	if _, err := svc.GetPlanByID(context.Background(), "start"); err != nil {
		t.Fatalf("GetPlanByID: %v", err)
	}
	if _, err := svc.GetPlanByID(context.Background(), "start"); err != nil {
		t.Fatalf("GetPlanByID: %v", err)
	}
	if repo.findCalls != 2 {
		t.Fatalf("expected repo hit on every lookup without cache, got %d", repo.findCalls)
	}
}

func TestGetPlanByIDIgnoresCorruptCacheEntry(t *testing.T) {
	repo := &fakePlanRepo{plans: map[string]*models.Plan{"start": startPlan()}}
	cache := newFakeCache()
	cache.values[cache.CacheKey("plan", "start")] = "{not json"
	svc := newCatalogService(t, repo, cache)

	plan, err := svc.GetPlanByID(context.Background(), "start")
	if err != nil {
		t.Fatalf("GetPlanByID: %v", err)
	}
	if plan.ID != "start" {
		t.Fatalf("expected fallthrough to repo, got %+v", plan)
	}
}

func TestListActivePlansCachesResult(t *testing.T) {
	repo := &fakePlanRepo{plans: map[string]*models.Plan{"start": startPlan()}}
	cache := newFakeCache()
	svc := newCatalogService(t, repo, cache)

	plans, err := svc.ListActivePlans(context.Background())
	if err != nil {
		t.Fatalf("ListActivePlans: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}
	if repo.listCalls != 1 {
		t.Fatalf("expected one repo list, got %d", repo.listCalls)
	}

	cached, err := svc.ListActivePlans(context.Background())
	if err != nil {
		t.Fatalf("cached ListActivePlans: %v", err)
	}
	if repo.listCalls != 1 {
		t.Fatalf("expected cache hit, repo listed %d times", repo.listCalls)
	}

	raw, _ := json.Marshal(plans)
	cachedRaw, _ := json.Marshal(cached)
	if string(raw) != string(cachedRaw) {
		t.Fatalf("expected identical plans, got %s vs %s", raw, cachedRaw)
	}
}
