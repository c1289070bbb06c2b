package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/leadledger-backend/pkg/db/models"
	"github.com/angelmondragon/leadledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	subscriptions := `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  leads_balance INTEGER NOT NULL DEFAULT 0,
  leads_bonus INTEGER NOT NULL DEFAULT 0,
  current_period_start DATETIME NOT NULL,
  current_period_end DATETIME NOT NULL,
  gateway_transaction_id TEXT,
  gateway_subscription_id TEXT,
  cancelled_at DATETIME,
  cancellation_reason TEXT,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	leadEvents := `
CREATE TABLE IF NOT EXISTS lead_events (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  type TEXT NOT NULL,
  delta INTEGER NOT NULL,
  balance_after INTEGER NOT NULL,
  bonus_after INTEGER NOT NULL,
  webhook_event_id TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(subscriptions).Error)
	require.NoError(t, db.Exec(leadEvents).Error)
	return db
}

func newSubscription(t *testing.T, db *gorm.DB, userID uuid.UUID, status enums.SubscriptionStatus, periodEnd time.Time) *models.Subscription {
	t.Helper()

	sub := &models.Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		PlanID:             "start",
		Status:             status,
		LeadsBalance:       1000,
		CurrentPeriodStart: periodEnd.Add(-30 * 24 * time.Hour),
		CurrentPeriodEnd:   periodEnd,
		Version:            1,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func TestRepositoryFindActiveByUser(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	userID := uuid.New()
	now := time.Now().UTC()
	newSubscription(t, db, userID, enums.SubscriptionStatusExpired, now.Add(-time.Hour))
	active := newSubscription(t, db, userID, enums.SubscriptionStatusActive, now.Add(20*24*time.Hour))

	found, err := repo.FindActiveByUser(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, active.ID, found.ID)

	missing, err := repo.FindActiveByUser(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositorySaveVersioned(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	sub := newSubscription(t, db, uuid.New(), enums.SubscriptionStatusActive, now.Add(20*24*time.Hour))

	sub.LeadsBalance = 1300
	require.NoError(t, repo.SaveVersioned(ctx, sub))
	assert.Equal(t, int64(2), sub.Version)

	var stored models.Subscription
	require.NoError(t, db.First(&stored, "id = ?", sub.ID).Error)
	assert.Equal(t, 1300, stored.LeadsBalance)
	assert.Equal(t, int64(2), stored.Version)
}

func TestRepositorySaveVersionedStaleVersionConflicts(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	sub := newSubscription(t, db, uuid.New(), enums.SubscriptionStatusActive, now.Add(20*24*time.Hour))

	stale := *sub
	sub.LeadsBalance = 1500
	require.NoError(t, repo.SaveVersioned(ctx, sub))

	stale.LeadsBalance = 900
	err := repo.SaveVersioned(ctx, &stale)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

	var stored models.Subscription
	require.NoError(t, db.First(&stored, "id = ?", sub.ID).Error)
	assert.Equal(t, 1500, stored.LeadsBalance, "losing write must not clobber the row")
}

func TestRepositoryListLapsed(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	lapsedActive := newSubscription(t, db, uuid.New(), enums.SubscriptionStatusActive, now.Add(-48*time.Hour))
	lapsedCancelled := newSubscription(t, db, uuid.New(), enums.SubscriptionStatusCancelled, now.Add(-24*time.Hour))
	newSubscription(t, db, uuid.New(), enums.SubscriptionStatusActive, now.Add(24*time.Hour))
	newSubscription(t, db, uuid.New(), enums.SubscriptionStatusExpired, now.Add(-72*time.Hour))

	lapsed, err := repo.ListLapsed(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, lapsed, 2)
	// Oldest period end first.
	assert.Equal(t, lapsedActive.ID, lapsed[0].ID)
	assert.Equal(t, lapsedCancelled.ID, lapsed[1].ID)

	capped, err := repo.ListLapsed(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, lapsedActive.ID, capped[0].ID)
}

func TestRepositoryLeadEventTrail(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	sub := newSubscription(t, db, uuid.New(), enums.SubscriptionStatusActive, now.Add(20*24*time.Hour))

	grant := &models.LeadEvent{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Type:           enums.LeadEventTypePlanGrant,
		Delta:          1000,
		BalanceAfter:   1000,
		CreatedAt:      now.Add(-time.Minute),
	}
	consumption := &models.LeadEvent{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Type:           enums.LeadEventTypeConsumption,
		Delta:          -120,
		BalanceAfter:   880,
		CreatedAt:      now,
	}
	require.NoError(t, repo.CreateLeadEvent(ctx, grant))
	require.NoError(t, repo.CreateLeadEvent(ctx, consumption))

	events, err := repo.ListLeadEvents(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, enums.LeadEventTypePlanGrant, events[0].Type)
	assert.Equal(t, -120, events[1].Delta)
}
