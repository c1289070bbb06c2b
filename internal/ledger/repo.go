package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/leadledger-backend/pkg/db/models"
	"github.com/angelmondragon/leadledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
)

// Repository manages subscription rows and their lead event trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindLatestByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	Create(ctx context.Context, sub *models.Subscription) error
	SaveVersioned(ctx context.Context, sub *models.Subscription) error
	CreateLeadEvent(ctx context.Context, event *models.LeadEvent) error
	ListLeadEvents(ctx context.Context, subscriptionID uuid.UUID) ([]models.LeadEvent, error)
	ListLapsed(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, enums.SubscriptionStatusActive).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

// SaveVersioned persists the subscription with an optimistic version check.
// A stale version loses the write and surfaces as a conflict so the caller
// re-reads rather than clobbering a concurrent mutation.
func (r *repository) SaveVersioned(ctx context.Context, sub *models.Subscription) error {
	currentVersion := sub.Version
	updates := map[string]any{
		"plan_id":                 sub.PlanID,
		"status":                  sub.Status,
		"leads_balance":           sub.LeadsBalance,
		"leads_bonus":             sub.LeadsBonus,
		"current_period_start":    sub.CurrentPeriodStart,
		"current_period_end":      sub.CurrentPeriodEnd,
		"gateway_transaction_id":  sub.GatewayTransactionID,
		"gateway_subscription_id": sub.GatewaySubscriptionID,
		"cancelled_at":            sub.CancelledAt,
		"cancellation_reason":     sub.CancellationReason,
		"version":                 currentVersion + 1,
	}

	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, currentVersion).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "subscription modified concurrently").
			WithDetails(map[string]any{"subscription_id": sub.ID.String()})
	}

	sub.Version = currentVersion + 1
	return nil
}

func (r *repository) CreateLeadEvent(ctx context.Context, event *models.LeadEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListLeadEvents(ctx context.Context, subscriptionID uuid.UUID) ([]models.LeadEvent, error) {
	var events []models.LeadEvent
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ListLapsed returns active or cancelled subscriptions whose period ended
// before the cutoff; the expiry sweep flips them to expired.
func (r *repository) ListLapsed(ctx context.Context, cutoff time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status IN (?)", []enums.SubscriptionStatus{
			enums.SubscriptionStatusActive,
			enums.SubscriptionStatusCancelled,
		}).
		Where("current_period_end < ?", cutoff).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
