package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/leadledger-backend/pkg/db/models"
	"github.com/angelmondragon/leadledger-backend/pkg/enums"
)

// Repository persists webhook event rows. Insert is the dedup gate: the
// unique index on gateway_transaction_id makes the first insert win and every
// concurrent duplicate fail with a unique violation.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event *models.WebhookEvent) error
	FindByTransactionID(ctx context.Context, transactionID string) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, outcome enums.GatewayOutcome, processedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	CountFailedSince(ctx context.Context, since time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a webhook event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) FindByTransactionID(ctx context.Context, transactionID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("gateway_transaction_id = ?", transactionID).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, outcome enums.GatewayOutcome, processedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.WebhookEventStatusProcessed,
			"outcome":       outcome,
			"error_message": nil,
			"processed_at":  processedAt,
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.WebhookEventStatusFailed,
			"error_message": reason,
		}).Error
}

func (r *repository) CountFailedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("status = ? AND received_at >= ?", enums.WebhookEventStatusFailed, since).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
