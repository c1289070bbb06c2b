package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/leadledger-backend/pkg/enums"
)

// LeadEvent records an immutable leads-balance movement on a subscription.
// Every replenishment, cap, bonus and consumption writes one row, so the
// balance column is always explainable from the event trail.
type LeadEvent struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID           `gorm:"column:subscription_id;type:uuid;not null;index"`
	Type           enums.LeadEventType `gorm:"column:type;type:lead_event_type_enum;not null"`
	Delta          int                 `gorm:"column:delta;not null"`
	BalanceAfter   int                 `gorm:"column:balance_after;not null"`
	BonusAfter     int                 `gorm:"column:bonus_after;not null"`
	WebhookEventID *uuid.UUID          `gorm:"column:webhook_event_id;type:uuid"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
}
