package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/leadledger-backend/pkg/enums"
)

// Subscription persists the per-user subscription aggregate, including the
// leads balances the ledger mutates. At most one row per user may be active;
// history is kept by status transition, never by deleting rows.
type Subscription struct {
	ID                    uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID                string                   `gorm:"column:plan_id;not null"`
	Status                enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'pending'"`
	LeadsBalance          int                      `gorm:"column:leads_balance;not null;default:0"`
	LeadsBonus            int                      `gorm:"column:leads_bonus;not null;default:0"`
	CurrentPeriodStart    time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd      time.Time                `gorm:"column:current_period_end;not null"`
	GatewayTransactionID  *string                  `gorm:"column:gateway_transaction_id"`
	GatewaySubscriptionID *string                  `gorm:"column:gateway_subscription_id"`
	CancelledAt           *time.Time               `gorm:"column:cancelled_at"`
	CancellationReason    *string                  `gorm:"column:cancellation_reason"`
	Version               int64                    `gorm:"column:version;not null;default:0"`
	CreatedAt             time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// LeadsTotal is the spendable total across plan balance and bonus top-ups.
func (s Subscription) LeadsTotal() int {
	return s.LeadsBalance + s.LeadsBonus
}
