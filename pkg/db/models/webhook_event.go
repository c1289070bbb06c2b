package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/leadledger-backend/pkg/enums"
)

// WebhookEvent is the append-only record of each inbound gateway notification.
// GatewayTransactionID carries the unique dedup key; the row is created on
// receipt and flipped exactly once to processed or failed.
type WebhookEvent struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	GatewayTransactionID string                   `gorm:"column:gateway_transaction_id;not null;uniqueIndex:idx_webhook_events_gateway_transaction_id"`
	RawPayload           json.RawMessage          `gorm:"column:raw_payload;type:jsonb;not null"`
	Status               enums.WebhookEventStatus `gorm:"column:status;type:webhook_event_status;not null;default:'received'"`
	Outcome              *enums.GatewayOutcome    `gorm:"column:outcome;type:gateway_outcome"`
	ErrorMessage         *string                  `gorm:"column:error_message"`
	ReceivedAt           time.Time                `gorm:"column:received_at;not null;autoCreateTime"`
	ProcessedAt          *time.Time               `gorm:"column:processed_at"`
}

// Processed reports whether the event already applied its ledger effect.
func (e WebhookEvent) Processed() bool {
	return e.Status == enums.WebhookEventStatusProcessed
}
