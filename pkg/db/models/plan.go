package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/leadledger-backend/pkg/enums"
)

// Plan captures the catalog metadata for a subscription plan or lead package.
// Rows are immutable per version; the core only reads them.
type Plan struct {
	ID                 string           `gorm:"column:id;primaryKey"`
	Name               string           `gorm:"column:name;not null;uniqueIndex"`
	DisplayName        string           `gorm:"column:display_name;not null"`
	Status             enums.PlanStatus `gorm:"column:status;type:plan_status;not null"`
	PriceCents         int64            `gorm:"column:price_cents;not null"`
	CurrencyCode       string           `gorm:"column:currency_code;not null;default:'USD'"`
	LeadsIncluded      int              `gorm:"column:leads_included;not null"`
	GatewayProductCode string           `gorm:"column:gateway_product_code;not null;uniqueIndex"`
	Features           pq.StringArray   `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	CreatedAt          time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// Price exposes the plan price as a decimal for display and gateway
// comparisons. Ledger arithmetic stays on PriceCents.
func (p Plan) Price() decimal.Decimal {
	return decimal.NewFromInt(p.PriceCents).Div(decimal.NewFromInt(100))
}

// IsActive reports whether the plan can be sold.
func (p Plan) IsActive() bool {
	return p.Status == enums.PlanStatusActive
}
