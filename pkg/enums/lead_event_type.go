package enums

import "fmt"

// LeadEventType maps to the lead_event_type_enum enum in Postgres.
type LeadEventType string

const (
	LeadEventTypePlanGrant     LeadEventType = "plan_grant"
	LeadEventTypeRenewalGrant  LeadEventType = "renewal_grant"
	LeadEventTypeUpgradeAdjust LeadEventType = "upgrade_adjust"
	LeadEventTypeDowngradeCap  LeadEventType = "downgrade_cap"
	LeadEventTypeBonusPurchase LeadEventType = "bonus_purchase"
	LeadEventTypeConsumption   LeadEventType = "consumption"
	LeadEventTypeAdminGrant    LeadEventType = "admin_grant"
)

var validLeadEventTypes = []LeadEventType{
	LeadEventTypePlanGrant,
	LeadEventTypeRenewalGrant,
	LeadEventTypeUpgradeAdjust,
	LeadEventTypeDowngradeCap,
	LeadEventTypeBonusPurchase,
	LeadEventTypeConsumption,
	LeadEventTypeAdminGrant,
}

// IsValid reports whether the value matches the canonical lead event enum.
func (t LeadEventType) IsValid() bool {
	for _, candidate := range validLeadEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLeadEventType converts raw input into LeadEventType.
func ParseLeadEventType(value string) (LeadEventType, error) {
	for _, candidate := range validLeadEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid lead event type %q", value)
}
