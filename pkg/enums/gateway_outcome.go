package enums

import "fmt"

// GatewayOutcome is the normalized result of a gateway payment notification.
type GatewayOutcome string

const (
	GatewayOutcomeApproved GatewayOutcome = "approved"
	GatewayOutcomeDeclined GatewayOutcome = "declined"
	GatewayOutcomePending  GatewayOutcome = "pending"
	GatewayOutcomeRefunded GatewayOutcome = "refunded"
)

var validGatewayOutcomes = []GatewayOutcome{
	GatewayOutcomeApproved,
	GatewayOutcomeDeclined,
	GatewayOutcomePending,
	GatewayOutcomeRefunded,
}

// String implements fmt.Stringer.
func (g GatewayOutcome) String() string {
	return string(g)
}

// IsValid reports whether the value is a known GatewayOutcome.
func (g GatewayOutcome) IsValid() bool {
	for _, candidate := range validGatewayOutcomes {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParseGatewayOutcome converts raw input into a GatewayOutcome.
func ParseGatewayOutcome(value string) (GatewayOutcome, error) {
	for _, candidate := range validGatewayOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway outcome %q", value)
}
