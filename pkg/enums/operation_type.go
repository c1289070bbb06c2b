package enums

import "fmt"

// OperationType identifies the checkout intent carried inside a gateway reference.
type OperationType string

const (
	OperationTypeNew             OperationType = "new"
	OperationTypeRenewal         OperationType = "renewal"
	OperationTypeUpgrade         OperationType = "upgrade"
	OperationTypeDowngrade       OperationType = "downgrade"
	OperationTypePackagePurchase OperationType = "package_purchase"
	OperationTypeCancellation    OperationType = "cancellation"
)

var validOperationTypes = []OperationType{
	OperationTypeNew,
	OperationTypeRenewal,
	OperationTypeUpgrade,
	OperationTypeDowngrade,
	OperationTypePackagePurchase,
	OperationTypeCancellation,
}

// String implements fmt.Stringer.
func (o OperationType) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OperationType.
func (o OperationType) IsValid() bool {
	for _, candidate := range validOperationTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOperationType converts raw input into an OperationType.
func ParseOperationType(value string) (OperationType, error) {
	for _, candidate := range validOperationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid operation type %q", value)
}
