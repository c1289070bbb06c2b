package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/leadledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
)

var validate = validator.New()

// Payload is the gateway notification body. Only the fields the
// reconciliation core consumes are declared; everything else stays in the
// stored raw payload.
type Payload struct {
	TransactionID  string  `json:"transactionId" validate:"required"`
	Reference      string  `json:"reference" validate:"required"`
	Status         string  `json:"status" validate:"required"`
	Amount         string  `json:"amount"`
	CurrencyCode   string  `json:"currencyCode"`
	SubscriptionID *string `json:"subscriptionId"`
}

// ParsePayload validates the raw webhook body into a Payload.
func ParsePayload(raw []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook body")
	}
	if err := validate.Struct(&payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "webhook body missing required fields").
			WithDetails(map[string]any{"reason": err.Error()})
	}
	payload.TransactionID = strings.TrimSpace(payload.TransactionID)
	payload.Reference = strings.TrimSpace(payload.Reference)
	return &payload, nil
}

// AmountDecimal parses the payload amount. A missing amount yields zero and
// no error; the sanity check treats zero as "not reported".
func (p *Payload) AmountDecimal() (decimal.Decimal, error) {
	if strings.TrimSpace(p.Amount) == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err,
			fmt.Sprintf("amount %q is not a decimal", p.Amount))
	}
	return amount, nil
}

// outcomesByStatus maps the gateway's status vocabulary onto the normalized
// outcome set. Matching is case-insensitive.
var outcomesByStatus = map[string]enums.GatewayOutcome{
	"approved":     enums.GatewayOutcomeApproved,
	"accredited":   enums.GatewayOutcomeApproved,
	"completed":    enums.GatewayOutcomeApproved,
	"paid":         enums.GatewayOutcomeApproved,
	"declined":     enums.GatewayOutcomeDeclined,
	"rejected":     enums.GatewayOutcomeDeclined,
	"failed":       enums.GatewayOutcomeDeclined,
	"pending":      enums.GatewayOutcomePending,
	"in_process":   enums.GatewayOutcomePending,
	"in_review":    enums.GatewayOutcomePending,
	"refunded":     enums.GatewayOutcomeRefunded,
	"charged_back": enums.GatewayOutcomeRefunded,
}

// MapOutcome normalizes the gateway status string.
func MapOutcome(status string) (enums.GatewayOutcome, error) {
	outcome, ok := outcomesByStatus[strings.ToLower(strings.TrimSpace(status))]
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeUnknownStatus, "unrecognized gateway status").
			WithDetails(map[string]any{"status": status})
	}
	return outcome, nil
}
