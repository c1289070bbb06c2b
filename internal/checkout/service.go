package checkout

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/angelmondragon/leadledger-backend/internal/reference"
	"github.com/angelmondragon/leadledger-backend/pkg/config"
	"github.com/angelmondragon/leadledger-backend/pkg/db/models"
	"github.com/angelmondragon/leadledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
)

type planCatalog interface {
	GetPlanByID(ctx context.Context, id string) (*models.Plan, error)
}

// BuildInput identifies the purchase a checkout link is minted for.
type BuildInput struct {
	UserID    uuid.UUID
	Operation enums.OperationType
	PlanID    string
}

// Link is a ready-to-redirect checkout URL plus the reference embedded in it.
type Link struct {
	URL       string
	Reference string
	Plan      *models.Plan
}

// Service mints gateway checkout links carrying an encoded reference that the
// webhook receiver later decodes.
type Service interface {
	BuildLink(ctx context.Context, input BuildInput) (*Link, error)
}

// ServiceParams configures the checkout service.
type ServiceParams struct {
	Catalog planCatalog
	Codec   *reference.Codec
	Gateway config.GatewayConfig
	Logger  *logger.Logger
}

type service struct {
	catalog planCatalog
	codec   *reference.Codec
	gateway config.GatewayConfig
	logg    *logger.Logger
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Catalog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog required")
	}
	if params.Codec == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reference codec required")
	}
	if params.Gateway.CheckoutBase == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout base url required")
	}
	return &service{
		catalog: params.Catalog,
		codec:   params.Codec,
		gateway: params.Gateway,
		logg:    params.Logger,
	}, nil
}

func (s *service) BuildLink(ctx context.Context, input BuildInput) (*Link, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !input.Operation.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid operation type %q", input.Operation))
	}
	if input.Operation == enums.OperationTypeCancellation {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation has no checkout flow")
	}

	plan, err := s.catalog.GetPlanByID(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "plan is not purchasable").
			WithDetails(map[string]any{"plan_id": plan.ID, "plan_status": string(plan.Status)})
	}

	ref, err := s.codec.Encode(input.Operation, plan.ID, input.UserID)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(s.gateway.CheckoutBase)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "invalid checkout base url")
	}

	query := base.Query()
	query.Set("product", plan.GatewayProductCode)
	query.Set("reference", ref)
	query.Set("amount", plan.Price().StringFixed(2))
	query.Set("currency", plan.CurrencyCode)
	query.Set("successUrl", s.gateway.SuccessURL)
	query.Set("cancelUrl", s.gateway.CancelURL)
	query.Set("webhookUrl", s.gateway.WebhookURL)
	base.RawQuery = query.Encode()

	if s.logg != nil {
		fields := map[string]any{
			"plan_id":   plan.ID,
			"operation": string(input.Operation),
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "checkout link minted")
	}

	return &Link{URL: base.String(), Reference: ref, Plan: plan}, nil
}
