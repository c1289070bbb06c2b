package checkout

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/leadledger-backend/internal/reference"
	"github.com/angelmondragon/leadledger-backend/pkg/config"
	"github.com/angelmondragon/leadledger-backend/pkg/db/models"
	"github.com/angelmondragon/leadledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
)

type stubCatalog struct {
	plans map[string]*models.Plan
}

func (s *stubCatalog) GetPlanByID(ctx context.Context, id string) (*models.Plan, error) {
	plan, ok := s.plans[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown plan")
	}
	return plan, nil
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		CheckoutBase: "https://pay.example.com/checkout",
		SuccessURL:   "https://app.example.com/billing/success",
		CancelURL:    "https://app.example.com/billing/cancel",
		WebhookURL:   "https://api.example.com/api/v1/webhooks/gateway",
	}
}

func newCheckoutService(t *testing.T, catalog *stubCatalog) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Catalog: catalog,
		Codec:   reference.NewCodec(reference.CodecParams{}),
		Gateway: testGatewayConfig(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestBuildLink(t *testing.T) {
	catalog := &stubCatalog{plans: map[string]*models.Plan{
		"pro": {
			ID:                 "pro",
			Status:             enums.PlanStatusActive,
			PriceCents:         14900,
			CurrencyCode:       "USD",
			LeadsIncluded:      4000,
			GatewayProductCode: "GW-PLAN-PRO",
		},
	}}
	svc := newCheckoutService(t, catalog)
	userID := uuid.New()

	link, err := svc.BuildLink(context.Background(), BuildInput{
		UserID:    userID,
		Operation: enums.OperationTypeUpgrade,
		PlanID:    "pro",
	})
	if err != nil {
		t.Fatalf("BuildLink: %v", err)
	}

	parsed, err := url.Parse(link.URL)
	if err != nil {
		t.Fatalf("parse link url: %v", err)
	}
	query := parsed.Query()
	if query.Get("product") != "GW-PLAN-PRO" {
		t.Fatalf("expected product code, got %q", query.Get("product"))
	}
	if query.Get("amount") != "149.00" {
		t.Fatalf("expected amount 149.00, got %q", query.Get("amount"))
	}
	if query.Get("reference") != link.Reference {
		t.Fatalf("expected reference embedded, got %q", query.Get("reference"))
	}
	if !strings.HasPrefix(link.Reference, reference.PrefixToken+"_upgrade_pro_"+userID.String()) {
		t.Fatalf("unexpected reference %q", link.Reference)
	}
	if query.Get("webhookUrl") == "" || query.Get("successUrl") == "" || query.Get("cancelUrl") == "" {
		t.Fatal("expected redirect urls in query")
	}
}

func TestBuildLinkRejectsInactivePlan(t *testing.T) {
	catalog := &stubCatalog{plans: map[string]*models.Plan{
		"legacy": {ID: "legacy", Status: enums.PlanStatusDeprecated, PriceCents: 900},
	}}
	svc := newCheckoutService(t, catalog)

	_, err := svc.BuildLink(context.Background(), BuildInput{
		UserID:    uuid.New(),
		Operation: enums.OperationTypeNew,
		PlanID:    "legacy",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestBuildLinkRejectsCancellation(t *testing.T) {
	svc := newCheckoutService(t, &stubCatalog{plans: map[string]*models.Plan{}})

	_, err := svc.BuildLink(context.Background(), BuildInput{
		UserID:    uuid.New(),
		Operation: enums.OperationTypeCancellation,
		PlanID:    "pro",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildLinkUnknownPlan(t *testing.T) {
	svc := newCheckoutService(t, &stubCatalog{plans: map[string]*models.Plan{}})

	_, err := svc.BuildLink(context.Background(), BuildInput{
		UserID:    uuid.New(),
		Operation: enums.OperationTypeNew,
		PlanID:    "ghost",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
