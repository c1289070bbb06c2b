package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/leadledger-backend/internal/reference"
	"github.com/angelmondragon/leadledger-backend/pkg/db/models"
	"github.com/angelmondragon/leadledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
)

const defaultPeriodDays = 30

type planCatalog interface {
	GetPlanByID(ctx context.Context, id string) (*models.Plan, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ApplyInput is a validated, decoded gateway event ready for the state machine.
type ApplyInput struct {
	Reference             reference.Reference
	Outcome               enums.GatewayOutcome
	TransactionID         string
	GatewaySubscriptionID *string
	WebhookEventID        uuid.UUID
}

// ApplyResult reports what the state machine did.
type ApplyResult struct {
	Subscription *models.Subscription
	Changed      bool
}

// Service computes subscription state transitions and leads arithmetic.
// All quantities are integers; the math re-reads persisted state inside the
// caller's transaction rather than trusting any in-memory snapshot.
type Service interface {
	Apply(ctx context.Context, tx *gorm.DB, input ApplyInput) (*ApplyResult, error)
	Consume(ctx context.Context, userID uuid.UUID, quantity int) (*models.Subscription, error)
	ExpireLapsed(ctx context.Context, limit int) (int, error)
}

// ServiceParams configures the ledger service.
type ServiceParams struct {
	Repo       Repository
	Catalog    planCatalog
	TxRunner   txRunner
	Logger     *logger.Logger
	PeriodDays int
	Now        func() time.Time
}

type service struct {
	repo       Repository
	catalog    planCatalog
	tx         txRunner
	logg       *logger.Logger
	periodDays int
	now        func() time.Time
}

// NewService builds the ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	if params.Catalog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tx runner required")
	}
	periodDays := params.PeriodDays
	if periodDays <= 0 {
		periodDays = defaultPeriodDays
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:       params.Repo,
		catalog:    params.Catalog,
		tx:         params.TxRunner,
		logg:       params.Logger,
		periodDays: periodDays,
		now:        now,
	}, nil
}

// Apply runs the transition table for one decoded event inside the caller's
// transaction. Declined, refunded and pending outcomes are normal results and
// touch no subscription state.
func (s *service) Apply(ctx context.Context, tx *gorm.DB, input ApplyInput) (*ApplyResult, error) {
	if input.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	if !input.Outcome.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid outcome %q", input.Outcome))
	}

	op := input.Reference.OperationType
	if op != enums.OperationTypeCancellation && input.Outcome != enums.GatewayOutcomeApproved {
		return &ApplyResult{Changed: false}, nil
	}

	repo := s.repo.WithTx(tx)

	switch op {
	case enums.OperationTypeNew:
		return s.applyNew(ctx, repo, input)
	case enums.OperationTypeRenewal:
		return s.applyRenewal(ctx, repo, input)
	case enums.OperationTypeUpgrade:
		return s.applyPlanSwitch(ctx, repo, input, true)
	case enums.OperationTypeDowngrade:
		return s.applyPlanSwitch(ctx, repo, input, false)
	case enums.OperationTypePackagePurchase:
		return s.applyPackagePurchase(ctx, repo, input)
	case enums.OperationTypeCancellation:
		return s.applyCancellation(ctx, repo, input)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported operation %q", op))
	}
}

func (s *service) applyNew(ctx context.Context, repo Repository, input ApplyInput) (*ApplyResult, error) {
	existing, err := repo.FindActiveByUser(ctx, input.Reference.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active subscription")
	}
	if existing != nil {
		if alreadyApplied(existing, input.TransactionID) {
			return &ApplyResult{Subscription: existing, Changed: false}, nil
		}
		if existing.PlanID == input.Reference.SubjectID {
			// Duplicate checkout for the plan already held; the dedup gate
			// normally catches this, the ledger defends in depth.
			return &ApplyResult{Subscription: existing, Changed: false}, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "user already has an active subscription").
			WithDetails(map[string]any{
				"user_id":    input.Reference.UserID.String(),
				"held_plan":  existing.PlanID,
				"asked_plan": input.Reference.SubjectID,
			})
	}

	plan, err := s.catalog.GetPlanByID(ctx, input.Reference.SubjectID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	txnID := input.TransactionID
	sub := &models.Subscription{
		ID:                    uuid.New(),
		UserID:                input.Reference.UserID,
		PlanID:                plan.ID,
		Status:                enums.SubscriptionStatusActive,
		LeadsBalance:          plan.LeadsIncluded,
		LeadsBonus:            0,
		CurrentPeriodStart:    now,
		CurrentPeriodEnd:      now.AddDate(0, 0, s.periodDays),
		GatewayTransactionID:  &txnID,
		GatewaySubscriptionID: input.GatewaySubscriptionID,
	}
	if err := repo.Create(ctx, sub); err != nil {
		return nil, err
	}

	if err := s.recordLeadEvent(ctx, repo, sub, enums.LeadEventTypePlanGrant, plan.LeadsIncluded, input.WebhookEventID); err != nil {
		return nil, err
	}
	return &ApplyResult{Subscription: sub, Changed: true}, nil
}

func (s *service) applyRenewal(ctx context.Context, repo Repository, input ApplyInput) (*ApplyResult, error) {
	sub, err := s.requireActive(ctx, repo, input)
	if err != nil || sub == nil {
		return s.noopOrError(sub, err)
	}
	if sub.PlanID != input.Reference.SubjectID {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "renewal plan does not match held plan").
			WithDetails(map[string]any{"held_plan": sub.PlanID, "renewal_plan": input.Reference.SubjectID})
	}

	plan, err := s.catalog.GetPlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	// Unused balance carries over; renewal adds, never resets.
	sub.LeadsBalance += plan.LeadsIncluded
	s.advancePeriod(sub)
	s.stampTransaction(sub, input)

	if err := repo.SaveVersioned(ctx, sub); err != nil {
		return nil, err
	}
	if err := s.recordLeadEvent(ctx, repo, sub, enums.LeadEventTypeRenewalGrant, plan.LeadsIncluded, input.WebhookEventID); err != nil {
		return nil, err
	}
	return &ApplyResult{Subscription: sub, Changed: true}, nil
}

func (s *service) applyPlanSwitch(ctx context.Context, repo Repository, input ApplyInput, upgrade bool) (*ApplyResult, error) {
	sub, err := s.requireActive(ctx, repo, input)
	if err != nil || sub == nil {
		return s.noopOrError(sub, err)
	}

	plan, err := s.catalog.GetPlanByID(ctx, input.Reference.SubjectID)
	if err != nil {
		return nil, err
	}

	previous := sub.LeadsBalance
	var eventType enums.LeadEventType
	if upgrade {
		// Never punish an upgrade by truncating unused balance.
		if plan.LeadsIncluded > sub.LeadsBalance {
			sub.LeadsBalance = plan.LeadsIncluded
		}
		eventType = enums.LeadEventTypeUpgradeAdjust
	} else {
		// Cap at the new allotment, never below zero.
		if sub.LeadsBalance > plan.LeadsIncluded {
			sub.LeadsBalance = plan.LeadsIncluded
		}
		eventType = enums.LeadEventTypeDowngradeCap
	}

	sub.PlanID = plan.ID
	s.stampTransaction(sub, input)

	if err := repo.SaveVersioned(ctx, sub); err != nil {
		return nil, err
	}
	if err := s.recordLeadEvent(ctx, repo, sub, eventType, sub.LeadsBalance-previous, input.WebhookEventID); err != nil {
		return nil, err
	}
	return &ApplyResult{Subscription: sub, Changed: true}, nil
}

func (s *service) applyPackagePurchase(ctx context.Context, repo Repository, input ApplyInput) (*ApplyResult, error) {
	sub, err := s.requireActive(ctx, repo, input)
	if err != nil || sub == nil {
		return s.noopOrError(sub, err)
	}

	pack, err := s.catalog.GetPlanByID(ctx, input.Reference.SubjectID)
	if err != nil {
		return nil, err
	}

	// Bonus is an independent top-up; plan and period stay untouched.
	sub.LeadsBonus += pack.LeadsIncluded
	s.stampTransaction(sub, input)

	if err := repo.SaveVersioned(ctx, sub); err != nil {
		return nil, err
	}
	if err := s.recordLeadEvent(ctx, repo, sub, enums.LeadEventTypeBonusPurchase, pack.LeadsIncluded, input.WebhookEventID); err != nil {
		return nil, err
	}
	return &ApplyResult{Subscription: sub, Changed: true}, nil
}

func (s *service) applyCancellation(ctx context.Context, repo Repository, input ApplyInput) (*ApplyResult, error) {
	sub, err := s.requireActive(ctx, repo, input)
	if err != nil || sub == nil {
		return s.noopOrError(sub, err)
	}

	// Cancellation stops future billing; balance and access survive until
	// the period ends. The expiry sweep owns the final transition.
	now := s.now().UTC()
	reason := "gateway cancellation"
	sub.Status = enums.SubscriptionStatusCancelled
	sub.CancelledAt = &now
	sub.CancellationReason = &reason
	s.stampTransaction(sub, input)

	if err := repo.SaveVersioned(ctx, sub); err != nil {
		return nil, err
	}
	return &ApplyResult{Subscription: sub, Changed: true}, nil
}

// Consume draws quantity leads from the user's active subscription, spending
// bonus leads before the plan balance. The total never goes below zero.
func (s *service) Consume(ctx context.Context, userID uuid.UUID, quantity int) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	var consumed *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindActiveByUser(ctx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active subscription")
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
		}
		if sub.LeadsTotal() < quantity {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "insufficient leads balance").
				WithDetails(map[string]any{"available": sub.LeadsTotal(), "requested": quantity})
		}

		remaining := quantity
		if sub.LeadsBonus >= remaining {
			sub.LeadsBonus -= remaining
			remaining = 0
		} else {
			remaining -= sub.LeadsBonus
			sub.LeadsBonus = 0
			sub.LeadsBalance -= remaining
		}

		if err := repo.SaveVersioned(ctx, sub); err != nil {
			return err
		}
		if err := s.recordLeadEvent(ctx, repo, sub, enums.LeadEventTypeConsumption, -quantity, uuid.Nil); err != nil {
			return err
		}
		consumed = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

// ExpireLapsed flips active/cancelled subscriptions whose period has ended to
// expired. Returns the number of rows transitioned.
func (s *service) ExpireLapsed(ctx context.Context, limit int) (int, error) {
	now := s.now().UTC()
	expired := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subs, err := repo.ListLapsed(ctx, now, limit)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list lapsed subscriptions")
		}
		for i := range subs {
			sub := &subs[i]
			sub.Status = enums.SubscriptionStatusExpired
			if err := repo.SaveVersioned(ctx, sub); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return expired, err
	}
	return expired, nil
}

func (s *service) requireActive(ctx context.Context, repo Repository, input ApplyInput) (*models.Subscription, error) {
	sub, err := repo.FindActiveByUser(ctx, input.Reference.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no active subscription for user").
			WithDetails(map[string]any{
				"user_id":   input.Reference.UserID.String(),
				"operation": string(input.Reference.OperationType),
			})
	}
	if alreadyApplied(sub, input.TransactionID) {
		return sub, errAlreadyApplied
	}
	return sub, nil
}

var errAlreadyApplied = pkgerrors.New(pkgerrors.CodeConflict, "transaction already applied")

// alreadyApplied reports whether this transaction was the last one stamped on
// the subscription. The webhook dedup gate catches redeliveries first; this is
// the in-row backstop for replays that slip past it.
func alreadyApplied(sub *models.Subscription, transactionID string) bool {
	return sub.GatewayTransactionID != nil && *sub.GatewayTransactionID == transactionID
}

func (s *service) noopOrError(sub *models.Subscription, err error) (*ApplyResult, error) {
	if err == errAlreadyApplied {
		return &ApplyResult{Subscription: sub, Changed: false}, nil
	}
	return nil, err
}

func (s *service) advancePeriod(sub *models.Subscription) {
	now := s.now().UTC()
	if sub.CurrentPeriodEnd.After(now) {
		sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.AddDate(0, 0, s.periodDays)
		return
	}
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = now.AddDate(0, 0, s.periodDays)
}

func (s *service) stampTransaction(sub *models.Subscription, input ApplyInput) {
	txnID := input.TransactionID
	sub.GatewayTransactionID = &txnID
	if input.GatewaySubscriptionID != nil {
		sub.GatewaySubscriptionID = input.GatewaySubscriptionID
	}
}

func (s *service) recordLeadEvent(ctx context.Context, repo Repository, sub *models.Subscription, eventType enums.LeadEventType, delta int, webhookEventID uuid.UUID) error {
	event := &models.LeadEvent{
		SubscriptionID: sub.ID,
		Type:           eventType,
		Delta:          delta,
		BalanceAfter:   sub.LeadsBalance,
		BonusAfter:     sub.LeadsBonus,
	}
	if webhookEventID != uuid.Nil {
		id := webhookEventID
		event.WebhookEventID = &id
	}
	if err := repo.CreateLeadEvent(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record lead event")
	}
	return nil
}
