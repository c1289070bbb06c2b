package gateway

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/leadledger-backend/internal/ledger"
	"github.com/angelmondragon/leadledger-backend/internal/reference"
	"github.com/angelmondragon/leadledger-backend/pkg/db"
	"github.com/angelmondragon/leadledger-backend/pkg/db/models"
	"github.com/angelmondragon/leadledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
	"github.com/angelmondragon/leadledger-backend/pkg/metrics"
	"github.com/angelmondragon/leadledger-backend/pkg/retrywriter"
)

const dedupConstraint = "idx_webhook_events_gateway_transaction_id"

type planCatalog interface {
	GetPlanByID(ctx context.Context, id string) (*models.Plan, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Result summarizes one webhook delivery after the receiver is done with it.
// Processed reports whether the event reached its ledger effect; a false value
// with no error means the failure was recorded for operator replay and the
// gateway owes no redelivery.
type Result struct {
	EventID   uuid.UUID
	Duplicate bool
	Processed bool
	Changed   bool
	Operation enums.OperationType
	Outcome   enums.GatewayOutcome
}

// Service is the gateway webhook receiver: it authenticates the delivery,
// claims the transaction id through the dedup gate, decodes the reference and
// hands the event to the ledger exactly once.
type Service interface {
	Accept(ctx context.Context, token string, body []byte) (*Result, error)
	Replay(ctx context.Context, transactionID string) (*Result, error)
}

// ServiceParams configures the webhook service.
type ServiceParams struct {
	Repo                 Repository
	Ledger               ledger.Service
	Codec                *reference.Codec
	Catalog              planCatalog
	TxRunner             txRunner
	Writer               *retrywriter.Writer
	Logger               *logger.Logger
	Metrics              *metrics.WebhookMetrics
	WebhookToken         string
	AmountToleranceCents int64
	Now                  func() time.Time
}

type service struct {
	repo      Repository
	ledger    ledger.Service
	codec     *reference.Codec
	catalog   planCatalog
	tx        txRunner
	writer    *retrywriter.Writer
	logg      *logger.Logger
	metrics   *metrics.WebhookMetrics
	token     string
	tolerance int64
	now       func() time.Time
}

// NewService builds the webhook service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook repo required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Codec == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reference codec required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tx runner required")
	}
	if params.Writer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "retry writer required")
	}
	if params.WebhookToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook token required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:      params.Repo,
		ledger:    params.Ledger,
		codec:     params.Codec,
		catalog:   params.Catalog,
		tx:        params.TxRunner,
		writer:    params.Writer,
		logg:      params.Logger,
		metrics:   params.Metrics,
		token:     params.WebhookToken,
		tolerance: params.AmountToleranceCents,
		now:       now,
	}, nil
}

// Accept handles one inbound delivery. The insert into webhook_events is the
// mutual exclusion gate: whichever delivery lands the row first processes the
// transaction, and later deliveries of the same transaction id either
// short-circuit as duplicates or, when the row never reached a terminal
// state, drive it through processing again.
func (s *service) Accept(ctx context.Context, token string, body []byte) (*Result, error) {
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		s.metrics.IncFailed("unauthorized")
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook token")
	}

	payload, err := ParsePayload(body)
	if err != nil {
		s.metrics.IncFailed("malformed_body")
		return nil, err
	}
	if payload.TransactionID == "" {
		s.metrics.IncFailed("malformed_body")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}

	if s.logg != nil {
		ctx = s.logg.WithTransactionID(ctx, payload.TransactionID)
	}

	event := &models.WebhookEvent{
		ID:                   uuid.New(),
		GatewayTransactionID: payload.TransactionID,
		RawPayload:           body,
		Status:               enums.WebhookEventStatusReceived,
		ReceivedAt:           s.now().UTC(),
	}
	if err := s.writer.Write(ctx, "webhook_event_insert", func(ctx context.Context) error {
		return s.repo.Insert(ctx, event)
	}); err != nil {
		if db.IsUniqueViolation(err, dedupConstraint) {
			return s.redeliver(ctx, payload.TransactionID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
	}

	result, err := s.process(ctx, event, payload)
	if err != nil {
		// The event row exists, so the failure belongs to replay tooling;
		// the gateway gets an acknowledged delivery either way.
		return &Result{EventID: event.ID}, nil
	}
	return result, nil
}

// Replay re-runs a stored event from its raw payload. Processed events are
// immutable; only received or failed rows may be replayed.
func (s *service) Replay(ctx context.Context, transactionID string) (*Result, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}

	event, err := s.repo.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webhook event")
	}
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown webhook event").
			WithDetails(map[string]any{"gateway_transaction_id": transactionID})
	}
	if event.Processed() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "event already processed")
	}

	payload, err := ParsePayload(event.RawPayload)
	if err != nil {
		s.fail(ctx, event, err)
		return nil, err
	}

	if s.logg != nil {
		ctx = s.logg.WithTransactionID(ctx, event.GatewayTransactionID)
	}
	return s.process(ctx, event, payload)
}

func (s *service) process(ctx context.Context, event *models.WebhookEvent, payload *Payload) (*Result, error) {
	outcome, err := MapOutcome(payload.Status)
	if err != nil {
		s.fail(ctx, event, err)
		return nil, err
	}

	ref, err := s.codec.Decode(ctx, payload.Reference)
	if err != nil {
		s.fail(ctx, event, err)
		return nil, err
	}

	s.checkAmount(ctx, ref, outcome, payload)

	input := ledger.ApplyInput{
		Reference:             ref,
		Outcome:               outcome,
		TransactionID:         event.GatewayTransactionID,
		GatewaySubscriptionID: payload.SubscriptionID,
		WebhookEventID:        event.ID,
	}

	var applied *ledger.ApplyResult
	err = s.writer.Write(ctx, "ledger_apply", func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			result, applyErr := s.ledger.Apply(ctx, tx, input)
			if applyErr != nil {
				return applyErr
			}
			applied = result
			return s.repo.WithTx(tx).MarkProcessed(ctx, event.ID, outcome, s.now().UTC())
		})
	})
	if err != nil {
		s.fail(ctx, event, err)
		return nil, err
	}

	s.metrics.IncProcessed(string(ref.OperationType), string(outcome))
	if s.logg != nil {
		fields := map[string]any{
			"operation": string(ref.OperationType),
			"outcome":   string(outcome),
			"changed":   applied.Changed,
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "webhook event processed")
	}

	return &Result{
		EventID:   event.ID,
		Processed: true,
		Changed:   applied.Changed,
		Operation: ref.OperationType,
		Outcome:   outcome,
	}, nil
}

// redeliver resolves a delivery that lost the insert race. Rows already in a
// terminal state short-circuit as duplicates; a row still in received never
// finished its first pass, so the redelivery drives it through processing
// again from the stored payload.
func (s *service) redeliver(ctx context.Context, transactionID string) (*Result, error) {
	existing, err := s.repo.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load duplicate webhook event")
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "webhook event missing after duplicate insert")
	}

	if existing.Status != enums.WebhookEventStatusReceived {
		s.metrics.IncDuplicate()
		if s.logg != nil {
			s.logg.Info(ctx, "duplicate webhook delivery ignored")
		}
		result := &Result{
			EventID:   existing.ID,
			Duplicate: true,
			Processed: existing.Processed(),
		}
		if existing.Outcome != nil {
			result.Outcome = *existing.Outcome
		}
		return result, nil
	}

	payload, err := ParsePayload(existing.RawPayload)
	if err != nil {
		s.fail(ctx, existing, err)
		return &Result{EventID: existing.ID, Duplicate: true}, nil
	}
	result, err := s.process(ctx, existing, payload)
	if err != nil {
		return &Result{EventID: existing.ID, Duplicate: true}, nil
	}
	result.Duplicate = true
	return result, nil
}

// checkAmount compares the reported charge against the catalog price. A
// mismatch is logged, never rejected: the reference, not the amount, is the
// source of truth for what was bought.
func (s *service) checkAmount(ctx context.Context, ref reference.Reference, outcome enums.GatewayOutcome, payload *Payload) {
	if s.catalog == nil || s.logg == nil {
		return
	}
	if outcome != enums.GatewayOutcomeApproved || ref.OperationType == enums.OperationTypeCancellation {
		return
	}
	amount, err := payload.AmountDecimal()
	if err != nil || amount.IsZero() {
		return
	}
	plan, err := s.catalog.GetPlanByID(ctx, ref.SubjectID)
	if err != nil || plan == nil {
		return
	}

	reportedCents := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	diff := reportedCents - plan.PriceCents
	if diff < 0 {
		diff = -diff
	}
	if diff > s.tolerance {
		fields := map[string]any{
			"plan_id":         plan.ID,
			"expected_cents":  plan.PriceCents,
			"reported_cents":  reportedCents,
			"tolerance_cents": s.tolerance,
		}
		s.logg.Warn(s.logg.WithFields(ctx, fields), "webhook amount does not match catalog price")
	}
}

// fail records a processing failure. Terminal causes flip the row to failed
// so an operator can correlate and replay it; transient causes leave the row
// in received, where the next redelivery of the same transaction id picks it
// back up.
func (s *service) fail(ctx context.Context, event *models.WebhookEvent, cause error) {
	s.metrics.IncFailed(failureReason(cause))
	if retrywriter.IsTransient(cause) {
		if s.logg != nil {
			s.logg.Warn(ctx, "webhook event left unprocessed for redelivery: "+cause.Error())
		}
		return
	}
	if err := s.repo.MarkFailed(ctx, event.ID, truncateReason(cause.Error())); err != nil && s.logg != nil {
		s.logg.Error(ctx, "marking webhook event failed", err)
	}
	if s.logg != nil {
		s.logg.Error(ctx, "webhook event processing failed", cause)
	}
}

func failureReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "internal"
}

func truncateReason(reason string) string {
	const maxLen = 512
	if len(reason) > maxLen {
		return reason[:maxLen]
	}
	return reason
}
