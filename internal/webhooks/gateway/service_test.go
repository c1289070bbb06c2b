package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/angelmondragon/leadledger-backend/internal/ledger"
	"github.com/angelmondragon/leadledger-backend/internal/reference"
	"github.com/angelmondragon/leadledger-backend/pkg/db/models"
	"github.com/angelmondragon/leadledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
	"github.com/angelmondragon/leadledger-backend/pkg/retrywriter"
)

const testToken = "whsec-test"

type fakeWebhookRepo struct {
	insertErr error
	events    map[string]*models.WebhookEvent
	processed []uuid.UUID
	failed    map[uuid.UUID]string
}

func newFakeWebhookRepo() *fakeWebhookRepo {
	return &fakeWebhookRepo{
		events: map[string]*models.WebhookEvent{},
		failed: map[uuid.UUID]string{},
	}
}

func (f *fakeWebhookRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeWebhookRepo) Insert(ctx context.Context, event *models.WebhookEvent) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, exists := f.events[event.GatewayTransactionID]; exists {
		return &pgconn.PgError{Code: "23505", ConstraintName: dedupConstraint}
	}
	f.events[event.GatewayTransactionID] = event
	return nil
}

func (f *fakeWebhookRepo) FindByTransactionID(ctx context.Context, transactionID string) (*models.WebhookEvent, error) {
	event, ok := f.events[transactionID]
	if !ok {
		return nil, nil
	}
	return event, nil
}

func (f *fakeWebhookRepo) MarkProcessed(ctx context.Context, id uuid.UUID, outcome enums.GatewayOutcome, processedAt time.Time) error {
	f.processed = append(f.processed, id)
	for _, event := range f.events {
		if event.ID == id {
			event.Status = enums.WebhookEventStatusProcessed
			event.Outcome = &outcome
			event.ProcessedAt = &processedAt
		}
	}
	return nil
}

func (f *fakeWebhookRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	f.failed[id] = reason
	for _, event := range f.events {
		if event.ID == id {
			event.Status = enums.WebhookEventStatusFailed
		}
	}
	return nil
}

func (f *fakeWebhookRepo) CountFailedSince(ctx context.Context, since time.Time) (int64, error) {
	return int64(len(f.failed)), nil
}

type fakeLedger struct {
	applyErr error
	inputs   []ledger.ApplyInput
}

func (f *fakeLedger) Apply(ctx context.Context, tx *gorm.DB, input ledger.ApplyInput) (*ledger.ApplyResult, error) {
	f.inputs = append(f.inputs, input)
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	return &ledger.ApplyResult{Changed: true}, nil
}

func (f *fakeLedger) Consume(ctx context.Context, userID uuid.UUID, quantity int) (*models.Subscription, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func (f *fakeLedger) ExpireLapsed(ctx context.Context, limit int) (int, error) {
	return 0, nil
}

type webhookTxRunner struct{}

func (webhookTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newTestWebhookService(t *testing.T, repo *fakeWebhookRepo, ldg *fakeLedger) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:         repo,
		Ledger:       ldg,
		Codec:        reference.NewCodec(reference.CodecParams{}),
		TxRunner:     webhookTxRunner{},
		Writer:       retrywriter.New(retrywriter.Policy{MaxAttempts: 3, BackoffStep: 0}, nil),
		WebhookToken: testToken,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func webhookBody(t *testing.T, transactionID, ref, status string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"transactionId": transactionID,
		"reference":     ref,
		"status":        status,
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func TestAcceptProcessesEvent(t *testing.T) {
	repo := newFakeWebhookRepo()
	ldg := &fakeLedger{}
	svc := newTestWebhookService(t, repo, ldg)
	userID := uuid.New()

	body := webhookBody(t, "txn-1", "lead_new_start_"+userID.String(), "approved")
	result, err := svc.Accept(context.Background(), testToken, body)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if result.Duplicate {
		t.Fatal("expected first delivery, not duplicate")
	}
	if !result.Processed {
		t.Fatal("expected event reported processed")
	}
	if result.Operation != enums.OperationTypeNew || result.Outcome != enums.GatewayOutcomeApproved {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(ldg.inputs) != 1 {
		t.Fatalf("expected one ledger apply, got %d", len(ldg.inputs))
	}
	if ldg.inputs[0].TransactionID != "txn-1" {
		t.Fatalf("expected transaction id forwarded, got %q", ldg.inputs[0].TransactionID)
	}
	if len(repo.processed) != 1 {
		t.Fatalf("expected event marked processed, got %d", len(repo.processed))
	}
}

func TestAcceptRejectsBadToken(t *testing.T) {
	repo := newFakeWebhookRepo()
	svc := newTestWebhookService(t, repo, &fakeLedger{})

	_, err := svc.Accept(context.Background(), "wrong", webhookBody(t, "txn-1", "ref", "approved"))
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(repo.events) != 0 {
		t.Fatal("expected no event recorded for unauthorized delivery")
	}
}

func TestAcceptDuplicateDeliveryShortCircuits(t *testing.T) {
	repo := newFakeWebhookRepo()
	ldg := &fakeLedger{}
	svc := newTestWebhookService(t, repo, ldg)
	userID := uuid.New()

	body := webhookBody(t, "txn-dup", "lead_renewal_start_"+userID.String(), "approved")
	first, err := svc.Accept(context.Background(), testToken, body)
	if err != nil {
		t.Fatalf("first Accept: %v", err)
	}

	second, err := svc.Accept(context.Background(), testToken, body)
	if err != nil {
		t.Fatalf("second Accept: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("expected duplicate delivery to short-circuit")
	}
	if !second.Processed {
		t.Fatal("expected duplicate to report the stored processed state")
	}
	if second.EventID != first.EventID {
		t.Fatalf("expected existing event id %s, got %s", first.EventID, second.EventID)
	}
	if len(ldg.inputs) != 1 {
		t.Fatalf("expected ledger applied once, got %d", len(ldg.inputs))
	}
}

func TestAcceptUnknownStatusAcknowledgedUnprocessed(t *testing.T) {
	repo := newFakeWebhookRepo()
	svc := newTestWebhookService(t, repo, &fakeLedger{})
	userID := uuid.New()

	body := webhookBody(t, "txn-2", "lead_new_start_"+userID.String(), "settled-ish")
	result, err := svc.Accept(context.Background(), testToken, body)
	if err != nil {
		t.Fatalf("expected acknowledged delivery, got %v", err)
	}
	if result.Processed {
		t.Fatal("expected event reported unprocessed")
	}
	event := repo.events["txn-2"]
	if event == nil || event.Status != enums.WebhookEventStatusFailed {
		t.Fatal("expected event recorded and marked failed")
	}
}

func TestAcceptMalformedReferenceAcknowledgedUnprocessed(t *testing.T) {
	repo := newFakeWebhookRepo()
	svc := newTestWebhookService(t, repo, &fakeLedger{})

	body := webhookBody(t, "txn-3", "lead_new_only", "approved")
	result, err := svc.Accept(context.Background(), testToken, body)
	if err != nil {
		t.Fatalf("expected acknowledged delivery, got %v", err)
	}
	if result.Processed {
		t.Fatal("expected event reported unprocessed")
	}
	if len(repo.failed) != 1 {
		t.Fatalf("expected one failed event, got %d", len(repo.failed))
	}
}

func TestAcceptLedgerConflictMarksFailed(t *testing.T) {
	repo := newFakeWebhookRepo()
	ldg := &fakeLedger{applyErr: pkgerrors.New(pkgerrors.CodeStateConflict, "no active subscription for user")}
	svc := newTestWebhookService(t, repo, ldg)
	userID := uuid.New()

	body := webhookBody(t, "txn-4", "lead_renewal_start_"+userID.String(), "approved")
	result, err := svc.Accept(context.Background(), testToken, body)
	if err != nil {
		t.Fatalf("expected acknowledged delivery, got %v", err)
	}
	if result.Processed {
		t.Fatal("expected event reported unprocessed")
	}
	event := repo.events["txn-4"]
	if event == nil || event.Status != enums.WebhookEventStatusFailed {
		t.Fatal("expected event marked failed")
	}
	if len(repo.processed) != 0 {
		t.Fatal("expected no processed mark")
	}
}

func TestAcceptDependencyErrorLeavesEventReceived(t *testing.T) {
	repo := newFakeWebhookRepo()
	ldg := &fakeLedger{applyErr: pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")}
	svc := newTestWebhookService(t, repo, ldg)
	userID := uuid.New()

	body := webhookBody(t, "txn-7", "lead_renewal_start_"+userID.String(), "approved")
	result, err := svc.Accept(context.Background(), testToken, body)
	if err != nil {
		t.Fatalf("expected acknowledged delivery, got %v", err)
	}
	if result.Processed {
		t.Fatal("expected event reported unprocessed")
	}
	event := repo.events["txn-7"]
	if event == nil || event.Status != enums.WebhookEventStatusReceived {
		t.Fatal("expected event left in received for redelivery")
	}
	if len(repo.failed) != 0 {
		t.Fatal("expected no failed mark for a transient error")
	}
}

func TestAcceptRedeliveryReprocessesReceivedEvent(t *testing.T) {
	repo := newFakeWebhookRepo()
	ldg := &fakeLedger{applyErr: pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")}
	svc := newTestWebhookService(t, repo, ldg)
	userID := uuid.New()

	body := webhookBody(t, "txn-8", "lead_renewal_start_"+userID.String(), "approved")
	if _, err := svc.Accept(context.Background(), testToken, body); err != nil {
		t.Fatalf("first Accept: %v", err)
	}

	ldg.applyErr = nil
	applied := len(ldg.inputs)
	result, err := svc.Accept(context.Background(), testToken, body)
	if err != nil {
		t.Fatalf("second Accept: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected redelivery flagged as duplicate insert")
	}
	if !result.Processed {
		t.Fatal("expected redelivery to finish processing")
	}
	if len(ldg.inputs) != applied+1 {
		t.Fatalf("expected one more ledger apply on redelivery, got %d", len(ldg.inputs)-applied)
	}
	event := repo.events["txn-8"]
	if event == nil || event.Status != enums.WebhookEventStatusProcessed {
		t.Fatal("expected event processed after redelivery")
	}
}

func TestReplayUnknownTransaction(t *testing.T) {
	svc := newTestWebhookService(t, newFakeWebhookRepo(), &fakeLedger{})

	_, err := svc.Replay(context.Background(), "missing")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReplayProcessedEventConflicts(t *testing.T) {
	repo := newFakeWebhookRepo()
	ldg := &fakeLedger{}
	svc := newTestWebhookService(t, repo, ldg)
	userID := uuid.New()

	body := webhookBody(t, "txn-5", "lead_new_start_"+userID.String(), "approved")
	if _, err := svc.Accept(context.Background(), testToken, body); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	_, err := svc.Replay(context.Background(), "txn-5")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestReplayFailedEventReprocesses(t *testing.T) {
	repo := newFakeWebhookRepo()
	ldg := &fakeLedger{applyErr: pkgerrors.New(pkgerrors.CodeStateConflict, "no active subscription for user")}
	svc := newTestWebhookService(t, repo, ldg)
	userID := uuid.New()

	body := webhookBody(t, "txn-6", "lead_renewal_start_"+userID.String(), "approved")
	first, err := svc.Accept(context.Background(), testToken, body)
	if err != nil {
		t.Fatalf("first Accept: %v", err)
	}
	if first.Processed {
		t.Fatal("expected first pass left unprocessed")
	}
	if event := repo.events["txn-6"]; event == nil || event.Status != enums.WebhookEventStatusFailed {
		t.Fatal("expected event marked failed before replay")
	}

	ldg.applyErr = nil
	result, err := svc.Replay(context.Background(), "txn-6")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if result.Operation != enums.OperationTypeRenewal {
		t.Fatalf("expected renewal replayed, got %s", result.Operation)
	}
	if !result.Processed {
		t.Fatal("expected replay reported processed")
	}
	event := repo.events["txn-6"]
	if event == nil || event.Status != enums.WebhookEventStatusProcessed {
		t.Fatal("expected event processed after replay")
	}
	if len(ldg.inputs) != 2 {
		t.Fatalf("expected two apply attempts, got %d", len(ldg.inputs))
	}
}
