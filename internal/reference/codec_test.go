package reference

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/leadledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
)

type fakeLegacyRecorder struct {
	count int
}

func (f *fakeLegacyRecorder) IncLegacyReference() {
	f.count++
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	userID := uuid.New()
	issued := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	codec := NewCodec(CodecParams{Now: func() time.Time { return issued }})

	ops := []enums.OperationType{
		enums.OperationTypeNew,
		enums.OperationTypeRenewal,
		enums.OperationTypeUpgrade,
		enums.OperationTypeDowngrade,
		enums.OperationTypePackagePurchase,
		enums.OperationTypeCancellation,
	}
	for _, op := range ops {
		token, err := codec.Encode(op, "pro", userID)
		if err != nil {
			t.Fatalf("Encode(%s): %v", op, err)
		}
		if !strings.HasPrefix(token, PrefixToken+"_") {
			t.Fatalf("expected prefixed token, got %q", token)
		}

		ref, err := codec.Decode(context.Background(), token)
		if err != nil {
			t.Fatalf("Decode(%s): %v", token, err)
		}
		if ref.OperationType != op {
			t.Fatalf("expected operation %s, got %s", op, ref.OperationType)
		}
		if ref.SubjectID != "pro" {
			t.Fatalf("expected subject pro, got %q", ref.SubjectID)
		}
		if ref.UserID != userID {
			t.Fatalf("expected user %s, got %s", userID, ref.UserID)
		}
		if !ref.IssuedAt.Equal(issued) {
			t.Fatalf("expected issued at %s, got %s", issued, ref.IssuedAt)
		}
	}
}

func TestDecodePackagePurchaseContainsDelimiter(t *testing.T) {
	userID := uuid.New()
	codec := NewCodec(CodecParams{})

	token := "lead_package_purchase_pack-500_" + userID.String() + "_1767139200000"
	ref, err := codec.Decode(context.Background(), token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ref.OperationType != enums.OperationTypePackagePurchase {
		t.Fatalf("expected package_purchase, got %s", ref.OperationType)
	}
	if ref.SubjectID != "pack-500" {
		t.Fatalf("expected pack-500, got %q", ref.SubjectID)
	}
}

func TestDecodeLegacyUnprefixedForm(t *testing.T) {
	userID := uuid.New()
	recorder := &fakeLegacyRecorder{}
	codec := NewCodec(CodecParams{Metrics: recorder})

	ref, err := codec.Decode(context.Background(), "renewal_start_"+userID.String())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ref.OperationType != enums.OperationTypeRenewal {
		t.Fatalf("expected renewal, got %s", ref.OperationType)
	}
	if !ref.IssuedAt.IsZero() {
		t.Fatalf("expected zero issued at for timestamp-less token, got %s", ref.IssuedAt)
	}
	if recorder.count != 1 {
		t.Fatalf("expected 1 legacy decode recorded, got %d", recorder.count)
	}
}

func TestDecodePrefixedFormNotCountedAsLegacy(t *testing.T) {
	userID := uuid.New()
	recorder := &fakeLegacyRecorder{}
	codec := NewCodec(CodecParams{Metrics: recorder})

	if _, err := codec.Decode(context.Background(), "lead_new_start_"+userID.String()); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if recorder.count != 0 {
		t.Fatalf("expected no legacy decodes, got %d", recorder.count)
	}
}

func TestDecodeMalformedTokens(t *testing.T) {
	userID := uuid.New()
	codec := NewCodec(CodecParams{})

	cases := map[string]string{
		"empty":          "",
		"whitespace":     "   ",
		"empty segment":  "lead__start_" + userID.String(),
		"too few":        "lead_new_" + userID.String(),
		"unknown op":     "lead_refund_start_" + userID.String(),
		"bad uuid":       "lead_new_start_not-a-uuid",
		"bad subject":    "lead_new_START_" + userID.String(),
		"only timestamp": "1767139200000",
		"trailing under": "lead_new_start_" + userID.String() + "_",
	}
	for name, token := range cases {
		if _, err := codec.Decode(context.Background(), token); err == nil {
			t.Fatalf("%s: expected error for %q", name, token)
		} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeMalformedReference {
			t.Fatalf("%s: expected malformed reference code, got %v", name, err)
		}
	}
}

func TestEncodeRejectsInvalidInput(t *testing.T) {
	codec := NewCodec(CodecParams{})

	if _, err := codec.Encode("refund", "pro", uuid.New()); err == nil {
		t.Fatal("expected error for invalid operation")
	}
	if _, err := codec.Encode(enums.OperationTypeNew, "Has_Underscore", uuid.New()); err == nil {
		t.Fatal("expected error for invalid subject id")
	}
	if _, err := codec.Encode(enums.OperationTypeNew, "pro", uuid.Nil); err == nil {
		t.Fatal("expected error for nil user id")
	}
}
