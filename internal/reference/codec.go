package reference

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/leadledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
)

const (
	delimiter = "_"

	// PrefixToken is the namespace segment the current producers emit.
	// Legacy producers omit it; Decode accepts both wire forms and counts
	// the legacy one.
	PrefixToken = "lead"
)

// subjectPattern constrains plan/package ids to delimiter-free slugs.
var subjectPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Reference is the decoded value of the opaque token round-tripped through
// the gateway.
type Reference struct {
	OperationType enums.OperationType
	SubjectID     string
	UserID        uuid.UUID
	IssuedAt      time.Time
}

type legacyFormRecorder interface {
	IncLegacyReference()
}

// Codec encodes and decodes gateway reference tokens.
type Codec struct {
	logg    *logger.Logger
	metrics legacyFormRecorder
	now     func() time.Time
}

// CodecParams configures a Codec. Metrics and Logger are optional.
type CodecParams struct {
	Logger  *logger.Logger
	Metrics legacyFormRecorder
	Now     func() time.Time
}

// NewCodec builds a reference codec.
func NewCodec(params CodecParams) *Codec {
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Codec{logg: params.Logger, metrics: params.Metrics, now: now}
}

// Encode produces the prefixed wire token. The trailing timestamp exists for
// uniqueness and debugging only; Decode treats it as opaque.
func (c *Codec) Encode(op enums.OperationType, subjectID string, userID uuid.UUID) (string, error) {
	if !op.IsValid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid operation type %q", op))
	}
	if !subjectPattern.MatchString(subjectID) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("subject id %q is not a valid identifier", subjectID))
	}
	if userID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	parts := []string{
		PrefixToken,
		string(op),
		subjectID,
		userID.String(),
		fmt.Sprintf("%d", c.now().UnixMilli()),
	}
	return strings.Join(parts, delimiter), nil
}

// Decode parses a wire token back into a Reference.
//
// The operation type may itself contain the delimiter (package_purchase), so
// parsing anchors from the end: optional numeric timestamp, then user id,
// then subject id; whatever remains is the operation type. An optional
// leading namespace token is stripped; its absence marks the legacy form.
func (c *Codec) Decode(ctx context.Context, token string) (Reference, error) {
	raw := strings.TrimSpace(token)
	if raw == "" {
		return Reference{}, malformed(token, "empty token")
	}

	segments := strings.Split(raw, delimiter)
	for _, segment := range segments {
		if segment == "" {
			return Reference{}, malformed(token, "empty segment")
		}
	}

	legacy := true
	if segments[0] == PrefixToken {
		segments = segments[1:]
		legacy = false
	}

	var issuedAt time.Time
	if len(segments) > 0 && isAllDigits(segments[len(segments)-1]) {
		millis, ok := parseMillis(segments[len(segments)-1])
		if !ok {
			return Reference{}, malformed(token, "invalid timestamp segment")
		}
		issuedAt = time.UnixMilli(millis).UTC()
		segments = segments[:len(segments)-1]
	}

	if len(segments) < 3 {
		return Reference{}, malformed(token, "too few segments")
	}

	userSegment := segments[len(segments)-1]
	subjectSegment := segments[len(segments)-2]
	opSegment := strings.Join(segments[:len(segments)-2], delimiter)

	op, err := enums.ParseOperationType(opSegment)
	if err != nil {
		return Reference{}, malformed(token, fmt.Sprintf("unknown operation type %q", opSegment))
	}
	if !subjectPattern.MatchString(subjectSegment) {
		return Reference{}, malformed(token, fmt.Sprintf("subject id %q is not a valid identifier", subjectSegment))
	}
	userID, err := uuid.Parse(userSegment)
	if err != nil {
		return Reference{}, malformed(token, fmt.Sprintf("user id %q is not a uuid", userSegment))
	}

	if legacy {
		if c.metrics != nil {
			c.metrics.IncLegacyReference()
		}
		if c.logg != nil {
			c.logg.Warn(c.logg.WithField(ctx, "reference", raw), "legacy unprefixed reference form decoded")
		}
	}

	return Reference{
		OperationType: op,
		SubjectID:     subjectSegment,
		UserID:        userID,
		IssuedAt:      issuedAt,
	}, nil
}

func malformed(token, reason string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeMalformedReference, "malformed reference").
		WithDetails(map[string]any{"reference": token, "reason": reason})
}

func isAllDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseMillis(value string) (int64, bool) {
	var millis int64
	if _, err := fmt.Sscanf(value, "%d", &millis); err != nil {
		return 0, false
	}
	return millis, millis >= 0
}
