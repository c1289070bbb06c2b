package retrywriter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"

	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffStep = 500 * time.Millisecond
)

// Policy bounds the retry behavior for a writer. Tests inject zero-backoff
// variants; production wiring takes the values from config.
type Policy struct {
	MaxAttempts int
	BackoffStep time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BackoffStep < 0 {
		p.BackoffStep = defaultBackoffStep
	}
	return p
}

// Mutation is one logical persistence write. Implementations must be safe to
// re-issue: keyed upserts or unique-constraint inserts, never blind appends.
type Mutation func(ctx context.Context) error

// Writer re-issues a mutation on transient backend failures with linearly
// increasing backoff. Validation and conflict errors fail immediately.
type Writer struct {
	policy Policy
	logg   *logger.Logger
}

// New builds a Writer with the given policy.
func New(policy Policy, logg *logger.Logger) *Writer {
	return &Writer{policy: policy.withDefaults(), logg: logg}
}

// Write executes the mutation under the retry policy. After the budget is
// exhausted the caller receives a dependency error wrapping the last attempt.
func (w *Writer) Write(ctx context.Context, name string, mutation Mutation) error {
	if mutation == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "mutation required")
	}

	attempt := 0
	err := retry.Do(ctx, w.backoff(), func(ctx context.Context) error {
		attempt++
		err := mutation(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if w.logg != nil && attempt < w.policy.MaxAttempts {
			fields := map[string]any{"mutation": name, "attempt": attempt}
			w.logg.Warn(w.logg.WithFields(ctx, fields), "transient write failure, retrying")
		}
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err,
			fmt.Sprintf("%s: retries exhausted after %d attempts", name, attempt))
	}
	return err
}

func (w *Writer) backoff() retry.Backoff {
	step := w.policy.BackoffStep
	attempt := 0
	var linear retry.BackoffFunc = func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * step, false
	}
	return retry.WithMaxRetries(uint64(w.policy.MaxAttempts-1), linear)
}

// Postgres classes considered transient: connection exceptions (08xxx),
// serialization failures (40001), and undefined table/column raised while
// schema changes are still propagating (42P01/42703).
func isTransientPGCode(code string) bool {
	if strings.HasPrefix(code, "08") {
		return true
	}
	switch code {
	case "40001", "40P01", "42P01", "42703", "57P03":
		return true
	}
	return false
}

// IsTransient reports whether the error is worth re-issuing the mutation for.
// Unique violations and validation errors are terminal; the outer dedup logic
// owns those.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var typed *pkgerrors.Error
	if errors.As(err, &typed) {
		return pkgerrors.MetadataFor(typed.Code()).Retryable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isTransientPGCode(pgErr.Code)
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "bad connection")
}
