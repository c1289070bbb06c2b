package webhooks

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/leadledger-backend/api/responses"
	gatewaywebhook "github.com/angelmondragon/leadledger-backend/internal/webhooks/gateway"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
)

const (
	tokenHeader  = "X-Webhook-Token"
	maxBodyBytes = 1 << 20
)

type webhookResponse struct {
	EventID   string `json:"eventId,omitempty"`
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate"`
	Operation string `json:"operation,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

func toWebhookResponse(result *gatewaywebhook.Result) webhookResponse {
	out := webhookResponse{
		Processed: result.Processed,
		Duplicate: result.Duplicate,
	}
	if result.EventID != uuid.Nil {
		out.EventID = result.EventID.String()
	}
	out.Operation = string(result.Operation)
	out.Outcome = string(result.Outcome)
	return out
}

// GatewayWebhook receives payment gateway notifications.
func GatewayWebhook(svc gatewaywebhook.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		token := r.Header.Get(tokenHeader)
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := svc.Accept(ctx, token, body)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, toWebhookResponse(result))
	}
}

// GatewayWebhookReplay re-processes a stored event from its raw payload.
func GatewayWebhookReplay(svc gatewaywebhook.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		transactionID := chi.URLParam(r, "transactionID")
		result, err := svc.Replay(ctx, transactionID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, toWebhookResponse(result))
	}
}
