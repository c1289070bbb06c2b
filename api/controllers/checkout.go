package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/leadledger-backend/api/responses"
	"github.com/angelmondragon/leadledger-backend/api/validators"
	"github.com/angelmondragon/leadledger-backend/internal/checkout"
	"github.com/angelmondragon/leadledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
)

type checkoutRequest struct {
	UserID    string `json:"userId" validate:"required,uuid"`
	Operation string `json:"operation" validate:"required"`
	PlanID    string `json:"planId" validate:"required"`
}

type checkoutResponse struct {
	URL       string `json:"url"`
	Reference string `json:"reference"`
	PlanID    string `json:"planId"`
}

// Checkout mints a gateway checkout link for the requested purchase.
func Checkout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}
		operation, err := enums.ParseOperationType(req.Operation)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid operation"))
			return
		}

		link, err := svc.BuildLink(ctx, checkout.BuildInput{
			UserID:    userID,
			Operation: operation,
			PlanID:    req.PlanID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, checkoutResponse{
			URL:       link.URL,
			Reference: link.Reference,
			PlanID:    link.Plan.ID,
		})
	}
}
