package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/leadledger-backend/api/responses"
	"github.com/angelmondragon/leadledger-backend/api/validators"
	"github.com/angelmondragon/leadledger-backend/internal/ledger"
	pkgerrors "github.com/angelmondragon/leadledger-backend/pkg/errors"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
)

type consumeLeadsRequest struct {
	UserID   string `json:"userId" validate:"required,uuid"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

type consumeLeadsResponse struct {
	LeadsBalance int `json:"leadsBalance"`
	LeadsBonus   int `json:"leadsBonus"`
	LeadsTotal   int `json:"leadsTotal"`
}

// ConsumeLeads draws leads from the caller's active subscription.
func ConsumeLeads(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req consumeLeadsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		if logg != nil {
			ctx = logg.WithUserID(ctx, req.UserID)
		}
		sub, err := svc.Consume(ctx, userID, req.Quantity)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, consumeLeadsResponse{
			LeadsBalance: sub.LeadsBalance,
			LeadsBonus:   sub.LeadsBonus,
			LeadsTotal:   sub.LeadsTotal(),
		})
	}
}
