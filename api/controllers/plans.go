package controllers

import (
	"net/http"

	"github.com/angelmondragon/leadledger-backend/api/responses"
	"github.com/angelmondragon/leadledger-backend/internal/catalog"
	"github.com/angelmondragon/leadledger-backend/pkg/db/models"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
)

type planResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	DisplayName   string   `json:"displayName"`
	Price         string   `json:"price"`
	CurrencyCode  string   `json:"currencyCode"`
	LeadsIncluded int      `json:"leadsIncluded"`
	Features      []string `json:"features"`
}

func toPlanResponse(plan models.Plan) planResponse {
	return planResponse{
		ID:            plan.ID,
		Name:          plan.Name,
		DisplayName:   plan.DisplayName,
		Price:         plan.Price().StringFixed(2),
		CurrencyCode:  plan.CurrencyCode,
		LeadsIncluded: plan.LeadsIncluded,
		Features:      plan.Features,
	}
}

// ListPlans returns the purchasable plan catalog.
func ListPlans(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		plans, err := svc.ListActivePlans(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]planResponse, 0, len(plans))
		for _, plan := range plans {
			out = append(out, toPlanResponse(plan))
		}
		responses.WriteSuccess(w, out)
	}
}
