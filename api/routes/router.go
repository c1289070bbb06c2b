package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/leadledger-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/leadledger-backend/api/controllers/webhooks"
	"github.com/angelmondragon/leadledger-backend/api/middleware"
	"github.com/angelmondragon/leadledger-backend/internal/catalog"
	checkoutsvc "github.com/angelmondragon/leadledger-backend/internal/checkout"
	"github.com/angelmondragon/leadledger-backend/internal/ledger"
	gatewaywebhook "github.com/angelmondragon/leadledger-backend/internal/webhooks/gateway"
	"github.com/angelmondragon/leadledger-backend/pkg/config"
	"github.com/angelmondragon/leadledger-backend/pkg/db"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
	"github.com/angelmondragon/leadledger-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	catalogService catalog.Service,
	checkoutService checkoutsvc.Service,
	ledgerService ledger.Service,
	webhookService gatewaywebhook.Service,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/gateway", webhookcontrollers.GatewayWebhook(webhookService, logg))
		r.Post("/gateway/replay/{transactionID}", webhookcontrollers.GatewayWebhookReplay(webhookService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/plans", controllers.ListPlans(catalogService, logg))
		r.Post("/checkout", controllers.Checkout(checkoutService, logg))
		r.Post("/leads/consume", controllers.ConsumeLeads(ledgerService, logg))
	})

	return r
}
