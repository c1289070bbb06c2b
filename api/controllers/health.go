package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/leadledger-backend/api/responses"
	"github.com/angelmondragon/leadledger-backend/pkg/config"
	"github.com/angelmondragon/leadledger-backend/pkg/db"
	"github.com/angelmondragon/leadledger-backend/pkg/logger"
	"github.com/angelmondragon/leadledger-backend/pkg/redis"
)

const healthCheckTimeout = 2 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-LeadLedger-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-LeadLedger-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		checks["database"] = pingStatus(ctx, logg, "database", dbP.Ping, &healthy)
		if redisP != nil {
			checks["redis"] = pingStatus(ctx, logg, "redis", redisP.Ping, &healthy)
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		responses.WriteSuccessStatus(w, status, map[string]any{
			"status": readiness(healthy),
			"checks": checks,
		})
	}
}

func pingStatus(ctx context.Context, logg *logger.Logger, name string, ping func(context.Context) error, healthy *bool) string {
	if err := ping(ctx); err != nil {
		*healthy = false
		if logg != nil {
			logg.Error(logg.WithField(ctx, "check", name), "readiness check failed", err)
		}
		return "error"
	}
	return "ok"
}

func readiness(healthy bool) string {
	if healthy {
		return "ready"
	}
	return "degraded"
}
