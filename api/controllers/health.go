package controllers

import (
	"context"
	"net/http"

	"github.com/vendalivre/vendalivre-backend/api/responses"
	"github.com/vendalivre/vendalivre-backend/pkg/config"
	pkgerrors "github.com/vendalivre/vendalivre-backend/pkg/errors"
	"github.com/vendalivre/vendalivre-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-VendaLivre-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every hard dependency so load balancers stop routing to a
// pod that lost its database or redis.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-VendaLivre-Env", cfg.App.Env)

		checks := map[string]pinger{
			"database": dbP,
			"redis":    redisP,
		}
		statuses := map[string]string{}
		healthy := true
		for name, p := range checks {
			if p == nil {
				statuses[name] = "skipped"
				continue
			}
			if err := p.Ping(r.Context()); err != nil {
				statuses[name] = "down"
				healthy = false
				if logg != nil {
					ctx := logg.WithField(r.Context(), "dependency", name)
					logg.Error(ctx, "readiness check failed", err)
				}
				continue
			}
			statuses[name] = "up"
		}

		if !healthy {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(statuses))
			return
		}
		responses.WriteSuccess(w, statuses)
	}
}
