package controllers

import (
	"net/http"

	"github.com/gastonanderson039-glitch/supermarketpro/api/responses"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/config"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/redis"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-App-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady verifies the critical downstream dependencies respond.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-App-Env", cfg.App.Env)

		if dbP != nil {
			if err := dbP.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable"))
				return
			}
		}
		if redisP != nil {
			if err := redisP.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unavailable"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
