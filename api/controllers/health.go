package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/angelmondragon/petstore-backend/api/responses"
	"github.com/angelmondragon/petstore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/petstore-backend/pkg/errors"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

const (
	envHeader          = "X-Petstore-Env"
	readinessTimeout   = 2 * time.Second
	statusLive         = "live"
	statusReady        = "ready"
	dependencyStatusOK = "ok"
)

// Pinger is satisfied by the db, redis, kafka and pubsub clients.
type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": statusLive})
	}
}

// HealthReady pings every named dependency and answers 503 on the first failure.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name, check := range checks {
		if check != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		deps := make(map[string]string, len(names))
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			err := checks[name].Ping(ctx)
			cancel()
			if err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" not ready").
						WithDetails(map[string]any{"dependency": name}))
				return
			}
			deps[name] = dependencyStatusOK
		}

		responses.WriteSuccess(w, map[string]any{"status": statusReady, "dependencies": deps})
	}
}
