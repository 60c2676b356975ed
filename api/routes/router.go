package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/petstore-backend/api/controllers"
	"github.com/angelmondragon/petstore-backend/api/middleware"
	"github.com/angelmondragon/petstore-backend/internal/pets"
	"github.com/angelmondragon/petstore-backend/pkg/config"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

// NewRouter serves the pet command API.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	checks map[string]controllers.Pinger,
	petCommands *pets.CommandService,
) http.Handler {
	r := newBaseRouter(cfg, logg, checks)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/pets", controllers.PetCreate(petCommands, logg))
	})

	return r
}

// NewOpsRouter serves health and prometheus metrics for the background workers.
func NewOpsRouter(
	cfg *config.Config,
	logg *logger.Logger,
	checks map[string]controllers.Pinger,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := newBaseRouter(cfg, logg, checks)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func newBaseRouter(cfg *config.Config, logg *logger.Logger, checks map[string]controllers.Pinger) chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, checks))
	})
	return r
}
