// Package api implements the local HTTP control API of the reporter.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/core/auth"
	"github.com/solatis/aem/internal/reporter"
)

// Reporter is the part of *reporter.Reporter the API drives.
type Reporter interface {
	HandleDeepLink(rawURL string) (reporter.DeepLinkResult, error)
	RecordEvent(ev aem.Event) <-chan reporter.RecordResult
	RefreshConfigurations(force bool) <-chan error
	TriggerAggregation()
	ClearCache(ctx context.Context) error
	Invocations(ctx context.Context) ([]*aem.Invocation, error)
	Configurations(ctx context.Context) ([]*aem.Configuration, error)
}

// API holds the router and its dependencies.
type API struct {
	// Router is the chi multiplexer serving every endpoint.
	Router *chi.Mux

	log      *slog.Logger
	reporter Reporter
	auth     *auth.Authenticator
}

// NewAPI creates the API. A nil authenticator disables authentication.
func NewAPI(log *slog.Logger, rep Reporter, authn *auth.Authenticator) *API {
	if rep == nil {
		panic("api: reporter cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if authn == nil {
		authn = auth.NewAuthenticator("")
	}

	a := &API{
		Router:   chi.NewRouter(),
		log:      log.With(slog.String("component", "api")),
		reporter: rep,
		auth:     authn,
	}
	a.configureRoutes()
	return a
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger(a.log))
	a.Router.Use(middleware.Recoverer)

	a.Router.Get("/healthz", a.handleHealth)
	a.Router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	a.Router.Route("/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(a.auth.Middleware)

		r.Post("/deeplinks", a.handleDeepLink)
		r.Post("/events", a.handleRecordEvent)
		r.Get("/invocations", a.handleListInvocations)
		r.Get("/configurations", a.handleListConfigurations)
		r.Post("/configurations/refresh", a.handleRefresh)
		r.Post("/aggregations", a.handleAggregate)
		r.Post("/cache/clear", a.handleClearCache)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
