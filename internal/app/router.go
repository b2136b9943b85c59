package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/openstipend/openstipend/internal/auth"
	"github.com/openstipend/openstipend/internal/payroll"
	"github.com/openstipend/openstipend/internal/tasks"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	AuthHandler    *auth.Handler
	AuthMiddleware *auth.Middleware
	PayrollHandler *payroll.Handler
	TaskHandler    *tasks.Handler
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)
	r.Use(params.AuthMiddleware.Populate)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	params.AuthHandler.Register(r)

	// The gateway callback authenticates out of band and gets a tighter rate
	// limit than the operator surface.
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		params.PayrollHandler.RegisterCallback(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(params.AuthMiddleware.Require)
		params.PayrollHandler.Register(r)
		params.TaskHandler.Register(r)
	})

	return r
}
