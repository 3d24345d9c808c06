package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gabrielee5/grafo-sub000/internal/http/handlers"
	"github.com/gabrielee5/grafo-sub000/internal/i18n"
	"github.com/gabrielee5/grafo-sub000/internal/infra"
	"github.com/gabrielee5/grafo-sub000/internal/middleware"
)

// Options carries the edge concerns wrapped around the handlers.
type Options struct {
	Logger         infra.Logger
	CORSOrigins    []string
	DefaultLocale  string
	CountryLookup  middleware.CountryLookup
	Authenticator  middleware.Authenticator
	GeneralLimiter middleware.Limiter
	ProcessLimiter middleware.Limiter
	// StaticDir is served under /static when blobs live on the local disk.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	logger := opts.Logger
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(opts.CORSOrigins))
	r.Use(middleware.I18N(opts.DefaultLocale, opts.CountryLookup))

	r.Get("/healthz", app.Health)

	if opts.StaticDir != "" {
		fs := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(opts.StaticDir)))
		r.Handle("/static/*", fs)
	}

	requireAuth := middleware.RequireAuth(opts.Authenticator, &logger)
	general := passthrough
	if opts.GeneralLimiter != nil {
		general = middleware.RateLimit(opts.GeneralLimiter, middleware.ByClientIP, i18n.MsgRateLimited, &logger)
	}
	process := passthrough
	if opts.ProcessLimiter != nil {
		process = middleware.RateLimit(opts.ProcessLimiter, middleware.ByUser, i18n.MsgProcessRateLimited, &logger)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(general)
		r.Post("/register", app.Register)
		r.Post("/login", app.Login)
		r.Post("/firebase", app.FirebaseLogin)
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/verify", app.Verify)
			r.Get("/profile", app.Profile)
			r.Put("/profile", app.UpdateProfile)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(general, requireAuth)
		r.With(process).Post("/process-image", app.ProcessImage)
		r.Get("/history", app.ListHistory)
		r.Get("/history/export", app.ExportHistory)
		r.Get("/history/{id}", app.GetHistory)
		r.Delete("/history/{id}", app.DeleteHistory)
	})

	return r
}

func passthrough(next stdhttp.Handler) stdhttp.Handler { return next }
