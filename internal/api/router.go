package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/sirupsen/logrus"

	"github.com/soaringjerry/candor/internal/metrics"
	"github.com/soaringjerry/candor/internal/middleware"
	"github.com/soaringjerry/candor/internal/models"
	"github.com/soaringjerry/candor/internal/services"
)

type Deps struct {
	Pools       *services.PoolService
	Submissions *services.SubmissionService
	Analytics   *services.AnalyticsService
	Surveys     *services.SurveyService
	AdminAuth   *jwtauth.JWTAuth
	Metrics     *metrics.Metrics
	Logger      logrus.FieldLogger
	CORSOrigins []string
	// Frontend, when set, serves every path the API does not claim.
	Frontend    http.Handler
	Commit      string
	BuildTime   string
}

type API struct {
	pools       *services.PoolService
	submissions *services.SubmissionService
	analytics   *services.AnalyticsService
	surveys     *services.SurveyService
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	health      models.HealthResponse
}

// NewRouter wires the admin, public and operational routes.
func NewRouter(d Deps) http.Handler {
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	a := &API{
		pools:       d.Pools,
		submissions: d.Submissions,
		analytics:   d.Analytics,
		surveys:     d.Surveys,
		metrics:     d.Metrics,
		log:         d.Logger,
		health:      models.HealthResponse{OK: true, Name: "candor", Commit: d.Commit, BuildTime: d.BuildTime},
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Logger, d.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(d.CORSOrigins), middleware.SecureHeaders)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin(d.AdminAuth))

		r.Route("/pools", func(r chi.Router) {
			r.Post("/", a.handleCreatePool)
			r.Get("/", a.handleListPools)
			r.Route("/{poolID}", func(r chi.Router) {
				r.Get("/", a.handleGetPool)
				r.Delete("/", a.handleDeletePool)
				r.Post("/expire", a.handleExpirePool)
				r.Get("/responses", a.handlePoolResponses)
				r.Post("/members/{memberID}/rotate", a.handleRotateCredential)
				r.Get("/members/{memberID}/analytics", a.handleMemberAnalytics)
			})
		})

		r.Route("/surveys", func(r chi.Router) {
			r.Post("/", a.handleCreateSurvey)
			r.Get("/", a.handleListSurveys)
			r.Get("/{surveyID}", a.handleGetSurvey)
			r.Patch("/{surveyID}", a.handleUpdateSurvey)
			r.Post("/{surveyID}/archive", a.handleArchiveSurvey)
		})
	})

	r.Route("/public", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Post("/validate", a.handleValidate)
		r.Post("/members", a.handleMembers)
		r.Post("/submit", a.handleSubmit)
		r.Post("/progress", a.handleProgress)
	})

	if d.Frontend != nil {
		r.Handle("/*", d.Frontend)
	}
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, a.health)
}
