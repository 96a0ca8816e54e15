package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nhblend/services/lendingd/middleware"
)

// Token scopes gating the operator endpoints. Market administration is
// authorized by the pool's own roles instead.
const (
	ScopeOracle   = "lending:oracle"
	ScopeFaucet   = "lending:faucet"
	ScopeOperator = "lending:operator"
	ScopeAudit    = "lending:audit"
)

// Config wires the HTTP server.
type Config struct {
	Market      *Market
	Auth        middleware.AuthConfig
	RateLimit   middleware.RateLimit
	Logger      *slog.Logger
	ServiceName string
}

// Server exposes the market over HTTP/JSON.
type Server struct {
	market  *Market
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	logger  *slog.Logger
	service string
	router  http.Handler
}

func New(cfg Config) (*Server, error) {
	if cfg.Market == nil {
		return nil, fmt.Errorf("lendingd: market not configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lendingd"
	}
	srv := &Server{
		market:  cfg.Market,
		auth:    middleware.NewAuthenticator(cfg.Auth, cfg.Logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimit, cfg.Logger),
		logger:  cfg.Logger,
		service: cfg.ServiceName,
	}
	srv.router = otelhttp.NewHandler(srv.buildRouter(), cfg.ServiceName)
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Observability(s.service, s.logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware())
		api.Use(s.limiter.Middleware)

		api.Get("/reserves", s.ListReserves)
		api.Get("/reserves/{asset}", s.GetReserve)
		api.Get("/emode/{id}", s.GetEModeCategory)
		api.Get("/accounts/{user}", s.GetAccount)
		api.Get("/fees/{domain}", s.GetFeeTotals)

		api.Route("/actions", func(act chi.Router) {
			act.Post("/supply", s.Supply)
			act.Post("/withdraw", s.Withdraw)
			act.Post("/borrow", s.Borrow)
			act.Post("/repay", s.Repay)
			act.Post("/collateral", s.SetCollateral)
			act.Post("/emode", s.SetUserEMode)
			act.Post("/liquidate", s.Liquidate)
			act.Post("/mint-to-treasury", s.MintToTreasury)
		})

		api.Route("/admin", func(adm chi.Router) {
			adm.Post("/reserves", s.InitReserve)
			adm.Post("/reserves/{asset}/{setting}", s.ConfigureReserve)
			adm.Post("/emode", s.SetEModeCategory)
			adm.Post("/pause", s.SetPoolPause)
			adm.Post("/premiums", s.UpdateFlashloanPremiums)
		})

		api.With(middleware.RequireScopes(ScopeOracle)).Post("/oracle/prices", s.SetPrice)
		api.With(middleware.RequireScopes(ScopeFaucet)).Post("/faucet", s.Faucet)
		api.With(middleware.RequireScopes(ScopeOperator)).Post("/snapshots", s.TakeSnapshot)
		api.With(middleware.RequireScopes(ScopeAudit)).Get("/journal", s.ListJournal)
	})

	return r
}

// Healthz reports liveness.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
