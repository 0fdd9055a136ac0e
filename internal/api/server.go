package api

/*
Файл server.go публичный HTTP API walletd.

Маршруты поверх engine.Core. Identity вызывающего берется только из
проверенного RS256 токена (Subject), тело запроса ее не несет.
*/

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/engine"
	"github.com/xela07ax/agentwallet/internal/infra/auth"
)

type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

type Server struct {
	router    *chi.Mux
	core      *engine.Core
	validator auth.TokenValidator
	limiter   *CallerLimiter
	logger    *zap.Logger
}

func NewServer(core *engine.Core, validator auth.TokenValidator, logger *zap.Logger, opts Options) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		core:      core,
		validator: validator,
		limiter:   NewCallerLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		logger:    logger.Named("http-api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)
	r.Use(AccessLog(s.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator, s.logger))
		r.Use(s.limiter.Middleware)

		r.Route("/v1/wallets", func(r chi.Router) {
			r.Post("/", s.createWallet)
			r.Route("/{org}/{agentID}", func(r chi.Router) {
				r.Get("/", s.getWallet)
				r.Post("/transfers", s.transfer)
				r.Get("/transfers", s.listTransfers)
				r.Get("/transfers/{transferID}", s.getTransfer)
				r.Put("/limits", s.updateLimits)
			})
		})

		r.Route("/v1/escrows", func(r chi.Router) {
			r.Post("/", s.createEscrow)
			r.Get("/", s.listEscrows)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getEscrow)
				r.Post("/release", s.releaseEscrow)
				r.Post("/refund", s.refundEscrow)
			})
		})

		r.Get("/v1/balances/{identity}", s.balance)
		r.Get("/v1/balances/{identity}/entries", s.ledgerEntries)
		r.Get("/v1/platform-config", s.platformConfig)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AccessLog строка лога на запрос (zap вместо middleware.Logger)
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("trace_id", engine.TraceIDFromContext(r.Context())),
			)
		})
	}
}
