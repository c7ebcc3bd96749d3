package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// Server represents the API server.
type Server struct {
	router *chi.Mux
	addr   string
	server *http.Server
}

// NewServer creates a new API server over the given handlers.
func NewServer(handlers *Handlers, addr string) *Server {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// CORS for the read endpoints; mutating endpoints additionally enforce
	// a same-origin check.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		r.With(requireSameOrigin).Post("/import/whatsapp", handlers.ImportWhatsApp)
		r.With(requireSameOrigin).Post("/llm/generate-markets", handlers.GenerateMarkets)

		r.Route("/imports", func(r chi.Router) {
			r.Get("/latest", handlers.GetLatestImport)
			r.Get("/{importId}", handlers.GetImportByID)
		})

		r.Route("/markets", func(r chi.Router) {
			r.Get("/", handlers.GetMarkets)
			r.Get("/{slug}", handlers.GetMarketBySlug)
		})

		r.Route("/bets", func(r chi.Router) {
			r.With(requireSameOrigin).Post("/", handlers.PlaceBet)
			r.Get("/{username}", handlers.GetUserBets)
		})
	})

	return &Server{
		router: r,
		addr:   addr,
	}
}

// Start starts the API server. Generation requests can hold a connection
// for two LLM round-trips per candidate model, hence the long write
// timeout.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Router exposes the underlying handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
