// Package api exposes the engine's output surface to the rendering layer:
// REST endpoints for the current snapshot and trail map, plus a websocket
// that pushes a frame after every completed poll cycle. Everything served
// here is a copy as of the most recently completed cycle; no handler can
// mutate engine state.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rkpu-viewer/livetrack/internal/auth"
	"github.com/rkpu-viewer/livetrack/pkg/feed"
	"github.com/rkpu-viewer/livetrack/pkg/track"
)

// Engine is the read-only view the server needs. *track.Engine satisfies it.
type Engine interface {
	Snapshot() []feed.Aircraft
	Trails() map[string][]track.Point
	Trail(id string) []track.Point
	Status() track.Status
}

// Server serves the REST API and the websocket feed.
type Server struct {
	router  *chi.Mux
	engine  Engine
	hub     *Hub
	authSvc *auth.Service
	logger  *log.Logger
}

// Options configures the server.
type Options struct {
	// AllowedOrigins for CORS (default "*")
	AllowedOrigins []string

	// AuthService, when non-nil, gates /api/v1 behind bearer tokens.
	// /healthz stays open either way.
	AuthService *auth.Service

	Logger *log.Logger
}

// NewServer creates the API server. The updates channel feeds the websocket
// hub one token per completed poll cycle.
func NewServer(engine Engine, updates <-chan struct{}, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		router:  chi.NewRouter(),
		engine:  engine,
		hub:     NewHub(engine, updates, opts.Logger),
		authSvc: opts.AuthService,
		logger:  opts.Logger,
	}
	s.setupRoutes(opts.AllowedOrigins)
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

// Hub returns the websocket hub; the caller owns its Run lifecycle.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes(allowedOrigins []string) {
	r := s.router

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		if s.authSvc != nil {
			r.Use(s.authMiddleware)
		}

		r.Get("/aircraft", s.handleAircraft)
		r.Get("/aircraft/{id}/trail", s.handleAircraftTrail)
		r.Get("/trails", s.handleTrails)
		r.Get("/status", s.handleStatus)
		r.Get("/ws", s.hub.HandleWS)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleAircraft(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Snapshot())
}

func (s *Server) handleAircraftTrail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trail := s.engine.Trail(id)
	if trail == nil {
		http.Error(w, "aircraft not tracked", http.StatusNotFound)
		return
	}
	writeJSON(w, trail)
}

func (s *Server) handleTrails(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Trails())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Status())
}

// authMiddleware validates the Authorization bearer token.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			http.Error(w, "malformed authorization header", http.StatusUnauthorized)
			return
		}
		if _, err := s.authSvc.ValidateToken(token); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}
