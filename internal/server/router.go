package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/diffpilot/diffpilot/internal/review"
	"github.com/diffpilot/diffpilot/internal/server/handler"
)

// NewRouter creates and configures a new HTTP router with middleware and API
// routes.
func NewRouter(svc *review.Service, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	h := handler.NewReviewHandler(svc, logger)
	r.Route("/api", func(r chi.Router) {
		r.Post("/github/load_pr", h.LoadPR)
		r.Get("/github/file", h.GetFile)
		r.Post("/diff/review", h.Review)
		r.Post("/diff/ask/stream", h.AskStream)
		r.Post("/suggestions", h.Suggestions)
	})

	return r
}
