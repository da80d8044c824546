package admin

import (
	"log"

	"github.com/go-chi/chi/v5"

	"github.com/komorebi-works/intake-services/api/internal/intake/application"
)

// Handler wires admin HTTP endpoints to application services.
type Handler struct {
	logger    *log.Logger
	mutations application.MutationService
	queries   application.QueryService
}

// Config provides dependencies for Handler.
type Config struct {
	Logger    *log.Logger
	Mutations application.MutationService
	Queries   application.QueryService
}

// NewHandler constructs an admin HTTP handler set.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		logger:    cfg.Logger,
		mutations: cfg.Mutations,
		queries:   cfg.Queries,
	}
}

// Register mounts admin routes onto router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/submissions", h.submissionListHandler())
	r.Get("/submissions/{id}", h.submissionDetailHandler())
	r.Patch("/submissions/{id}", h.submissionOverrideHandler())
}
