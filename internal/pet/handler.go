package pet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"pawtag/internal/errx"
	"pawtag/internal/httpx"
)

// HTTPCreatePetRequest represents the JSON request body for registering a pet.
type HTTPCreatePetRequest struct {
	Name     string `json:"name"`
	Species  string `json:"species"`
	Breed    string `json:"breed,omitempty"`
	Bio      string `json:"bio,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
	Lost     bool   `json:"lost,omitempty"`
}

// CreatePetResponse represents the JSON response for a registered pet. The
// share URL is the path the QR tag encodes.
type CreatePetResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Species   string `json:"species"`
	ShareURL  string `json:"share_url"`
	CreatedAt string `json:"created_at"`
}

// Handler provides HTTP handlers for pet registration.
type Handler struct {
	repo       Repository
	logger     *slog.Logger
	baseURL    string
	pathPrefix string
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Repo       Repository
	Logger     *slog.Logger
	BaseURL    string // Base URL for constructing share URLs (e.g., "https://pawtag.example")
	PathPrefix string // Deployment path prefix, "" at the root
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		repo:       cfg.Repo,
		logger:     logger,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		pathPrefix: cfg.PathPrefix,
	}
}

// CreatePet handles POST requests registering a new pet profile.
func (h *Handler) CreatePet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logger := h.logger.With(
		"request_id", httpx.GetRequestID(ctx),
		"method", r.Method,
		"path", r.URL.Path,
	)

	req, err := httpx.DecodeJSON[HTTPCreatePetRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request",
			"error", err.Error(),
		)
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	if err := validateCreateRequest(req); err != nil {
		logger.WarnContext(ctx, "request validation failed",
			"error", err.Error(),
			"name", req.Name,
		)
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}

	p, err := h.repo.Create(ctx, Pet{
		Name:     req.Name,
		Species:  req.Species,
		Breed:    req.Breed,
		Bio:      req.Bio,
		PhotoURL: req.PhotoURL,
		Lost:     req.Lost,
	})
	if err != nil {
		h.handleCreateError(ctx, w, err)
		return
	}

	resp := CreatePetResponse{
		ID:        p.ID.String(),
		Name:      p.Name,
		Species:   p.Species,
		ShareURL:  fmt.Sprintf("%s%s/pet/%s", h.baseURL, h.pathPrefix, p.ID),
		CreatedAt: p.CreatedAt.Format(http.TimeFormat),
	}

	logger.InfoContext(ctx, "pet registered",
		"pet_id", p.ID.String(),
		"lost", p.Lost,
	)

	httpx.WriteJSON(w, http.StatusCreated, resp)
}

// handleCreateError handles errors from the repository Create method.
func (h *Handler) handleCreateError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
	}

	switch kind {
	case errx.Invalid:
		h.logger.WarnContext(ctx, "invalid pet request", logAttrs...)
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)

	case errx.Unavailable:
		h.logger.ErrorContext(ctx, "service unavailable", logAttrs...)
		httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable",
			"Unable to register pet at this time. Please try again.", nil)

	default:
		h.logger.ErrorContext(ctx, "unexpected error registering pet", logAttrs...)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error",
			"Unable to register pet at this time. Please try again.", nil)
	}
}

// validateCreateRequest validates the HTTPCreatePetRequest.
func validateCreateRequest(req HTTPCreatePetRequest) error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	if req.Species == "" {
		return errors.New("species is required")
	}
	return nil
}
