package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"pawtag/internal/errx"
	"pawtag/internal/httpx"
	"pawtag/internal/idgen"
	"pawtag/internal/pet"
	"pawtag/internal/routeview"
)

// VisitorTokenHeader carries the visitor token for clients that manage
// their own identity (the CLI, mobile apps). Browsers use the cookie.
const VisitorTokenHeader = "X-Visitor-Token"

// PetResponse is the JSON shape of a pet on the public page.
type PetResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Species   string `json:"species"`
	Breed     string `json:"breed,omitempty"`
	Bio       string `json:"bio,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	Lost      bool   `json:"lost"`
	CreatedAt string `json:"created_at"`
}

// PublicPageResponse is the JSON response for any path hitting the view
// router: either a pet share page or the app shell fallback.
type PublicPageResponse struct {
	View  string       `json:"view"` // "pet" or "app_shell"
	Pet   *PetResponse `json:"pet,omitempty"`
	Likes *State       `json:"likes,omitempty"`
}

// Handler provides the HTTP surface for public pages and like tracking.
type Handler struct {
	store      Store
	pets       pet.Repository
	classifier *routeview.Classifier
	logger     *slog.Logger
	ids        idgen.Generator

	cookieName      string
	cookieMaxAge    time.Duration
	mutationTimeout time.Duration
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Store           Store
	Pets            pet.Repository
	Classifier      *routeview.Classifier
	Logger          *slog.Logger
	IDGenerator     idgen.Generator // mints visitor tokens for cookie-less browsers
	CookieName      string
	CookieMaxAge    time.Duration
	MutationTimeout time.Duration // bound on a single like/unlike store call
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ids := cfg.IDGenerator
	if ids == nil {
		ids = idgen.NewV7()
	}
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = "pawtag_visitor"
	}
	cookieMaxAge := cfg.CookieMaxAge
	if cookieMaxAge <= 0 {
		cookieMaxAge = 365 * 24 * time.Hour
	}
	mutationTimeout := cfg.MutationTimeout
	if mutationTimeout <= 0 {
		mutationTimeout = DefaultToggleTimeout
	}

	return &Handler{
		store:           cfg.Store,
		pets:            cfg.Pets,
		classifier:      cfg.Classifier,
		logger:          logger,
		ids:             ids,
		cookieName:      cookieName,
		cookieMaxAge:    cookieMaxAge,
		mutationTimeout: mutationTimeout,
	}
}

// PublicPage handles every path not claimed by the API: share paths
// render the pet page, everything else falls through to the app shell.
// A non-matching path is a normal outcome, never an error.
func (h *Handler) PublicPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(ctx, r)

	route := h.classifier.Classify(r.URL.Path)
	if !route.Matched {
		httpx.WriteJSON(w, http.StatusOK, PublicPageResponse{View: "app_shell"})
		return
	}

	entityID, err := uuid.Parse(route.EntityID)
	if err != nil {
		// The classifier only emits canonical UUID segments; treat a
		// parse failure like any other non-match.
		httpx.WriteJSON(w, http.StatusOK, PublicPageResponse{View: "app_shell"})
		return
	}

	p, err := h.pets.GetByID(ctx, entityID)
	if err != nil {
		h.handlePetError(ctx, w, err, route.EntityID)
		return
	}

	// Engagement is read with whatever identity the visitor already
	// carries; a fresh visitor reads unidentified and not-liked.
	token, _ := h.visitorToken(r)
	likes, err := h.store.FetchState(ctx, entityID, token)
	if err != nil {
		// Degraded view: the page still renders, with a zero count.
		logger.WarnContext(ctx, "engagement state unavailable, rendering degraded",
			"pet_id", route.EntityID,
			"error", err.Error(),
		)
		likes = State{}
	}

	logger.InfoContext(ctx, "public page served",
		"pet_id", route.EntityID,
		"lost", p.Lost,
	)

	httpx.WriteJSON(w, http.StatusOK, PublicPageResponse{
		View:  "pet",
		Pet:   toPetResponse(p),
		Likes: &likes,
	})
}

// GetLikes handles GET requests for the caller's engagement state.
func (h *Handler) GetLikes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(ctx, r)

	entityID, ok := h.pathEntityID(w, r)
	if !ok {
		return
	}

	token, _ := h.visitorToken(r)
	state, err := h.store.FetchState(ctx, entityID, token)
	if err != nil {
		logger.ErrorContext(ctx, "failed to fetch engagement state",
			"pet_id", entityID.String(),
			"error", err.Error(),
		)
		httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable",
			"Unable to load likes at this time", nil)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, state)
}

// Like handles PUT requests creating the caller's engagement record.
// A missing identity is minted and set as a cookie before the record is
// written, so the record never references an unpersisted token.
func (h *Handler) Like(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.mutationTimeout)
	defer cancel()
	logger := h.requestLogger(ctx, r)

	entityID, ok := h.pathEntityID(w, r)
	if !ok {
		return
	}

	token, _ := h.visitorToken(r)
	if token == "" {
		id, err := h.ids.Generate()
		if err != nil {
			logger.ErrorContext(ctx, "failed to mint visitor token", "error", err.Error())
			httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable",
				"Unable to record like at this time", nil)
			return
		}
		token = id.String()
		// Cookie goes out with this response regardless of how the
		// insert below fares: the identity must outlive the attempt.
		h.setVisitorCookie(w, token)
	}

	err := h.store.AddRecord(ctx, entityID, token)
	if err == ErrAlreadyLiked {
		// Distinguishable duplicate code: the client treats this as the
		// already-liked success path.
		logger.InfoContext(ctx, "duplicate like", "pet_id", entityID.String())
		httpx.WriteError(w, http.StatusConflict, "already_liked",
			"This visitor already liked this pet", nil)
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to record like",
			"pet_id", entityID.String(),
			"error", err.Error(),
		)
		httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable",
			"Unable to record like at this time", nil)
		return
	}

	state, err := h.store.FetchState(ctx, entityID, token)
	if err != nil {
		// The like stands even if the readback fails.
		state = State{Liked: true}
	}

	logger.InfoContext(ctx, "like recorded", "pet_id", entityID.String())
	httpx.WriteJSON(w, http.StatusCreated, state)
}

// Unlike handles DELETE requests removing the caller's engagement record.
func (h *Handler) Unlike(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.mutationTimeout)
	defer cancel()
	logger := h.requestLogger(ctx, r)

	entityID, ok := h.pathEntityID(w, r)
	if !ok {
		return
	}

	token, _ := h.visitorToken(r)
	if token != "" {
		if err := h.store.RemoveRecord(ctx, entityID, token); err != nil {
			logger.ErrorContext(ctx, "failed to remove like",
				"pet_id", entityID.String(),
				"error", err.Error(),
			)
			httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable",
				"Unable to remove like at this time", nil)
			return
		}
	}

	state, err := h.store.FetchState(ctx, entityID, token)
	if err != nil {
		state = State{}
	}
	state.Liked = false

	logger.InfoContext(ctx, "like removed", "pet_id", entityID.String())
	httpx.WriteJSON(w, http.StatusOK, state)
}

// StreamLikes handles GET requests for the server-sent counter feed.
// Each event is the new authoritative count; clients replace, never sum.
func (h *Handler) StreamLikes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(ctx, r)

	entityID, ok := h.pathEntityID(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error",
			"streaming unsupported", nil)
		return
	}

	updates, err := h.store.SubscribeCounter(ctx, entityID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to subscribe to counter feed",
			"pet_id", entityID.String(),
			"error", err.Error(),
		)
		httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable",
			"Unable to stream likes at this time", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Seed the stream with the current count so subscribers render
	// immediately instead of waiting for the first change.
	if state, err := h.store.FetchState(ctx, entityID, ""); err == nil {
		fmt.Fprintf(w, "data: %d\n\n", state.Count)
		flusher.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case count, open := <-updates:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %d\n\n", count)
			flusher.Flush()
		}
	}
}

// pathEntityID extracts and validates the {id} path segment, writing the
// error response itself when invalid.
func (h *Handler) pathEntityID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_pet_id",
			"pet id must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// visitorToken returns the caller's token, preferring the header (used
// by clients that manage their own identity) over the browser cookie.
func (h *Handler) visitorToken(r *http.Request) (string, bool) {
	if t := r.Header.Get(VisitorTokenHeader); t != "" {
		return t, true
	}
	if c, err := r.Cookie(h.cookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func (h *Handler) setVisitorCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) handlePetError(ctx context.Context, w http.ResponseWriter, err error, petID string) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
		"pet_id", petID,
	}

	switch kind {
	case errx.NotFound:
		h.logger.WarnContext(ctx, "pet not found", logAttrs...)
		httpx.WriteError(w, http.StatusNotFound, "not_found",
			"this pet profile doesn't exist", nil)

	default:
		h.logger.ErrorContext(ctx, "unexpected error loading pet", logAttrs...)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error",
			"Unable to load this profile at this time", nil)
	}
}

func (h *Handler) requestLogger(ctx context.Context, r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(ctx),
		"method", r.Method,
		"path", r.URL.Path,
	)
}

func toPetResponse(p pet.Pet) *PetResponse {
	return &PetResponse{
		ID:        p.ID.String(),
		Name:      p.Name,
		Species:   p.Species,
		Breed:     p.Breed,
		Bio:       p.Bio,
		PhotoURL:  p.PhotoURL,
		Lost:      p.Lost,
		CreatedAt: p.CreatedAt.Format(http.TimeFormat),
	}
}
