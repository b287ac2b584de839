package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aura/internal/ratelimit/models"
	"aura/internal/ratelimit/ports"
	dErrors "aura/pkg/domain-errors"
	"aura/pkg/platform/httputil"
)

// CompletionProvider produces AI answers for the ask endpoints. The concrete
// provider (external completion API) is wired in main.
type CompletionProvider interface {
	Complete(ctx context.Context, userID, prompt string) (string, error)
}

// Handler is the thin HTTP layer. It delegates to the subscription source
// and the completion provider; the interesting enforcement logic lives in
// the ratelimit middleware applied by the router.
type Handler struct {
	subs        ports.SubscriptionSource
	completions CompletionProvider
	logger      *slog.Logger
}

func NewHandler(subs ports.SubscriptionSource, completions CompletionProvider, logger *slog.Logger) *Handler {
	return &Handler{subs: subs, completions: completions, logger: logger}
}

type askRequest struct {
	UserID   string `json:"user_id"`
	Question string `json:"question"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "question is required"))
		return
	}

	answer, err := h.completions.Complete(r.Context(), req.UserID, req.Question)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "completion failed", "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "completion provider unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &askResponse{Answer: answer})
}

func (h *Handler) handleAskMedia(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		Question string `json:"question"`
		MediaURL string `json:"media_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MediaURL == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "media_url is required"))
		return
	}

	answer, err := h.completions.Complete(r.Context(), req.UserID, req.Question+"\n[media] "+req.MediaURL)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "media completion failed", "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "completion provider unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &askResponse{Answer: answer})
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Text   string `json:"text"`
		Target string `json:"target_lang"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "text is required"))
		return
	}

	translated, err := h.completions.Complete(r.Context(), req.UserID, "translate to "+req.Target+": "+req.Text)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "translation failed", "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "translation provider unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"translation": translated})
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		AudioURL string `json:"audio_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AudioURL == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "audio_url is required"))
		return
	}

	transcript, err := h.completions.Complete(r.Context(), req.UserID, "[transcribe] "+req.AudioURL)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "transcription failed", "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "transcription provider unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"transcript": transcript})
}

func (h *Handler) handleWearablesDaily(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	// Wearable aggregation is an upstream concern; this endpoint only shapes
	// the response for the client.
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"summary": map[string]any{"steps": 0, "sleep_minutes": 0, "heart_rate_avg": 0},
	})
}

func (h *Handler) handleSubscription(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	sub, err := h.subs.GetSubscription(r.Context(), userID)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeNotFound {
			// Users without a row are on the free plan.
			httputil.WriteJSON(w, http.StatusOK, &models.Subscription{Tier: models.TierFree, Status: "none"})
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	usage, err := h.subs.GetMonthlyUsage(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":       userID,
		"monthly_usage": usage,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
