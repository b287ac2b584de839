package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ratelimitmw "aura/internal/ratelimit/middleware"
	metadata "aura/pkg/platform/middleware/metadata"
	requestid "aura/pkg/platform/middleware/requestid"
)

// NewRouter wires all public endpoints. Every product route passes through
// the quota gate under its endpoint name; the admin surface and operational
// endpoints are ungated.
func NewRouter(h *Handler, gate *ratelimitmw.Gate, adm *AdminHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.RequestID)
	r.Use(metadata.ClientMetadata)

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.With(gate.Enforce("ask")).Post("/ask", h.handleAsk)
	r.With(gate.Enforce("ask_media")).Post("/ask/media", h.handleAskMedia)
	r.With(gate.Enforce("translate")).Post("/translate", h.handleTranslate)
	r.With(gate.Enforce("transcribe")).Post("/transcribe", h.handleTranscribe)
	r.With(gate.Enforce("wearables")).Get("/wearables/{user_id}/daily", h.handleWearablesDaily)
	r.With(gate.Enforce("subscription")).Get("/subscription/{user_id}", h.handleSubscription)
	r.With(gate.Enforce("usage")).Get("/usage/{user_id}", h.handleUsage)

	r.Route("/admin/ratelimit", func(r chi.Router) {
		r.Post("/reset", adm.handleReset)
		r.Get("/policies", adm.handlePolicies)
	})

	return r
}
