// Package proxy bridges net/http requests to the Failover Engine: it
// builds a failover.Request from the inbound request, maps the terminal
// failover.Response or error onto an HTTP response, and infers the target
// provider for the two OpenAI-compatible routes from the request's model
// field (spec.md §6).
package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aikeygate/gateway/internal/httpserver"
	"github.com/aikeygate/gateway/pkg/failover"
)

// ModelResolver maps a model name to the provider tag that serves it, used
// for the /api/compat/* routes where the caller names a model rather than
// a provider.
type ModelResolver interface {
	ResolveProvider(model string) (string, bool)
}

// Handler provides the three proxy routes from spec.md §6, all sharing one
// Failover Engine.
type Handler struct {
	engine   *failover.Engine
	resolver ModelResolver
	logger   *slog.Logger
}

// NewHandler creates a proxy Handler.
func NewHandler(engine *failover.Engine, resolver ModelResolver, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, resolver: resolver, logger: logger}
}

// Routes returns a chi.Router with all three proxy routes mounted. Mount
// this under the authenticated /api subrouter.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/compat/chat/completions", h.handleCompat("/v1/chat/completions"))
	r.Post("/compat/embeddings", h.handleCompat("/v1/embeddings"))
	r.Handle("/{provider}/*", http.HandlerFunc(h.handlePassthrough))
	return r
}

// modelPeek is the only field read out of a /api/compat/* body — the rest
// travels through the engine as opaque bytes.
type modelPeek struct {
	Model string `json:"model"`
}

func (h *Handler) handleCompat(upstreamPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", "failed to read request body")
			return
		}

		var peek modelPeek
		if err := json.Unmarshal(body, &peek); err != nil || peek.Model == "" {
			httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", "request body must include a \"model\" field")
			return
		}

		provider, ok := h.resolver.ResolveProvider(peek.Model)
		if !ok {
			httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", "unrecognized model: "+peek.Model)
			return
		}

		h.execute(w, r, failover.Request{
			Provider: provider,
			Model:    peek.Model,
			Method:   http.MethodPost,
			Path:     upstreamPath,
			RawQuery: r.URL.RawQuery,
			Header:   r.Header,
			Body:     body,
		})
	}
}

func (h *Handler) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}

	h.execute(w, r, failover.Request{
		Provider: provider,
		Method:   r.Method,
		Path:     chi.URLParam(r, "*"),
		RawQuery: r.URL.RawQuery,
		Header:   r.Header,
		Body:     body,
	})
}

// execute runs req through the engine and maps the outcome onto w per the
// status table in spec.md §6.
func (h *Handler) execute(w http.ResponseWriter, r *http.Request, req failover.Request) {
	resp, err := h.engine.Execute(r.Context(), req)
	if err != nil {
		h.respondError(w, r, req, err)
		return
	}

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, req failover.Request, err error) {
	switch {
	case errors.Is(err, failover.ErrFatal):
		h.logger.Error("proxy: fatal upstream error", "provider", req.Provider, "error", err)
		httpserver.RespondError(w, r, http.StatusBadGateway, "fatal_upstream_error", "upstream returned an unrecoverable error")

	case errors.Is(err, failover.ErrNoHealthyKey), errors.Is(err, failover.ErrAllKeysFailed), failover.IsStoreUnavailable(err):
		h.logger.Error("proxy: no candidate key available", "provider", req.Provider, "error", err)
		httpserver.RespondError(w, r, http.StatusServiceUnavailable, "no_healthy_key", "no healthy upstream key is currently available")

	case errors.Is(err, failover.ErrDeadlineExceeded):
		h.logger.Error("proxy: overall deadline exceeded", "provider", req.Provider, "error", err)
		httpserver.RespondError(w, r, http.StatusGatewayTimeout, "deadline_exceeded", "request exceeded the overall timeout")

	case errors.Is(err, failover.ErrUnknownProvider):
		httpserver.RespondError(w, r, http.StatusBadRequest, "bad_request", "unrecognized provider: "+req.Provider)

	default:
		h.logger.Error("proxy: unexpected engine error", "provider", req.Provider, "error", err)
		httpserver.RespondError(w, r, http.StatusInternalServerError, "internal_error", "unexpected failover error")
	}
}
