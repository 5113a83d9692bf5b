// Package transport provides HTTP handlers for the verification domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/solcverify/internal/compiler"
	"github.com/pendergraft/solcverify/internal/verification/domain"
)

// MaxRequestBytes caps a recompile request body.
const MaxRequestBytes = 32 << 20

// Service defines the verification service interface for HTTP transport.
type Service interface {
	Recompile(ctx context.Context, req domain.RecompileRequest) (*domain.RecompileResult, error)
}

// Handler handles HTTP requests for verification.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler creates a new verification HTTP handler.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes registers the verification routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/recompile", h.handleRecompile)
}

func (h *Handler) handleRecompile(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var httpReq RecompileRequest
	if err := json.Unmarshal(body, &httpReq); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}
	if len(httpReq.Input) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "input is required")
		return
	}
	req, err := httpReq.ToDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "input is not a standard-JSON compiler input")
		return
	}

	result, err := h.svc.Recompile(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var compileErr *compiler.CompilerError
	switch {
	case errors.As(err, &compileErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: ErrorDetail{
			Code:        "COMPILATION_FAILED",
			Message:     compileErr.Error(),
			Diagnostics: compileErr.Diagnostics,
		}})
	case errors.Is(err, domain.ErrInvalidVersion),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrTargetAmbiguous),
		errors.Is(err, compiler.ErrUnsupportedLanguage),
		errors.Is(err, compiler.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, domain.ErrTargetNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, compiler.ErrDownloadFailure),
		errors.Is(err, compiler.ErrCorruptBinary):
		writeError(w, http.StatusBadGateway, "COMPILER_UNAVAILABLE", err.Error())
	case errors.Is(err, compiler.ErrOutputTooLarge):
		writeError(w, http.StatusUnprocessableEntity, "OUTPUT_TOO_LARGE", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "Compilation timed out")
	default:
		h.logger.Error("recompile failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to recompile")
	}
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
