package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/ledger"
	"github.com/fjod/go_ucp/internal/service"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Path    string `json:"path,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// respondCheckout writes the checkout with its version as a strong ETag.
func respondCheckout(w http.ResponseWriter, status int, c *domain.Checkout) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(c.Version, 10)))
	respondJSON(w, status, c)
}

// handleServiceError maps engine errors to HTTP status codes.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var checkoutErr *service.ValidationError
	if errors.As(err, &checkoutErr) {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: checkoutErr.Message, Code: "invalid_request", Path: checkoutErr.Path})
		return
	}
	var ledgerErr *ledger.ValidationError
	if errors.As(err, &ledgerErr) {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: ledgerErr.Message, Code: "invalid_request", Path: ledgerErr.Path})
		return
	}

	var httpStatus int
	var code string

	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, ledger.ErrValidation):
		httpStatus = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, service.ErrCheckoutNotFound), errors.Is(err, ledger.ErrOrderNotFound):
		httpStatus = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, service.ErrConflict), errors.Is(err, ledger.ErrConflict):
		httpStatus = http.StatusConflict
		code = "conflict"
	case errors.Is(err, ledger.ErrAlreadyRecorded):
		httpStatus = http.StatusConflict
		code = "already_recorded"
	case errors.Is(err, service.ErrCheckoutNotModifiable):
		httpStatus = http.StatusUnprocessableEntity
		code = "not_modifiable"
	case errors.Is(err, service.ErrNotReady):
		httpStatus = http.StatusUnprocessableEntity
		code = "not_ready"
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "request_id", getRequestID(r.Context()), "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}
