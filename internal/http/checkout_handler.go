package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_ucp/internal/service"
	"github.com/go-chi/chi/v5"
)

type CheckoutHandler struct {
	checkouts service.CheckoutService
	timeout   time.Duration
}

func NewCheckoutHandler(checkouts service.CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkouts: checkouts,
		timeout:   timeout,
	}
}

// POST /checkout-sessions
func (h *CheckoutHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req service.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	c, err := h.checkouts.CreateCheckout(ctx, &req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondCheckout(w, http.StatusCreated, c)
}

// GET /checkout-sessions/{id}
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	c, err := h.checkouts.GetCheckout(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondCheckout(w, http.StatusOK, c)
}

// PUT /checkout-sessions/{id}
func (h *CheckoutHandler) UpdateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req service.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	c, err := h.checkouts.UpdateCheckout(ctx, chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondCheckout(w, http.StatusOK, c)
}

// POST /checkout-sessions/{id}/complete
func (h *CheckoutHandler) CompleteCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req service.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	c, err := h.checkouts.CompleteCheckout(ctx, chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondCheckout(w, http.StatusOK, c)
}

// POST /checkout-sessions/{id}/cancel
func (h *CheckoutHandler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	c, err := h.checkouts.CancelCheckout(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondCheckout(w, http.StatusOK, c)
}
