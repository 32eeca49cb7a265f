package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/ledger"
	"github.com/fjod/go_ucp/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock ---

type CheckoutServiceMock struct {
	mu       sync.Mutex
	checkout *domain.Checkout
	err      error
	calls    int
	lastID   string
	create   *service.CreateRequest
	complete *service.CompleteRequest
}

func (m *CheckoutServiceMock) record(id string) (*domain.Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastID = id
	if m.err != nil {
		return nil, m.err
	}
	return m.checkout, nil
}

func (m *CheckoutServiceMock) CreateCheckout(_ context.Context, req *service.CreateRequest) (*domain.Checkout, error) {
	m.mu.Lock()
	m.create = req
	m.mu.Unlock()
	return m.record("")
}

func (m *CheckoutServiceMock) GetCheckout(_ context.Context, id string) (*domain.Checkout, error) {
	return m.record(id)
}

func (m *CheckoutServiceMock) UpdateCheckout(_ context.Context, id string, _ *service.UpdateRequest) (*domain.Checkout, error) {
	return m.record(id)
}

func (m *CheckoutServiceMock) CompleteCheckout(_ context.Context, id string, req *service.CompleteRequest) (*domain.Checkout, error) {
	m.mu.Lock()
	m.complete = req
	m.mu.Unlock()
	return m.record(id)
}

func (m *CheckoutServiceMock) CancelCheckout(_ context.Context, id string) (*domain.Checkout, error) {
	return m.record(id)
}

func (m *CheckoutServiceMock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- helper ---

func withCheckoutID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func sampleCheckout() *domain.Checkout {
	return &domain.Checkout{
		ID:       "chk_1",
		Status:   domain.CheckoutStatusReadyForComplete,
		Currency: "USD",
		LineItems: []domain.LineItem{
			{ID: "li_1", Item: domain.Item{ID: "bouquet_roses", Title: "Roses", Price: 1500}, Quantity: 1},
		},
		Totals: domain.Totals{
			{Type: domain.TotalTypeSubtotal, Amount: 1500},
			{Type: domain.TotalTypeTotal, Amount: 1500},
		},
		Version: 3,
	}
}

const createBody = `{"currency":"USD","line_items":[{"item":{"id":"bouquet_roses"},"quantity":1}]}`

// --- tests ---

func TestCreateCheckout_Success(t *testing.T) {
	mock := &CheckoutServiceMock{checkout: sampleCheckout()}
	handler := NewCheckoutHandler(mock, 5*time.Second)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("POST", "/checkout-sessions", strings.NewReader(createBody))
	handler.CreateCheckout(recorder, request)

	require.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, `"3"`, recorder.Header().Get("ETag"))

	var got map[string]any
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&got))
	assert.Equal(t, "chk_1", got["id"])
	assert.Equal(t, "ready_for_complete", got["status"])
	assert.NotContains(t, got, "version")

	require.NotNil(t, mock.create)
	assert.Equal(t, "USD", mock.create.Currency)
	require.Len(t, mock.create.LineItems, 1)
	assert.Equal(t, "bouquet_roses", mock.create.LineItems[0].Item.ID)
}

func TestCreateCheckout_InvalidJSON(t *testing.T) {
	mock := &CheckoutServiceMock{}
	handler := NewCheckoutHandler(mock, 5*time.Second)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("POST", "/checkout-sessions", strings.NewReader("{"))
	handler.CreateCheckout(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Zero(t, mock.Calls())
}

func TestGetCheckout_PassesID(t *testing.T) {
	mock := &CheckoutServiceMock{checkout: sampleCheckout()}
	handler := NewCheckoutHandler(mock, 5*time.Second)

	recorder := httptest.NewRecorder()
	request := withCheckoutID(httptest.NewRequest("GET", "/checkout-sessions/chk_1", nil), "chk_1")
	handler.GetCheckout(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "chk_1", mock.lastID)
}

func TestCompleteCheckout_DecodesPaymentData(t *testing.T) {
	mock := &CheckoutServiceMock{checkout: sampleCheckout()}
	handler := NewCheckoutHandler(mock, 5*time.Second)

	body := `{"payment_data":{"id":"instr_1","handler_id":"mock_payment_handler","type":"card","credential":{"type":"token","token":"success_token"}}}`
	recorder := httptest.NewRecorder()
	request := withCheckoutID(httptest.NewRequest("POST", "/checkout-sessions/chk_1/complete", strings.NewReader(body)), "chk_1")
	handler.CompleteCheckout(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.NotNil(t, mock.complete)
	require.NotNil(t, mock.complete.PaymentData)
	assert.Equal(t, "mock_payment_handler", mock.complete.PaymentData.HandlerID)
	require.NotNil(t, mock.complete.PaymentData.Credential)
	assert.Equal(t, "success_token", mock.complete.PaymentData.Credential.Token)
}

func TestCheckoutHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantPath   string
	}{
		{
			name:       "validation",
			err:        &service.ValidationError{Path: "$.line_items[0].quantity", Message: "quantity must be at least 1"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
			wantPath:   "$.line_items[0].quantity",
		},
		{
			name:       "not found",
			err:        service.ErrCheckoutNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "concurrent modification",
			err:        fmt.Errorf("%w: checkout chk_1 is busy", service.ErrConflict),
			wantStatus: http.StatusConflict,
			wantCode:   "conflict",
		},
		{
			name:       "terminal",
			err:        service.ErrCheckoutNotModifiable,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "not_modifiable",
		},
		{
			name:       "not ready",
			err:        fmt.Errorf("%w: status is incomplete", service.ErrNotReady),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "not_ready",
		},
		{
			name:       "internal",
			err:        fmt.Errorf("%w: place order: disk full", service.ErrInternal),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
		{
			name:       "unknown",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &CheckoutServiceMock{err: tt.err}
			handler := NewCheckoutHandler(mock, 5*time.Second)

			recorder := httptest.NewRecorder()
			request := withCheckoutID(httptest.NewRequest("POST", "/checkout-sessions/chk_1/cancel", nil), "chk_1")
			handler.CancelCheckout(recorder, request)

			require.Equal(t, tt.wantStatus, recorder.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantPath, resp.Path)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", resp.Error)
			}
		})
	}
}

func TestHandleServiceError_LedgerErrors(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{&ledger.ValidationError{Path: "$.line_items", Message: "line_items is required"}, http.StatusBadRequest},
		{ledger.ErrOrderNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: line item li_1 would be fulfilled 3 of 2", ledger.ErrConflict), http.StatusConflict},
		{ledger.ErrAlreadyRecorded, http.StatusConflict},
	}
	for _, tt := range tests {
		recorder := httptest.NewRecorder()
		handleServiceError(recorder, httptest.NewRequest("GET", "/", nil), tt.err)
		assert.Equal(t, tt.wantStatus, recorder.Code, tt.err.Error())
	}
}
