package grpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/ledger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ledger is the order ledger as seen by merchant systems.
type Ledger interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	RecordFulfillmentEvent(ctx context.Context, orderID string, in ledger.EventInput) (*domain.Order, error)
	RecordAdjustment(ctx context.Context, orderID string, in ledger.AdjustmentInput) (*domain.Order, error)
}

type OrderLedgerHandler struct {
	ledger Ledger
	log    *slog.Logger
}

func NewOrderLedgerHandler(l Ledger, log *slog.Logger) *OrderLedgerHandler {
	if log == nil {
		log = slog.Default()
	}
	return &OrderLedgerHandler{ledger: l, log: log}
}

func (h *OrderLedgerHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderResponse, error) {
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	o, err := h.ledger.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, h.fail(ctx, err, req.OrderID)
	}
	return &OrderResponse{Order: o}, nil
}

func (h *OrderLedgerHandler) RecordFulfillmentEvent(ctx context.Context, req *RecordFulfillmentEventRequest) (*OrderResponse, error) {
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	o, err := h.ledger.RecordFulfillmentEvent(ctx, req.OrderID, req.Event)
	if err != nil {
		return nil, h.fail(ctx, err, req.OrderID)
	}
	return &OrderResponse{Order: o}, nil
}

func (h *OrderLedgerHandler) RecordAdjustment(ctx context.Context, req *RecordAdjustmentRequest) (*OrderResponse, error) {
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	o, err := h.ledger.RecordAdjustment(ctx, req.OrderID, req.Adjustment)
	if err != nil {
		return nil, h.fail(ctx, err, req.OrderID)
	}
	return &OrderResponse{Order: o}, nil
}

// fail maps err to a status. Causes of internal errors are logged and not
// returned to the caller.
func (h *OrderLedgerHandler) fail(ctx context.Context, err error, orderID string) error {
	st := toStatus(err, orderID)
	if status.Code(st) == codes.Internal {
		h.log.ErrorContext(ctx, "order ledger call failed", "order_id", orderID, "error", err)
	}
	return st
}

func toStatus(err error, orderID string) error {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Errorf(codes.InvalidArgument, "%s: %s", verr.Path, verr.Message)
	case errors.Is(err, ledger.ErrOrderNotFound):
		return status.Errorf(codes.NotFound, "order not found: %s", orderID)
	case errors.Is(err, ledger.ErrAlreadyRecorded):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ledger.ErrConcurrentUpdate):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

var _ OrderLedgerServer = (*OrderLedgerHandler)(nil)
