package grpc

import (
	"context"

	"github.com/fjod/go_ucp/domain"
	"github.com/fjod/go_ucp/internal/ledger"
	"google.golang.org/grpc"
)

const serviceName = "ucp.OrderLedger"

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type RecordFulfillmentEventRequest struct {
	OrderID string            `json:"order_id"`
	Event   ledger.EventInput `json:"event"`
}

type RecordAdjustmentRequest struct {
	OrderID    string                 `json:"order_id"`
	Adjustment ledger.AdjustmentInput `json:"adjustment"`
}

type OrderResponse struct {
	Order *domain.Order `json:"order"`
}

// OrderLedgerServer is the merchant-facing order ledger API.
type OrderLedgerServer interface {
	GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderResponse, error)
	RecordFulfillmentEvent(ctx context.Context, req *RecordFulfillmentEventRequest) (*OrderResponse, error)
	RecordAdjustment(ctx context.Context, req *RecordAdjustmentRequest) (*OrderResponse, error)
}

var OrderLedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OrderLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetOrder", Handler: getOrderHandler},
		{MethodName: "RecordFulfillmentEvent", Handler: recordFulfillmentEventHandler},
		{MethodName: "RecordAdjustment", Handler: recordAdjustmentHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ucp/order_ledger",
}

func RegisterOrderLedgerServer(s grpc.ServiceRegistrar, srv OrderLedgerServer) {
	s.RegisterService(&OrderLedgerServiceDesc, srv)
}

func getOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderLedgerServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetOrder"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderLedgerServer).GetOrder(ctx, req.(*GetOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func recordFulfillmentEventHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RecordFulfillmentEventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderLedgerServer).RecordFulfillmentEvent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RecordFulfillmentEvent"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderLedgerServer).RecordFulfillmentEvent(ctx, req.(*RecordFulfillmentEventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func recordAdjustmentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RecordAdjustmentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderLedgerServer).RecordAdjustment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RecordAdjustment"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderLedgerServer).RecordAdjustment(ctx, req.(*RecordAdjustmentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// OrderLedgerClient calls the order ledger over a connection using the JSON codec.
type OrderLedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderLedgerClient(cc grpc.ClientConnInterface) *OrderLedgerClient {
	return &OrderLedgerClient{cc: cc}
}

func (c *OrderLedgerClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "GetOrder", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderLedgerClient) RecordFulfillmentEvent(ctx context.Context, in *RecordFulfillmentEventRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "RecordFulfillmentEvent", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderLedgerClient) RecordAdjustment(ctx context.Context, in *RecordAdjustmentRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "RecordAdjustment", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderLedgerClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}
