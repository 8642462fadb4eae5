package handler

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const serviceName = "inventory.v1.InventoryService"

// InventoryServer is the server side of inventory.v1.InventoryService.
type InventoryServer interface {
	HandleMessage(context.Context, *MessageRequest) (*domain.Outcome, error)
	BulkUpdate(context.Context, *BulkRequest) (*BulkResponse, error)
	Inventory(context.Context, *InventoryRequest) (*InventoryResponse, error)
}

// InventoryServiceDesc describes the service for grpc.Server.RegisterService.
var InventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "HandleMessage", Handler: handleMessageHandler},
		{MethodName: "BulkUpdate", Handler: bulkUpdateHandler},
		{MethodName: "Inventory", Handler: inventoryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory/v1/inventory.proto",
}

func RegisterInventoryServer(s grpc.ServiceRegistrar, srv InventoryServer) {
	s.RegisterService(&InventoryServiceDesc, srv)
}

func handleMessageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(MessageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).HandleMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/HandleMessage"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).HandleMessage(ctx, req.(*MessageRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func bulkUpdateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BulkRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).BulkUpdate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/BulkUpdate"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).BulkUpdate(ctx, req.(*BulkRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func inventoryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InventoryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).Inventory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Inventory"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).Inventory(ctx, req.(*InventoryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

type GRPCHandler struct {
	svc    InventoryService
	logger *slog.Logger
}

func NewGRPCHandler(svc InventoryService, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandler{svc: svc, logger: logger}
}

func (h *GRPCHandler) HandleMessage(ctx context.Context, req *MessageRequest) (*domain.Outcome, error) {
	msg, err := req.toMessage()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	// Outcomes, including system_error, are answers rather than RPC failures.
	out := h.svc.HandleMessage(ctx, msg)
	return &out, nil
}

func (h *GRPCHandler) BulkUpdate(ctx context.Context, req *BulkRequest) (*BulkResponse, error) {
	if err := req.validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &BulkResponse{Results: h.svc.BulkUpdate(ctx, req.Items)}, nil
}

func (h *GRPCHandler) Inventory(ctx context.Context, req *InventoryRequest) (*InventoryResponse, error) {
	if req.ShopID == "" {
		return nil, status.Error(codes.InvalidArgument, errMissingShopID.Error())
	}
	records, err := h.svc.Inventory(ctx, req.ShopID)
	if err != nil {
		h.logger.Error("list inventory failed", "shop_id", req.ShopID, "error", err)
		return nil, status.Error(codes.Unavailable, "internal error")
	}
	return &InventoryResponse{Records: records}, nil
}

// InventoryClient calls inventory.v1.InventoryService.
type InventoryClient struct {
	cc grpc.ClientConnInterface
}

func NewInventoryClient(cc grpc.ClientConnInterface) *InventoryClient {
	return &InventoryClient{cc: cc}
}

func (c *InventoryClient) HandleMessage(ctx context.Context, in *MessageRequest, opts ...grpc.CallOption) (*domain.Outcome, error) {
	out := new(domain.Outcome)
	if err := c.invoke(ctx, "HandleMessage", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InventoryClient) BulkUpdate(ctx context.Context, in *BulkRequest, opts ...grpc.CallOption) (*BulkResponse, error) {
	out := new(BulkResponse)
	if err := c.invoke(ctx, "BulkUpdate", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InventoryClient) Inventory(ctx context.Context, in *InventoryRequest, opts ...grpc.CallOption) (*InventoryResponse, error) {
	out := new(InventoryResponse)
	if err := c.invoke(ctx, "Inventory", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InventoryClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}
