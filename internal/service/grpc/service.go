// Package grpcsvc публикует движок исполнения заказов как gRPC-сервис.
//
// Сообщения передаются как google.protobuf.Struct: схема полей описана в методах ниже,
// кодек — стандартный proto, так что сервис доступен любому gRPC-клиенту и grpcurl.
package grpcsvc

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/cart"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/ordering"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/reorder"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "fulfillment.v1.FulfillmentService"

// Имена методов.
const (
	MethodCreateOrder            = "CreateOrder"
	MethodCreateManualOrder      = "CreateManualOrder"
	MethodGetOrder               = "GetOrder"
	MethodGetOrderByNumber       = "GetOrderByNumber"
	MethodListMyOrders           = "ListMyOrders"
	MethodListOrders             = "ListOrders"
	MethodUpdateOrderStatus      = "UpdateOrderStatus"
	MethodBulkUpdateOrderStatus  = "BulkUpdateOrderStatus"
	MethodCancelOrder            = "CancelOrder"
	MethodReorder                = "Reorder"
	MethodInitiatePayment        = "InitiatePayment"
	MethodProcessPaymentCallback = "ProcessPaymentCallback"
	MethodAdjustStock            = "AdjustStock"
	MethodAuditStock             = "AuditStock"
	MethodRegisterProduct        = "RegisterProduct"
	MethodSetProductStatus       = "SetProductStatus"
	MethodPutCartItem            = "PutCartItem"
	MethodGetCart                = "GetCart"
)

// FullMethod возвращает путь метода для grpc.Invoke.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Server — реализация, которую обслуживает ServiceDesc.
type Server interface {
	Handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
}

// Dependencies — прикладные сервисы, доступные через API.
type Dependencies struct {
	Orders      *ordering.Orchestrator
	Queries     *ordering.Queries
	Lifecycle   *lifecycle.Manager
	Reorder     *reorder.Assembler
	Payments    *payment.Initiator
	Callbacks   *payment.Processor
	Inventory   *inventory.Service
	Carts       *cart.Service
	Idempotency domain.IdempotencyRepository
	Callers     CallerResolver
	Logger      *log.Entry
}

type handlerFunc func(s *FulfillmentService, ctx context.Context, caller domain.Caller, r reader) (map[string]any, error)

type method struct {
	// anonymous: вызывающий не требуется (аутентификация подписью в теле).
	anonymous bool
	// idempotent: ответ кешируется по заголовку idempotency-key.
	idempotent bool
	call       handlerFunc
}

var methods = map[string]method{
	MethodCreateOrder:            {idempotent: true, call: (*FulfillmentService).createOrder},
	MethodCreateManualOrder:      {idempotent: true, call: (*FulfillmentService).createManualOrder},
	MethodGetOrder:               {call: (*FulfillmentService).getOrder},
	MethodGetOrderByNumber:       {call: (*FulfillmentService).getOrderByNumber},
	MethodListMyOrders:           {call: (*FulfillmentService).listMyOrders},
	MethodListOrders:             {call: (*FulfillmentService).listOrders},
	MethodUpdateOrderStatus:      {call: (*FulfillmentService).updateOrderStatus},
	MethodBulkUpdateOrderStatus:  {call: (*FulfillmentService).bulkUpdateOrderStatus},
	MethodCancelOrder:            {call: (*FulfillmentService).cancelOrder},
	MethodReorder:                {idempotent: true, call: (*FulfillmentService).reorder},
	MethodInitiatePayment:        {idempotent: true, call: (*FulfillmentService).initiatePayment},
	MethodProcessPaymentCallback: {anonymous: true, call: (*FulfillmentService).processPaymentCallback},
	MethodAdjustStock:            {call: (*FulfillmentService).adjustStock},
	MethodAuditStock:             {call: (*FulfillmentService).auditStock},
	MethodRegisterProduct:        {call: (*FulfillmentService).registerProduct},
	MethodSetProductStatus:       {call: (*FulfillmentService).setProductStatus},
	MethodPutCartItem:            {call: (*FulfillmentService).putCartItem},
	MethodGetCart:                {call: (*FulfillmentService).getCart},
}

// FulfillmentService — транспортный слой поверх прикладных сервисов.
type FulfillmentService struct {
	deps   Dependencies
	logger *log.Entry
}

// NewFulfillmentService конструирует сервис с зависимостями.
func NewFulfillmentService(deps Dependencies) *FulfillmentService {
	if deps.Callers == nil {
		deps.Callers = MetadataCallerResolver{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "fulfillment-grpc")
	}
	return &FulfillmentService{deps: deps, logger: logger}
}

// Register регистрирует сервис на gRPC-сервере.
func (s *FulfillmentService) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&ServiceDesc, s)
}

// Handle выполняет метод: определяет вызывающего, применяет идемпотентность и переводит ошибки в status.
func (s *FulfillmentService) Handle(ctx context.Context, name string, req *structpb.Struct) (*structpb.Struct, error) {
	m, ok := methods[name]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "method %s is not implemented", name)
	}
	if req == nil {
		req = &structpb.Struct{}
	}

	var caller domain.Caller
	if !m.anonymous {
		resolved, err := s.deps.Callers.Resolve(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		caller = resolved
	}

	run := func(ctx context.Context) (*structpb.Struct, error) {
		out, err := m.call(s, ctx, caller, newReader(req))
		if err != nil {
			return nil, s.failure(name, caller, err)
		}
		resp, err := structpb.NewStruct(out)
		if err != nil {
			s.logger.WithError(err).WithField("method", name).Error("failed to encode response")
			return nil, status.Error(codes.Internal, "failed to encode response")
		}
		return resp, nil
	}

	if m.idempotent && s.deps.Idempotency != nil {
		return s.idempotent(ctx, name, caller, req, run)
	}
	return run(ctx)
}

func (s *FulfillmentService) failure(method string, caller domain.Caller, err error) error {
	st := statusOf(err)
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"method":  method,
		"user_id": caller.UserID,
		"code":    st.Code().String(),
	})
	switch st.Code() {
	case codes.Internal, codes.Unknown:
		entry.Error("request failed")
	case codes.Unavailable, codes.Aborted:
		entry.Warn("request failed")
	default:
		entry.Debug("request rejected")
	}
	return st.Err()
}

func (s *FulfillmentService) requireDep(ok bool, name string) error {
	if ok {
		return nil
	}
	return status.Errorf(codes.Unimplemented, "%s is not configured", name)
}

// ServiceDesc описывает сервис для grpc.Server без сгенерированного кода.
var ServiceDesc = buildServiceDesc()

func buildServiceDesc() grpc.ServiceDesc {
	names := []string{
		MethodCreateOrder, MethodCreateManualOrder, MethodGetOrder, MethodGetOrderByNumber,
		MethodListMyOrders, MethodListOrders, MethodUpdateOrderStatus, MethodBulkUpdateOrderStatus,
		MethodCancelOrder, MethodReorder, MethodInitiatePayment, MethodProcessPaymentCallback,
		MethodAdjustStock, MethodAuditStock, MethodRegisterProduct, MethodSetProductStatus,
		MethodPutCartItem, MethodGetCart,
	}
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*Server)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "fulfillment/v1/fulfillment.proto",
	}
	for _, name := range names {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler(name),
		})
	}
	return desc
}

func unaryHandler(name string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(Server)
		if interceptor == nil {
			return server.Handle(ctx, name, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return server.Handle(ctx, name, req.(*structpb.Struct))
		})
	}
}

// Client — тонкий клиент для FulfillmentService.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient создаёт клиента поверх соединения.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call вызывает метод с телом req.
func (c *Client) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, errors.Join(status.Error(codes.InvalidArgument, "request is not representable as Struct"), err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
