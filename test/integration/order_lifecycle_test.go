package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/fulfillment/internal/app"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/fulfillment/internal/service/grpc"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/webhook"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

const serverKey = "SB-Mid-server-integration"

var (
	admin = domain.Caller{UserID: "admin-1", Role: domain.RoleAdmin}
	alice = domain.Caller{UserID: "alice", Role: domain.RoleBuyer}
	bob   = domain.Caller{UserID: "bob", Role: domain.RoleBuyer}
)

// recordingPublisher собирает события, выгруженные воркером outbox.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types(aggregateID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		if ev.AggregateID == aggregateID {
			out = append(out, ev.EventType)
		}
	}
	return out
}

// OrderLifecycleTestSuite прогоняет заказ через весь собранный сервис:
// gRPC, HTTP-уведомления шлюза и выгрузку outbox.
type OrderLifecycleTestSuite struct {
	suite.Suite
	ctx       context.Context
	store     *memory.Store
	deps      *app.Dependencies
	client    *grpcsvc.Client
	webhook   *httptest.Server
	worker    *outbox.Worker
	published *recordingPublisher
	verifier  *payment.Verifier
	cleanup   func()
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	s.ctx = context.Background()
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	cfg := app.DefaultConfig()
	cfg.Coupons = "WELCOME=5000"
	cfg.GatewayServerKey = serverKey

	s.store = memory.NewStore()
	deps, err := app.NewDependencies(cfg, s.store, memory.NewIdempotencyRepository(), nil, logger)
	s.Require().NoError(err)
	s.deps = deps
	s.verifier = payment.NewVerifier(serverKey)

	s.published = &recordingPublisher{}
	s.worker = outbox.NewWorker(s.store.Repos().Outbox, s.published, outbox.WithLogger(logger))

	listener := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	deps.GRPCService().Register(server)
	go func() {
		_ = server.Serve(listener)
	}()
	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}
	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err)
	s.client = grpcsvc.NewClient(conn)

	router := chi.NewRouter()
	webhook.NewHandler(deps.Callbacks, webhook.WithLogger(logger)).Routes(router)
	s.webhook = httptest.NewServer(router)

	s.cleanup = func() {
		s.webhook.Close()
		_ = conn.Close()
		server.Stop()
	}

	s.mustCall(admin, grpcsvc.MethodRegisterProduct, map[string]any{"id": "notebook", "name": "Notebook", "price": 25000, "stock_quantity": 10})
	s.mustCall(admin, grpcsvc.MethodRegisterProduct, map[string]any{"id": "pen", "name": "Pen", "price": 8000, "stock_quantity": 3})
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.cleanup()
}

func (s *OrderLifecycleTestSuite) call(caller domain.Caller, method string, req map[string]any) (*structpb.Struct, error) {
	return s.client.Call(grpcsvc.CallerMetadata(s.ctx, caller), method, req)
}

func (s *OrderLifecycleTestSuite) mustCall(caller domain.Caller, method string, req map[string]any) *structpb.Struct {
	resp, err := s.call(caller, method, req)
	s.Require().NoError(err, method)
	return resp
}

func (s *OrderLifecycleTestSuite) requireCode(err error, code codes.Code) {
	s.Require().Error(err)
	s.Require().Equal(code, status.Code(err), err.Error())
}

func field(resp *structpb.Struct, path ...string) *structpb.Value {
	v := structpb.NewStructValue(resp)
	for _, key := range path {
		v = v.GetStructValue().GetFields()[key]
	}
	return v
}

func (s *OrderLifecycleTestSuite) checkout(buyer domain.Caller, items map[string]int, coupon string) (id, number string, total int64) {
	for productID, qty := range items {
		s.mustCall(buyer, grpcsvc.MethodPutCartItem, map[string]any{"product_id": productID, "quantity": qty})
	}
	req := map[string]any{}
	if coupon != "" {
		req["coupon_code"] = coupon
	}
	resp := s.mustCall(buyer, grpcsvc.MethodCreateOrder, req)
	return field(resp, "order", "id").GetStringValue(),
		field(resp, "order", "number").GetStringValue(),
		int64(field(resp, "order", "total").GetNumberValue())
}

func (s *OrderLifecycleTestSuite) notify(number, transactionID, gatewayStatus string, total int64) (int, map[string]any) {
	gross := payment.FormatGrossAmount(total)
	statusCode := "200"
	if gatewayStatus != domain.GatewayStatusSettlement && gatewayStatus != domain.GatewayStatusCapture {
		statusCode = "202"
	}
	body, err := json.Marshal(map[string]any{
		"transaction_id":     transactionID,
		"order_id":           number,
		"transaction_status": gatewayStatus,
		"status_code":        statusCode,
		"gross_amount":       gross,
		"payment_type":       "bank_transfer",
		"signature_key":      s.verifier.Sign(number, statusCode, gross),
	})
	s.Require().NoError(err)

	resp, err := http.Post(s.webhook.URL+webhook.NotificationPath, "application/json", bytes.NewReader(body))
	s.Require().NoError(err)
	defer resp.Body.Close()

	var payload map[string]any
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func (s *OrderLifecycleTestSuite) stock(productID string) (current int64, consistent bool) {
	resp := s.mustCall(admin, grpcsvc.MethodAuditStock, map[string]any{"product_id": productID})
	return int64(field(resp, "current_stock").GetNumberValue()), field(resp, "consistent").GetBoolValue()
}

func (s *OrderLifecycleTestSuite) TestSuccessfulOrderLifecycle() {
	id, number, total := s.checkout(alice, map[string]int{"notebook": 2}, "WELCOME")

	details := s.mustCall(alice, grpcsvc.MethodGetOrder, map[string]any{"order_id": id})
	s.Require().Equal(string(domain.OrderStatusNew), field(details, "order", "status").GetStringValue())
	s.Require().EqualValues(50000, field(details, "order", "subtotal").GetNumberValue())
	s.Require().EqualValues(5000, field(details, "order", "discount").GetNumberValue())
	s.Require().Equal("WELCOME", field(details, "order", "coupon_id").GetStringValue())

	current, consistent := s.stock("notebook")
	s.Require().EqualValues(8, current)
	s.Require().True(consistent)

	cart := s.mustCall(alice, grpcsvc.MethodGetCart, map[string]any{})
	s.Require().Empty(field(cart, "items").GetListValue().GetValues(), "cart is emptied by checkout")

	pay := s.mustCall(alice, grpcsvc.MethodInitiatePayment, map[string]any{"order_id": id})
	s.Require().Equal(string(domain.PaymentStatusPending), field(pay, "payment", "status").GetStringValue())
	s.Require().NotEmpty(field(pay, "payment", "redirect_url").GetStringValue())

	code, payload := s.notify(number, "trx-1", domain.GatewayStatusSettlement, total)
	s.Require().Equal(http.StatusOK, code)
	s.Require().Equal(payment.OutcomeApplied, payload["outcome"])
	s.Require().Equal(string(domain.OrderStatusPaid), payload["order_status"])

	code, payload = s.notify(number, "trx-1", domain.GatewayStatusSettlement, total)
	s.Require().Equal(http.StatusOK, code)
	s.Require().Equal(payment.OutcomeDuplicate, payload["outcome"])

	for _, next := range []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusClosed} {
		resp := s.mustCall(admin, grpcsvc.MethodUpdateOrderStatus, map[string]any{"order_id": id, "status": string(next)})
		s.Require().Equal(string(next), field(resp, "order", "status").GetStringValue())
	}

	current, _ = s.stock("notebook")
	s.Require().EqualValues(8, current, "closing a delivered order keeps the stock")

	byNumber := s.mustCall(alice, grpcsvc.MethodGetOrderByNumber, map[string]any{"number": number})
	s.Require().Equal(id, field(byNumber, "order", "id").GetStringValue())
	s.Require().Equal(string(domain.PaymentStatusSuccess), field(byNumber, "payment", "status").GetStringValue())
	s.Require().GreaterOrEqual(len(field(byNumber, "timeline").GetListValue().GetValues()), 5)

	s.Require().Positive(s.worker.ProcessOnce(s.ctx).Sent)
	s.Require().Contains(s.published.types(id), domain.EventOrderCreated)
	s.Require().Contains(s.published.types(id), domain.EventOrderStatusChanged)
}

func (s *OrderLifecycleTestSuite) TestCancelPaidOrderRestocks() {
	id, number, total := s.checkout(alice, map[string]int{"pen": 3}, "")
	current, _ := s.stock("pen")
	s.Require().Zero(current)

	s.mustCall(bob, grpcsvc.MethodPutCartItem, map[string]any{"product_id": "pen", "quantity": 1})
	_, err := s.call(bob, grpcsvc.MethodCreateOrder, map[string]any{})
	s.requireCode(err, codes.FailedPrecondition)

	s.mustCall(alice, grpcsvc.MethodInitiatePayment, map[string]any{"order_id": id})
	code, _ := s.notify(number, "trx-cancel", domain.GatewayStatusSettlement, total)
	s.Require().Equal(http.StatusOK, code)

	_, err = s.call(bob, grpcsvc.MethodCancelOrder, map[string]any{"order_id": id})
	s.Require().Error(err, "strangers cannot cancel")

	resp := s.mustCall(alice, grpcsvc.MethodCancelOrder, map[string]any{"order_id": id, "reason": "changed my mind"})
	s.Require().Equal(string(domain.OrderStatusClosed), field(resp, "order", "status").GetStringValue())

	current, consistent := s.stock("pen")
	s.Require().EqualValues(3, current)
	s.Require().True(consistent)

	_, err = s.call(alice, grpcsvc.MethodCancelOrder, map[string]any{"order_id": id})
	s.Require().Error(err, "closed orders cannot be cancelled twice")

	// Повторное уведомление по закрытому заказу ничего не меняет.
	code, payload := s.notify(number, "trx-cancel", domain.GatewayStatusSettlement, total)
	s.Require().Equal(http.StatusOK, code)
	s.Require().Equal(payment.OutcomeDuplicate, payload["outcome"])
	details := s.mustCall(alice, grpcsvc.MethodGetOrder, map[string]any{"order_id": id})
	s.Require().Equal(string(domain.OrderStatusClosed), field(details, "order", "status").GetStringValue())
}

func (s *OrderLifecycleTestSuite) TestExpiredPaymentKeepsOrderOpen() {
	id, number, total := s.checkout(alice, map[string]int{"notebook": 1}, "")
	s.mustCall(alice, grpcsvc.MethodInitiatePayment, map[string]any{"order_id": id})

	code, payload := s.notify(number, "trx-expired", domain.GatewayStatusExpire, total)
	s.Require().Equal(http.StatusOK, code)
	s.Require().Equal(payment.OutcomeApplied, payload["outcome"])
	s.Require().Equal(string(domain.PaymentStatusFailed), payload["payment_status"])
	s.Require().Equal(string(domain.OrderStatusNew), payload["order_status"])

	code, _ = s.notify(number, "trx-expired", domain.GatewayStatusExpire, total+1)
	s.Require().Equal(http.StatusOK, code, "amount is only checked on settlement")

	code, payload = s.notify(number, "trx-wrong", domain.GatewayStatusSettlement, total+1)
	s.Require().Equal(http.StatusBadRequest, code)
	s.Require().Equal("invalid_notification", payload["error"])

	s.mustCall(alice, grpcsvc.MethodCancelOrder, map[string]any{"order_id": id})
	current, consistent := s.stock("notebook")
	s.Require().EqualValues(10, current)
	s.Require().True(consistent)
}

func (s *OrderLifecycleTestSuite) TestReorderReportsUnavailableItems() {
	id, _, _ := s.checkout(alice, map[string]int{"notebook": 1, "pen": 2}, "")
	s.mustCall(admin, grpcsvc.MethodAdjustStock, map[string]any{"product_id": "pen", "delta": -1, "note": "damaged"})

	resp := s.mustCall(alice, grpcsvc.MethodReorder, map[string]any{"order_id": id})
	added := field(resp, "added").GetListValue().GetValues()
	s.Require().Len(added, 1)
	s.Require().Equal("notebook", added[0].GetStructValue().GetFields()["product_id"].GetStringValue())

	unavailable := field(resp, "unavailable_items").GetListValue().GetValues()
	s.Require().Len(unavailable, 1)
	item := unavailable[0].GetStructValue().GetFields()
	s.Require().Equal("pen", item["product_id"].GetStringValue())
	s.Require().Equal(string(domain.LineProblemInsufficientStock), item["code"].GetStringValue())

	_, err := s.call(bob, grpcsvc.MethodReorder, map[string]any{"order_id": id})
	s.Require().Error(err)
}

func (s *OrderLifecycleTestSuite) TestBulkUpdateReportsPerOrderResults() {
	first, _, _ := s.checkout(alice, map[string]int{"notebook": 1}, "")
	second, _, _ := s.checkout(bob, map[string]int{"notebook": 1}, "")

	resp := s.mustCall(admin, grpcsvc.MethodBulkUpdateOrderStatus, map[string]any{
		"order_ids": []any{first, second, "missing"},
		"status":    string(domain.OrderStatusShipped),
	})
	results := field(resp, "results").GetListValue().GetValues()
	s.Require().Len(results, 3)
	for _, res := range results {
		s.Require().False(res.GetStructValue().GetFields()["ok"].GetBoolValue(), "new orders cannot ship")
	}

	resp = s.mustCall(admin, grpcsvc.MethodBulkUpdateOrderStatus, map[string]any{
		"order_ids": []any{first, second},
		"status":    string(domain.OrderStatusClosed),
		"reason":    "warehouse closed",
	})
	for _, res := range field(resp, "results").GetListValue().GetValues() {
		s.Require().True(res.GetStructValue().GetFields()["ok"].GetBoolValue())
	}

	listed := s.mustCall(admin, grpcsvc.MethodListOrders, map[string]any{"statuses": []any{string(domain.OrderStatusClosed)}})
	s.Require().Len(field(listed, "orders").GetListValue().GetValues(), 2)

	mine := s.mustCall(bob, grpcsvc.MethodListMyOrders, map[string]any{})
	s.Require().Len(field(mine, "orders").GetListValue().GetValues(), 1)

	_, err := s.call(bob, grpcsvc.MethodListOrders, map[string]any{})
	s.requireCode(err, codes.PermissionDenied)

	current, consistent := s.stock("notebook")
	s.Require().EqualValues(10, current)
	s.Require().True(consistent)
}

func (s *OrderLifecycleTestSuite) TestCreateOrderReplaysIdempotencyKey() {
	s.mustCall(alice, grpcsvc.MethodPutCartItem, map[string]any{"product_id": "notebook", "quantity": 1})

	ctx := metadata.AppendToOutgoingContext(grpcsvc.CallerMetadata(s.ctx, alice), grpcsvc.HeaderIdempotencyKey, "checkout-1")
	first, err := s.client.Call(ctx, grpcsvc.MethodCreateOrder, map[string]any{})
	s.Require().NoError(err)
	second, err := s.client.Call(ctx, grpcsvc.MethodCreateOrder, map[string]any{})
	s.Require().NoError(err)
	s.Require().Equal(field(first, "order", "id").GetStringValue(), field(second, "order", "id").GetStringValue())

	_, err = s.client.Call(ctx, grpcsvc.MethodCreateOrder, map[string]any{"coupon_code": "WELCOME"})
	s.Require().Error(err, "same key with a different request is rejected")

	mine := s.mustCall(alice, grpcsvc.MethodListMyOrders, map[string]any{})
	s.Require().Len(field(mine, "orders").GetListValue().GetValues(), 1)

	_, err = s.call(alice, grpcsvc.MethodCreateOrder, map[string]any{})
	s.requireCode(err, codes.FailedPrecondition)
}

func (s *OrderLifecycleTestSuite) TestManualOrderByAdmin() {
	resp := s.mustCall(admin, grpcsvc.MethodCreateManualOrder, map[string]any{
		"user_id":      bob.UserID,
		"items":        []any{map[string]any{"product_id": "notebook", "quantity": 1, "unit_price": 20000}},
		"shipping_fee": 0,
	})
	id := field(resp, "order", "id").GetStringValue()
	s.Require().Equal(bob.UserID, field(resp, "order", "user_id").GetStringValue())
	s.Require().EqualValues(0, field(resp, "order", "shipping_fee").GetNumberValue())

	s.mustCall(bob, grpcsvc.MethodGetOrder, map[string]any{"order_id": id})
	_, err := s.call(alice, grpcsvc.MethodGetOrder, map[string]any{"order_id": id})
	s.Require().Error(err)

	_, err = s.call(alice, grpcsvc.MethodCreateManualOrder, map[string]any{
		"user_id": alice.UserID,
		"items":   []any{map[string]any{"product_id": "notebook", "quantity": 1, "unit_price": 1}},
	})
	s.requireCode(err, codes.PermissionDenied)
}
