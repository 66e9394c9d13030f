package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/fulfillment/internal/service/grpc"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
)

// scenarioMethod — псевдо-метод, под которым учитывается сценарий целиком.
const scenarioMethod = "scenario"

var loadAdmin = domain.Caller{UserID: "loadtest-admin", Role: domain.RoleAdmin}

// flow — набор шагов одного сценария.
type flow string

const (
	flowCheckout          flow = "checkout"
	flowCheckoutPay       flow = "checkout-pay"
	flowCheckoutPayCancel flow = "checkout-pay-cancel"
)

func parseFlow(v string) (flow, error) {
	switch f := flow(strings.TrimSpace(v)); f {
	case flowCheckout, flowCheckoutPay, flowCheckoutPayCancel:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported mode %q", v)
	}
}

type caller interface {
	Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error)
}

var errEmptyOrder = errors.New("create response has no order id or number")

// scenario — один покупатель: корзина, заказ и, по режиму, оплата с отменой.
type scenario struct {
	client caller
	opts   options
	stats  *stats
	runID  string
	index  int

	orderID     string
	orderNumber string
	orderTotal  int64
}

func (s *scenario) buyer() domain.Caller {
	return domain.Caller{UserID: fmt.Sprintf("%s-%s-%d", s.opts.buyerPrefix, s.runID, s.index), Role: domain.RoleBuyer}
}

func (s *scenario) key(op string) string {
	return fmt.Sprintf("lt-%s-%s-%d", op, s.runID, s.index)
}

func (s *scenario) run(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { s.stats.observe(scenarioMethod, time.Since(start), err) }()

	buyer := s.buyer()
	if _, err = s.call(ctx, buyer, "", grpcsvc.MethodPutCartItem, map[string]any{
		"product_id": s.opts.product,
		"quantity":   s.opts.quantity,
	}); err != nil {
		return err
	}

	resp, err := s.call(ctx, buyer, s.key("create"), grpcsvc.MethodCreateOrder, map[string]any{})
	if err != nil {
		return err
	}
	order := resp.GetFields()["order"].GetStructValue().GetFields()
	s.orderID = order["id"].GetStringValue()
	s.orderNumber = order["number"].GetStringValue()
	s.orderTotal = int64(order["total"].GetNumberValue())
	if s.orderID == "" || s.orderNumber == "" {
		return status.Error(codes.Internal, errEmptyOrder.Error())
	}
	if s.opts.flow == flowCheckout {
		return nil
	}

	if _, err = s.call(ctx, buyer, s.key("pay"), grpcsvc.MethodInitiatePayment, map[string]any{"order_id": s.orderID}); err != nil {
		return err
	}
	if _, err = s.call(ctx, domain.Caller{}, "", grpcsvc.MethodProcessPaymentCallback, s.settlement()); err != nil {
		return err
	}

	if s.cancels() {
		_, err = s.call(ctx, buyer, "", grpcsvc.MethodCancelOrder, map[string]any{
			"order_id": s.orderID,
			"reason":   "load-cancel",
		})
	}
	return err
}

// cancels решает детерминированно по номеру сценария, чтобы доля отмен была точной.
func (s *scenario) cancels() bool {
	switch s.opts.flow {
	case flowCheckoutPayCancel:
		return true
	case flowCheckoutPay:
		return s.index%100 < s.opts.cancelPercent
	default:
		return false
	}
}

// settlement — подписанное уведомление шлюза об успешной оплате заказа.
func (s *scenario) settlement() map[string]any {
	gross := payment.FormatGrossAmount(s.orderTotal)
	return map[string]any{
		"transaction_id":     s.key("trx"),
		"order_id":           s.orderNumber,
		"transaction_status": domain.GatewayStatusSettlement,
		"status_code":        "200",
		"gross_amount":       gross,
		"payment_type":       "bank_transfer",
		"signature_key":      payment.NewVerifier(s.opts.serverKey).Sign(s.orderNumber, "200", gross),
	}
}

// call выполняет один RPC от имени who. Пустой who означает анонимный вызов.
func (s *scenario) call(ctx context.Context, who domain.Caller, idemKey, method string, req map[string]any) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	if who.UserID != "" {
		ctx = grpcsvc.CallerMetadata(ctx, who)
	}
	if idemKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, grpcsvc.HeaderIdempotencyKey, idemKey)
	}

	start := time.Now()
	resp, err := s.client.Call(ctx, method, req)
	s.stats.observe(method, time.Since(start), err)
	return resp, err
}
