package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/ordering"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

const serverKey = "SB-Mid-server-test"

var (
	admin = domain.Caller{UserID: "admin-1", Role: domain.RoleAdmin}
	buyer = domain.Caller{UserID: "buyer-1", Role: domain.RoleBuyer}
)

type ProcessorSuite struct {
	suite.Suite
	ctx       context.Context
	store     *memory.Store
	gateway   *MockGateway
	initiator *Initiator
	processor *Processor
	verifier  *Verifier
	order     domain.Order
	payment   domain.Payment
}

func TestProcessorSuite(t *testing.T) {
	suite.Run(t, new(ProcessorSuite))
}

func (s *ProcessorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.gateway = NewMockGateway()
	s.verifier = NewVerifier(serverKey)
	s.initiator = NewInitiator(InitiatorDependencies{Tx: s.store, Gateway: s.gateway})
	s.processor = NewProcessor(ProcessorDependencies{Tx: s.store, Verifier: s.verifier})

	_, err := inventory.NewService(s.store, nil, nil).Register(s.ctx, admin, domain.Product{ID: "p1", Price: 10_000, StockQuantity: 5})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Repos().Carts.Upsert(s.ctx, domain.CartItem{UserID: buyer.UserID, ProductID: "p1", Quantity: 3}))

	s.order, err = ordering.NewOrchestrator(ordering.Dependencies{Tx: s.store}).CreateFromCart(s.ctx, buyer, ordering.Options{})
	s.Require().NoError(err)
	s.payment, err = s.initiator.Initiate(s.ctx, buyer, s.order.ID)
	s.Require().NoError(err)
}

func (s *ProcessorSuite) callback(status string) Callback {
	gross := FormatGrossAmount(s.order.Total)
	cb := Callback{
		TransactionID: "trx-1",
		OrderNumber:   s.order.Number,
		GatewayStatus: status,
		StatusCode:    "200",
		GrossAmount:   gross,
		PaymentType:   "bank_transfer",
		RawPayload:    []byte(`{"transaction_status":"` + status + `"}`),
	}
	cb.Signature = s.verifier.Sign(cb.OrderNumber, cb.StatusCode, cb.GrossAmount)
	return cb
}

func (s *ProcessorSuite) storedPayment() domain.Payment {
	p, err := s.store.Repos().Payments.GetByOrderID(s.ctx, s.order.ID)
	s.Require().NoError(err)
	return p
}

func (s *ProcessorSuite) storedOrder() domain.Order {
	o, err := s.store.Repos().Orders.Get(s.ctx, s.order.ID)
	s.Require().NoError(err)
	return o
}

func (s *ProcessorSuite) TestSettlementMarksPaymentAndOrderPaid() {
	result, err := s.processor.Process(s.ctx, s.callback(domain.GatewayStatusSettlement))
	s.Require().NoError(err)

	s.Equal(OutcomeApplied, result.Outcome)
	s.Equal(domain.PaymentStatusSuccess, result.PaymentStatus)
	s.Equal(domain.OrderStatusPaid, result.OrderStatus)

	payment := s.storedPayment()
	s.Equal(domain.PaymentStatusSuccess, payment.Status)
	s.Require().NotNil(payment.PaidAt)
	s.Equal("trx-1", payment.TransactionID)
	s.Equal("bank_transfer", payment.PaymentType)
	s.JSONEq(`{"transaction_status":"settlement"}`, string(payment.GatewayResponse))

	order := s.storedOrder()
	s.Equal(domain.OrderStatusPaid, order.Status)

	timeline, err := s.store.Repos().Timeline.List(s.ctx, s.order.ID)
	s.Require().NoError(err)
	types := make([]string, 0, len(timeline))
	for _, e := range timeline {
		types = append(types, e.Type)
	}
	s.Equal([]string{
		domain.TimelineOrderCreated, domain.TimelinePaymentCreated, domain.TimelinePaymentUpdated, domain.TimelineStatusChanged,
	}, types)
}

func (s *ProcessorSuite) TestReplayIsNoop() {
	cb := s.callback(domain.GatewayStatusCapture)
	_, err := s.processor.Process(s.ctx, cb)
	s.Require().NoError(err)
	first := s.storedOrder()

	result, err := s.processor.Process(s.ctx, cb)
	s.Require().NoError(err)
	s.Equal(OutcomeDuplicate, result.Outcome)
	s.Equal(first.Version, s.storedOrder().Version)
}

func (s *ProcessorSuite) TestSuccessAbsorbsLaterStatuses() {
	_, err := s.processor.Process(s.ctx, s.callback(domain.GatewayStatusSettlement))
	s.Require().NoError(err)
	paidAt := s.storedPayment().PaidAt

	for _, status := range []string{domain.GatewayStatusExpire, domain.GatewayStatusRefund, domain.GatewayStatusPending} {
		result, err := s.processor.Process(s.ctx, s.callback(status))
		s.Require().NoError(err)
		s.Equal(OutcomeDuplicate, result.Outcome)
	}

	payment := s.storedPayment()
	s.Equal(domain.PaymentStatusSuccess, payment.Status)
	s.Equal(paidAt, payment.PaidAt)
	s.Equal(domain.OrderStatusPaid, s.storedOrder().Status)
}

func (s *ProcessorSuite) TestFailureStatusesDoNotTouchOrder() {
	result, err := s.processor.Process(s.ctx, s.callback(domain.GatewayStatusDeny))
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusFailed, result.PaymentStatus)
	s.Nil(s.storedPayment().PaidAt)
	s.Equal(domain.OrderStatusNew, s.storedOrder().Status)

	result, err = s.processor.Process(s.ctx, s.callback(domain.GatewayStatusRefund))
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusCancelled, result.PaymentStatus)
}

func (s *ProcessorSuite) TestFraudChallengeStaysPending() {
	cb := s.callback(domain.GatewayStatusCapture)
	cb.FraudStatus = domain.FraudStatusChallenge

	result, err := s.processor.Process(s.ctx, cb)
	s.Require().NoError(err)
	s.Equal(OutcomeDuplicate, result.Outcome)
	s.Equal(domain.PaymentStatusPending, s.storedPayment().Status)
}

func (s *ProcessorSuite) TestInvalidSignatureHasNoSideEffects() {
	cb := s.callback(domain.GatewayStatusSettlement)
	cb.Signature = s.verifier.Sign(cb.OrderNumber, cb.StatusCode, "1.00")

	result, err := s.processor.Process(s.ctx, cb)
	s.ErrorIs(err, domain.ErrInvalidSignature)
	s.Equal(OutcomeInvalidSignature, result.Outcome)
	s.Equal(domain.PaymentStatusPending, s.storedPayment().Status)

	cb.Signature = ""
	_, err = s.processor.Process(s.ctx, cb)
	s.ErrorIs(err, domain.ErrInvalidSignature)

	unconfigured := NewProcessor(ProcessorDependencies{Tx: s.store, Verifier: NewVerifier("")})
	_, err = unconfigured.Process(s.ctx, s.callback(domain.GatewayStatusSettlement))
	s.ErrorIs(err, domain.ErrInvalidSignature)
}

func (s *ProcessorSuite) TestAmountMismatchRejected() {
	cb := s.callback(domain.GatewayStatusSettlement)
	cb.GrossAmount = FormatGrossAmount(s.order.Total - 1)
	cb.Signature = s.verifier.Sign(cb.OrderNumber, cb.StatusCode, cb.GrossAmount)

	result, err := s.processor.Process(s.ctx, cb)
	s.ErrorIs(err, domain.ErrValidation)
	s.Equal(OutcomeRejected, result.Outcome)
	s.Equal(domain.PaymentStatusPending, s.storedPayment().Status)
	s.Equal(domain.OrderStatusNew, s.storedOrder().Status)
}

func (s *ProcessorSuite) TestUnknownGatewayStatusIgnored() {
	result, err := s.processor.Process(s.ctx, s.callback("authorize"))
	s.Require().NoError(err)
	s.Equal(OutcomeIgnored, result.Outcome)
	s.Equal(domain.PaymentStatusPending, s.storedPayment().Status)
}

func (s *ProcessorSuite) TestUnknownOrderOrPayment() {
	cb := s.callback(domain.GatewayStatusSettlement)
	cb.OrderNumber = "9901010001"
	cb.Signature = s.verifier.Sign(cb.OrderNumber, cb.StatusCode, cb.GrossAmount)

	result, err := s.processor.Process(s.ctx, cb)
	s.ErrorIs(err, domain.ErrNotFound)
	s.Equal(OutcomeNotFound, result.Outcome)

	s.Require().NoError(s.store.Repos().Carts.Upsert(s.ctx, domain.CartItem{UserID: buyer.UserID, ProductID: "p1", Quantity: 1}))
	unpaid, err := ordering.NewOrchestrator(ordering.Dependencies{Tx: s.store}).CreateFromCart(s.ctx, buyer, ordering.Options{})
	s.Require().NoError(err)
	cb.OrderNumber = unpaid.Number
	cb.Signature = s.verifier.Sign(cb.OrderNumber, cb.StatusCode, cb.GrossAmount)

	_, err = s.processor.Process(s.ctx, cb)
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *ProcessorSuite) TestSuccessAfterOrderClosedLeavesOrder() {
	err := s.store.WithinTx(s.ctx, func(ctx context.Context, repos domain.Repositories) error {
		_, err := s.processor.lifecycle.TransitionInTx(ctx, repos, s.order.ID, domain.OrderStatusClosed, admin, "")
		return err
	})
	s.Require().NoError(err)

	result, err := s.processor.Process(s.ctx, s.callback(domain.GatewayStatusSettlement))
	s.Require().NoError(err)
	s.Equal(OutcomeApplied, result.Outcome)
	s.Equal(domain.OrderStatusClosed, s.storedOrder().Status)
}

// staleNumberLookup отдаёт по номеру снимок заказа, сделанный до конкурирующей отмены,
// как несблокированное чтение в READ COMMITTED.
type staleNumberLookup struct {
	domain.OrderRepository
	snapshot domain.Order
}

func (r staleNumberLookup) GetByNumber(context.Context, string) (domain.Order, error) {
	return r.snapshot, nil
}

type staleTx struct {
	inner    domain.TxManager
	snapshot domain.Order
}

func (t staleTx) WithinTx(ctx context.Context, fn domain.TxFunc) error {
	return t.inner.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		repos.Orders = staleNumberLookup{OrderRepository: repos.Orders, snapshot: t.snapshot}
		return fn(ctx, repos)
	})
}

func (t staleTx) Repos() domain.Repositories { return t.inner.Repos() }

func (s *ProcessorSuite) TestSettlementAfterConcurrentCancelKeepsOrderClosed() {
	snapshot := s.storedOrder()
	s.Require().Equal(domain.OrderStatusNew, snapshot.Status)

	_, err := lifecycle.NewManager(lifecycle.Dependencies{Tx: s.store}).Cancel(s.ctx, s.order.ID, buyer, "changed my mind")
	s.Require().NoError(err)

	processor := NewProcessor(ProcessorDependencies{Tx: staleTx{inner: s.store, snapshot: snapshot}, Verifier: s.verifier})
	result, err := processor.Process(s.ctx, s.callback(domain.GatewayStatusSettlement))
	s.Require().NoError(err)

	s.Equal(OutcomeApplied, result.Outcome)
	s.Equal(domain.PaymentStatusSuccess, result.PaymentStatus)
	s.Equal(domain.OrderStatusClosed, result.OrderStatus)
	s.Equal(domain.PaymentStatusSuccess, s.storedPayment().Status)
	s.Equal(domain.OrderStatusClosed, s.storedOrder().Status)
}
