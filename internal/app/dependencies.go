package app

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/cart"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/coupon"
	grpcsvc "github.com/vladislavdragonenkov/fulfillment/internal/service/grpc"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/journal"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/ordering"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/pricing"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/reorder"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/retry"
)

// Dependencies — прикладные сервисы, собранные поверх выбранного хранилища.
type Dependencies struct {
	Tx          domain.TxManager
	Orders      *ordering.Orchestrator
	Queries     *ordering.Queries
	Lifecycle   *lifecycle.Manager
	Reorder     *reorder.Assembler
	Payments    *payment.Initiator
	Callbacks   *payment.Processor
	Inventory   *inventory.Service
	Carts       *cart.Service
	Idempotency domain.IdempotencyRepository
	Metrics     *metrics.FulfillmentMetrics
	Logger      *log.Entry
}

// NewDependencies собирает сервисы. m может быть nil (метрики отключены).
func NewDependencies(cfg Config, tx domain.TxManager, idem domain.IdempotencyRepository, m *metrics.FulfillmentMetrics, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	taxRate, err := pricing.ParseTaxRate(cfg.TaxRate)
	if err != nil {
		return nil, fmt.Errorf("tax rate: %w", err)
	}
	calc := pricing.NewCalculator(pricing.Config{
		TaxRate:               taxRate,
		FlatShippingFee:       cfg.FlatShippingFee,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
	})

	var coupons coupon.Evaluator = coupon.Disabled{}
	if strings.TrimSpace(cfg.Coupons) != "" {
		static, err := coupon.ParseStatic(cfg.Coupons)
		if err != nil {
			return nil, fmt.Errorf("coupons: %w", err)
		}
		coupons = static
	}

	loc, err := time.LoadLocation(cfg.OrderNumberTimeZone)
	if err != nil {
		return nil, fmt.Errorf("order number time zone: %w", err)
	}

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		return nil, err
	}

	retryCfg := retry.DefaultConfig()
	if cfg.TxMaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.TxMaxAttempts
	}

	ledger := inventory.NewLedger(m)
	recorder := journal.NewRecorder(m)
	manager := lifecycle.NewManager(lifecycle.Dependencies{
		Tx:      tx,
		Ledger:  ledger,
		Journal: recorder,
		Metrics: m,
		Logger:  logger.WithField("component", "lifecycle"),
		Retry:   retryCfg,
	})

	return &Dependencies{
		Tx: tx,
		Orders: ordering.NewOrchestrator(ordering.Dependencies{
			Tx:         tx,
			Calculator: calc,
			Coupons:    coupons,
			Numbers:    ordering.NewNumberAllocator(loc),
			Ledger:     ledger,
			Journal:    recorder,
			Metrics:    m,
			Logger:     logger.WithField("component", "ordering"),
			Retry:      retryCfg,
			Currency:   cfg.Currency,
		}),
		Queries:   ordering.NewQueries(tx),
		Lifecycle: manager,
		Reorder:   reorder.NewAssembler(tx, logger.WithField("component", "reorder")),
		Payments: payment.NewInitiator(payment.InitiatorDependencies{
			Tx:       tx,
			Gateway:  gateway,
			Journal:  recorder,
			Metrics:  m,
			Logger:   logger.WithField("component", "payment-initiator"),
		}),
		Callbacks: payment.NewProcessor(payment.ProcessorDependencies{
			Tx:        tx,
			Verifier:  payment.NewVerifier(cfg.GatewayServerKey),
			Lifecycle: manager,
			Journal:   recorder,
			Metrics:   m,
			Logger:    logger.WithField("component", "payment-reconciliation"),
			Retry:     retryCfg,
		}),
		Inventory:   inventory.NewService(tx, ledger, logger.WithField("component", "inventory")),
		Carts:       cart.NewService(tx, logger.WithField("component", "cart")),
		Idempotency: idem,
		Metrics:     m,
		Logger:      logger,
	}, nil
}

// GRPCService публикует сервисы через gRPC.
func (d *Dependencies) GRPCService() *grpcsvc.FulfillmentService {
	return grpcsvc.NewFulfillmentService(grpcsvc.Dependencies{
		Orders:      d.Orders,
		Queries:     d.Queries,
		Lifecycle:   d.Lifecycle,
		Reorder:     d.Reorder,
		Payments:    d.Payments,
		Callbacks:   d.Callbacks,
		Inventory:   d.Inventory,
		Carts:       d.Carts,
		Idempotency: d.Idempotency,
		Logger:      d.Logger.WithField("component", "fulfillment-grpc"),
	})
}

func newGateway(cfg Config, logger *log.Entry) (payment.Gateway, error) {
	switch cfg.GatewayMode {
	case "", GatewayModeMock:
		logger.Warn("payment gateway runs in mock mode")
		return payment.NewMockGateway(), nil
	case GatewayModeSnap:
		gatewayLogger := logger.WithField("component", "snap-gateway")
		gw, err := payment.NewSnapGateway(payment.SnapConfig{
			BaseURL:   cfg.GatewayBaseURL,
			ServerKey: cfg.GatewayServerKey,
			Timeout:   cfg.GatewayTimeout,
			Breaker:   retry.NewCircuitBreaker(5, 30*time.Second, gatewayLogger),
			Logger:    gatewayLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("snap gateway: %w", err)
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unsupported gateway mode %q", cfg.GatewayMode)
	}
}
