// Command loadtest гоняет сценарии оформления заказа против gRPC API
// и печатает сводку задержек по методам.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcsvc "github.com/vladislavdragonenkov/fulfillment/internal/service/grpc"
)

const defaultTotal = 400

type options struct {
	addr        string
	total       int
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	flow        flow
	// cancelPercent — доля сценариев checkout-pay, которые отменяют оплаченный заказ.
	cancelPercent int
	product       string
	quantity      int64
	// seedStock > 0 заводит товар с таким остатком до прогона.
	seedStock   int64
	price       int64
	serverKey   string
	buyerPrefix string
	output      string
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var (
		o    options
		flow string
	)
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&o.addr, "addr", "localhost:50051", "gRPC address of the fulfillment service")
	fs.IntVar(&o.total, "total", 0, "scenarios to run; with -duration 0 means no cap, otherwise defaults to 400")
	fs.DurationVar(&o.duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&o.concurrency, "concurrency", 40, "parallel scenario workers")
	fs.IntVar(&o.connections, "connections", 20, "gRPC client connections shared by workers")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Second, "per-call timeout")
	fs.StringVar(&flow, "mode", string(flowCheckout), "checkout | checkout-pay | checkout-pay-cancel")
	fs.IntVar(&o.cancelPercent, "cancel-rate", 0, "percent of checkout-pay scenarios that cancel after payment")
	fs.StringVar(&o.product, "product", "sku-load", "product put into every cart")
	fs.Int64Var(&o.quantity, "quantity", 1, "quantity per cart")
	fs.Int64Var(&o.seedStock, "seed-stock", 0, "register the product with this stock before the run, 0 skips")
	fs.Int64Var(&o.price, "price", 10_000, "seeded product price in minor units")
	fs.StringVar(&o.serverKey, "server-key", getenv("FULFILLMENT_GATEWAY_SERVER_KEY"), "gateway key used to sign settlement callbacks")
	fs.StringVar(&o.buyerPrefix, "buyer-tag", "load", "buyer id prefix")
	fs.StringVar(&o.output, "output", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if o.duration == 0 && o.total == 0 {
		o.total = defaultTotal
	}
	f, err := parseFlow(flow)
	if err != nil {
		return options{}, err
	}
	o.flow = f
	o.product = strings.TrimSpace(o.product)
	o.buyerPrefix = strings.TrimSpace(o.buyerPrefix)
	return o, o.validate()
}

func (o options) validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	check(o.duration >= 0, "duration must not be negative")
	check(o.total >= 0, "total must not be negative")
	check(o.concurrency > 0 && o.connections > 0, "concurrency and connections must be positive")
	check(o.timeout > 0, "timeout must be positive")
	check(o.quantity > 0, "quantity must be positive")
	check(o.seedStock >= 0 && o.price >= 0, "seed-stock and price must not be negative")
	check(o.cancelPercent >= 0 && o.cancelPercent <= 100, "cancel-rate must be within 0..100")
	check(o.product != "", "product is required")
	check(o.buyerPrefix != "", "buyer-tag is required")
	check(o.flow == flowCheckout || strings.TrimSpace(o.serverKey) != "", "server-key is required to settle payments")
	return errors.Join(errs...)
}

// target описывает границу прогона для сводки.
func (o options) target() string {
	switch {
	case o.duration <= 0:
		return fmt.Sprintf("count:%d", o.total)
	case o.total > 0:
		return fmt.Sprintf("duration:%s,max-total:%d", o.duration, o.total)
	default:
		return fmt.Sprintf("duration:%s", o.duration)
	}
}

// dial открывает соединение с сервисом; в тестах подменяется.
var dial = func(addr string) (caller, io.Closer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return grpcsvc.NewClient(conn), conn, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := run(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
	r.print(os.Stdout, opts)
	if opts.output != "" {
		if err := r.save(opts.output); err != nil {
			fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
			os.Exit(1)
		}
	}
	if r.FailedScenarios > 0 {
		os.Exit(1)
	}
}
