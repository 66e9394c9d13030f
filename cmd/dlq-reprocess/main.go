// Команда dlq-reprocess просматривает DLQ и возвращает записи в исходные topics.
// По умолчанию работает в режиме dry-run и только печатает сводку.
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

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

const brokersEnv = "FULFILLMENT_KAFKA_BROKERS"

// sourceAll отключает фильтр по источнику записи.
const sourceAll = "all"

type options struct {
	brokers     []string
	dlqTopic    string
	router      kafka.TopicRouter
	source      string
	limit       int
	execute     bool
	tail        bool
	idleTimeout time.Duration
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.WithError(err).Error("dlq reprocess failed")
		os.Exit(1)
	}
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	var (
		opts    options
		brokers string
	)
	fs.StringVar(&brokers, "brokers", getenv(brokersEnv), "comma-separated Kafka brokers")
	fs.StringVar(&opts.dlqTopic, "dlq-topic", kafka.TopicDeadLetterQueue, "dead letter topic to scan")
	fs.StringVar(&opts.router.OrderTopic, "order-topic", kafka.TopicOrderEvents, "target topic for order events")
	fs.StringVar(&opts.router.PaymentTopic, "payment-topic", kafka.TopicPaymentEvents, "target topic for payment events")
	fs.StringVar(&opts.source, "source", sourceAll, "replay only one source: all, consumer or outbox")
	fs.IntVar(&opts.limit, "limit", 100, "max records to scan across all partitions")
	fs.BoolVar(&opts.execute, "execute", false, "publish records instead of a dry run")
	fs.BoolVar(&opts.tail, "tail", false, "scan the newest records of each partition")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", 2*time.Second, "stop reading a partition after this much silence")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			opts.brokers = append(opts.brokers, b)
		}
	}

	var errs []error
	if len(opts.brokers) == 0 {
		errs = append(errs, fmt.Errorf("no kafka brokers: pass -brokers or set %s", brokersEnv))
	}
	if strings.TrimSpace(opts.dlqTopic) == "" {
		errs = append(errs, errors.New("-dlq-topic must not be empty"))
	}
	if strings.TrimSpace(opts.router.OrderTopic) == "" || strings.TrimSpace(opts.router.PaymentTopic) == "" {
		errs = append(errs, errors.New("-order-topic and -payment-topic must not be empty"))
	}
	switch opts.source {
	case sourceAll, kafka.ReplaySourceConsumer, kafka.ReplaySourceOutbox:
	default:
		errs = append(errs, fmt.Errorf("unknown -source %q", opts.source))
	}
	if opts.limit <= 0 {
		errs = append(errs, errors.New("-limit must be positive"))
	}
	if opts.idleTimeout <= 0 {
		errs = append(errs, errors.New("-idle-timeout must be positive"))
	}
	return opts, errors.Join(errs...)
}

// openSource подменяется в тестах.
var openSource = func(opts options) (deadLetterSource, replaySink, error) {
	src, err := dialSource(opts.brokers)
	if err != nil {
		return nil, nil, err
	}
	if !opts.execute {
		return src, nil, nil
	}
	sink, err := dialSink(opts.brokers)
	if err != nil {
		_ = src.Close()
		return nil, nil, err
	}
	return src, sink, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	src, sink, err := openSource(opts)
	if err != nil {
		return err
	}
	defer func() {
		if sink != nil {
			_ = sink.Close()
		}
		_ = src.Close()
	}()

	r := &replayer{
		router: opts.router,
		source: opts.source,
		sink:   sink,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithField("dlq_topic", opts.dlqTopic),
	}
	summary, err := scan(ctx, src, opts, r)
	summary.write(out, opts.execute)
	return err
}
