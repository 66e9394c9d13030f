package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpcsvc "github.com/vladislavdragonenkov/fulfillment/internal/service/grpc"
)

// run открывает соединения, заводит товар и прогоняет сценарии пулом воркеров.
func run(ctx context.Context, opts options) (report, error) {
	clients := make([]caller, 0, opts.connections)
	for i := 0; i < opts.connections; i++ {
		c, closer, err := dial(opts.addr)
		if err != nil {
			return report{}, fmt.Errorf("dial %s: %w", opts.addr, err)
		}
		defer closer.Close()
		clients = append(clients, c)
	}

	if err := seedProduct(ctx, clients[0], opts); err != nil {
		return report{}, fmt.Errorf("seed product %s: %w", opts.product, err)
	}

	started := time.Now()
	runID := fmt.Sprintf("%d-%d", started.UnixNano(), os.Getpid())
	st := newStats()

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(c caller) {
			defer wg.Done()
			for i := range jobs {
				sc := &scenario{client: c, opts: opts, stats: st, runID: runID, index: i}
				_ = sc.run(ctx)
			}
		}(clients[w%len(clients)])
	}
	feed(ctx, jobs, opts)
	wg.Wait()

	return st.report(started, time.Since(started))
}

// feed выдаёт номера сценариев, пока не исчерпан total, не истёк duration или не отменён ctx.
func feed(ctx context.Context, jobs chan<- int, opts options) {
	defer close(jobs)
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}
	for i := 0; opts.total == 0 || i < opts.total; i++ {
		select {
		case <-ctx.Done():
			return
		case jobs <- i:
		}
	}
}

// seedProduct регистрирует товар нагрузки. Уже заведённый товар не ошибка.
func seedProduct(ctx context.Context, c caller, opts options) error {
	if opts.seedStock == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	_, err := c.Call(grpcsvc.CallerMetadata(ctx, loadAdmin), grpcsvc.MethodRegisterProduct, map[string]any{
		"id":             opts.product,
		"name":           "load test product",
		"price":          opts.price,
		"stock_quantity": opts.seedStock,
	})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}
