package health

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func result(name string, start time.Time, status Status, msg string) Check {
	d := time.Since(start)
	return Check{Name: name, Status: status, Message: msg, DurationMs: d.Milliseconds(), Duration: d}
}

// FuncChecker превращает функцию в проверку: ошибка означает unhealthy.
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) error
}

func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	if err := c.fn(ctx); err != nil {
		return result(c.name, start, StatusUnhealthy, err.Error())
	}
	return result(c.name, start, StatusHealthy, "")
}

// Pinger — хранилище, доступность которого проверяется запросом.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingChecker проверяет хранилище через Ping.
func NewPingChecker(name string, p Pinger) *FuncChecker {
	return NewFuncChecker(name, p.Ping)
}

// OutboxChecker сообщает degraded, когда backlog outbox больше maxPending
// или старейшее событие ждёт дольше maxAge. Нулевые пороги отключены.
type OutboxChecker struct {
	repo       domain.OutboxRepository
	maxPending int
	maxAge     time.Duration
	now        func() time.Time
}

func NewOutboxChecker(repo domain.OutboxRepository, maxPending int, maxAge time.Duration) *OutboxChecker {
	return &OutboxChecker{repo: repo, maxPending: maxPending, maxAge: maxAge, now: time.Now}
}

func (c *OutboxChecker) Check(ctx context.Context) Check {
	const name = "outbox"
	start := time.Now()

	stats, err := c.repo.Stats(ctx)
	if err != nil {
		return result(name, start, StatusUnhealthy, err.Error())
	}
	if c.maxPending > 0 && stats.PendingCount > c.maxPending {
		return result(name, start, StatusDegraded, fmt.Sprintf("%d pending events, limit %d", stats.PendingCount, c.maxPending))
	}
	if c.maxAge > 0 && !stats.OldestPendingAt.IsZero() {
		if age := c.now().Sub(stats.OldestPendingAt); age > c.maxAge {
			return result(name, start, StatusDegraded, fmt.Sprintf("oldest pending event waits %s", age.Round(time.Second)))
		}
	}
	return result(name, start, StatusHealthy, "")
}
