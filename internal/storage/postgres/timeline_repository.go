package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// timelineRepository пишет журнал заказа в timeline_events. Порядок чтения задаёт BIGSERIAL id при равном времени.
type timelineRepository struct {
	q dbtx
}

func (r *timelineRepository) Append(ctx context.Context, e domain.TimelineEvent) error {
	at := e.Occurred
	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO timeline_events (order_id, type, reason, actor, occurred) VALUES ($1, $2, $3, $4, $5)`,
		e.OrderID, e.Type, e.Reason, e.Actor, at.UTC())
	if err != nil {
		return fmt.Errorf("append %s to timeline of order %s: %w", e.Type, e.OrderID, err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT type, reason, actor, occurred FROM timeline_events WHERE order_id = $1 ORDER BY occurred, id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	out := []domain.TimelineEvent{}
	for rows.Next() {
		e := domain.TimelineEvent{OrderID: orderID}
		if err := rows.Scan(&e.Type, &e.Reason, &e.Actor, &e.Occurred); err != nil {
			return nil, fmt.Errorf("timeline of order %s: scan: %w", orderID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline of order %s: %w", orderID, err)
	}
	return out, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
