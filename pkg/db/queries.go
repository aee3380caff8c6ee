package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"execution-core/internal/order"
	"execution-core/internal/risk"
)

// ErrNoAmbiguousOrder is returned by ResolveOrder when no unresolved
// ambiguous row matches the order id.
var ErrNoAmbiguousOrder = errors.New("no unresolved ambiguous order with that id")

// OrderRecord is one row of the order-history audit log.
type OrderRecord struct {
	OrderID     string
	RequestID   string
	Asset       string
	Symbol      string
	Side        string
	Kind        string
	Quantity    float64
	Price       float64
	Status      string
	Success     bool
	ErrorKind   string
	Message     string
	Ticket      string
	FillPrice   float64
	Track       string
	ExecutionMS float64
	Resolved    bool
	ResolvedBy  string
	Disposition string
	CreatedAt   time.Time
}

// RecordResult appends one order outcome to the audit log. Satisfies the
// dispatcher's Auditor interface.
func (s *Store) RecordResult(ctx context.Context, o *order.Order, res order.Result) error {
	var errKind string
	if res.ErrorKind != nil {
		errKind = string(*res.ErrorKind)
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO order_history (
			order_id, request_id, asset, symbol, side, kind, quantity, price,
			status, success, error_kind, message, ticket, fill_price, track, execution_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, res.RequestID, string(o.Asset), o.Symbol, string(o.Side), string(o.Kind),
		o.Quantity, o.Price, string(res.Status), boolToInt(res.Success), errKind,
		res.Message, res.Ticket, res.FillPrice, res.Track,
		float64(res.ExecutionTime.Nanoseconds())/1e6,
	)
	return err
}

// ResultEntry is one buffered order outcome awaiting persistence.
type ResultEntry struct {
	Order  *order.Order
	Result order.Result
}

// RecordBatch appends many order outcomes in a single transaction. Used by
// the batching auditor to absorb submission bursts.
func (s *Store) RecordBatch(ctx context.Context, entries []ResultEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO order_history (
			order_id, request_id, asset, symbol, side, kind, quantity, price,
			status, success, error_kind, message, ticket, fill_price, track, execution_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, e := range entries {
		o, res := e.Order, e.Result
		var errKind string
		if res.ErrorKind != nil {
			errKind = string(*res.ErrorKind)
		}
		if _, err := stmt.ExecContext(ctx,
			o.ID, res.RequestID, string(o.Asset), o.Symbol, string(o.Side), string(o.Kind),
			o.Quantity, o.Price, string(res.Status), boolToInt(res.Success), errKind,
			res.Message, res.Ticket, res.FillPrice, res.Track,
			float64(res.ExecutionTime.Nanoseconds())/1e6,
		); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RecordBreakerEvent appends one circuit-breaker transition.
func (s *Store) RecordBreakerEvent(ctx context.Context, state risk.BreakerState) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO breaker_events (engaged, reason, operator) VALUES (?, ?, ?)
	`, boolToInt(state.Engaged), state.Reason, state.ClearedBy)
	return err
}

// ResolveOrder marks an ambiguous order's outcome as settled by manual
// inquiry. disposition records what the operator established (filled,
// unfilled, closed out). Resolved rows leave the inquiry backlog.
func (s *Store) ResolveOrder(ctx context.Context, orderID, operator, disposition string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE order_history SET resolved = 1, resolved_by = ?, disposition = ?
		WHERE order_id = ? AND error_kind = ? AND resolved = 0
	`, operator, disposition, orderID, string(order.KindAmbiguous))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoAmbiguousOrder
	}
	return nil
}

// OrderHistory returns the newest audit rows, most recent first.
func (s *Store) OrderHistory(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT order_id, request_id, asset, symbol, side, kind, quantity, price,
		       status, success, error_kind, message, ticket, fill_price, track,
		       execution_ms, resolved, resolved_by, disposition, created_at
		FROM order_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRecords(rows)
}

// AmbiguousOrders returns audit rows whose outcome is still unresolved,
// feeding the manual inquiry/reconciliation flow. Rows an operator has
// resolved via ResolveOrder are excluded.
func (s *Store) AmbiguousOrders(ctx context.Context) ([]OrderRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT order_id, request_id, asset, symbol, side, kind, quantity, price,
		       status, success, error_kind, message, ticket, fill_price, track,
		       execution_ms, resolved, resolved_by, disposition, created_at
		FROM order_history WHERE error_kind = ? AND resolved = 0 ORDER BY id DESC
	`, string(order.KindAmbiguous))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRecords(rows)
}

func scanOrderRecords(rows *sql.Rows) ([]OrderRecord, error) {
	var out []OrderRecord
	for rows.Next() {
		var r OrderRecord
		var success, resolved int
		if err := rows.Scan(
			&r.OrderID, &r.RequestID, &r.Asset, &r.Symbol, &r.Side, &r.Kind,
			&r.Quantity, &r.Price, &r.Status, &success, &r.ErrorKind, &r.Message,
			&r.Ticket, &r.FillPrice, &r.Track, &r.ExecutionMS,
			&resolved, &r.ResolvedBy, &r.Disposition, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.Success = success == 1
		r.Resolved = resolved == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
