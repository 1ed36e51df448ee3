package journal

import (
	"context"
	"database/sql"
	"time"

	"algo-exec-go/order"
)

// Records 按序号读取某次运行的全部事件。
func Records(ctx context.Context, db *sql.DB, runID string) ([]Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT seq, kind, order_id, instrument, side, strategy_id, status, quantity, filled_qty,
		       avg_price, fill_seq, fill_qty, fill_price, reason, detail, at
		FROM order_events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                          Record
			seq, orderID               int64
			kind, side, status, reason string
			fillSeq                    sql.NullInt64
			fillQty, fillPrice         sql.NullFloat64
			at                         time.Time
		)
		if err := rows.Scan(&seq, &kind, &orderID, &r.Instrument, &side, &r.StrategyID, &status,
			&r.Quantity, &r.FilledQty, &r.AvgPrice, &fillSeq, &fillQty, &fillPrice,
			&reason, &r.Detail, &at); err != nil {
			return nil, err
		}
		r.RunID = runID
		r.Seq = uint64(seq)
		r.Kind = order.EventKind(kind)
		r.OrderID = order.ID(orderID)
		r.Side = order.Side(side)
		r.Status = order.Status(status)
		r.Reason = order.RejectReason(reason)
		r.At = at.UTC()
		if fillSeq.Valid {
			r.Fill = &order.Fill{
				OrderID:  r.OrderID,
				Seq:      uint64(fillSeq.Int64),
				Quantity: fillQty.Float64,
				Price:    fillPrice.Float64,
				Ts:       r.At,
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Records reads this journal's own run.
func (j *SQLite) Records(ctx context.Context) ([]Record, error) {
	return Records(ctx, j.db, j.runID)
}

// Runs 列出所有运行 id（按开始时间）。
func Runs(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
