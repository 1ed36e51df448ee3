package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"algo-exec-go/order"
)

// Options SQLite 日志参数
type Options struct {
	Buffer        int           // 事件缓冲，默认 4096；满时丢弃
	BatchSize     int           // 单个事务写入条数，默认 256
	FlushInterval time.Duration // 默认 200ms
	Label         string        // 运行标签（run / replay）
	Logger        *zap.Logger
	OnDrop        func()
}

// SQLite 追加写入的订单事件日志，实现 order.Listener。
type SQLite struct {
	db    *sql.DB
	runID string
	opts  Options

	buf     chan order.Event
	stopped atomic.Bool
	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

func NewSQLite(path string, opts Options) (*SQLite, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = 4096
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	j := &SQLite{
		db:    db,
		runID: ulid.Make().String(),
		opts:  opts,
		buf:   make(chan order.Event, opts.Buffer),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if _, err := db.Exec(`INSERT INTO runs (run_id, started_at, label) VALUES (?, ?, ?)`,
		j.runID, time.Now().UTC(), opts.Label); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal run: %w", err)
	}
	return j, nil
}

// RunID 本次运行的 ULID。
func (j *SQLite) RunID() string { return j.runID }

// OnOrderEvent 入队，不阻塞；缓冲满或已停止时丢弃并计数。
func (j *SQLite) OnOrderEvent(ev order.Event) {
	if j.stopped.Load() {
		j.drop()
		return
	}
	select {
	case j.buf <- ev:
	default:
		j.drop()
	}
}

func (j *SQLite) drop() {
	j.dropped.Add(1)
	if j.opts.OnDrop != nil {
		j.opts.OnDrop()
	}
}

func (j *SQLite) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return nil
	}
	j.started = true
	go j.loop()
	j.opts.Logger.Info("journal started", zap.String("run_id", j.runID))
	return nil
}

// Stop 写完缓冲中的事件后关闭数据库。
func (j *SQLite) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopped.Swap(true) {
		return nil
	}
	if j.started {
		close(j.stop)
		<-j.done
	}
	st := j.Stats()
	j.opts.Logger.Info("journal stopped",
		zap.String("run_id", j.runID),
		zap.Int64("written", st.Written),
		zap.Int64("dropped", st.Dropped))
	return j.db.Close()
}

func (j *SQLite) Health() error {
	if j.stopped.Load() {
		return errors.New("journal stopped")
	}
	return j.db.Ping()
}

func (j *SQLite) Stats() Stats {
	return Stats{Written: j.written.Load(), Dropped: j.dropped.Load(), Failed: j.failed.Load()}
}

func (j *SQLite) loop() {
	defer close(j.done)
	ticker := time.NewTicker(j.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]order.Event, 0, j.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.write(batch); err != nil {
			j.failed.Add(int64(len(batch)))
			j.opts.Logger.Error("journal write failed", zap.Int("events", len(batch)), zap.Error(err))
		} else {
			j.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-j.buf:
			batch = append(batch, ev)
			if len(batch) >= j.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.stop:
			for {
				select {
				case ev := <-j.buf:
					batch = append(batch, ev)
					if len(batch) >= j.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (j *SQLite) write(events []order.Event) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO order_events
		(run_id, seq, kind, order_id, instrument, side, strategy_id, status, quantity, filled_qty,
		 avg_price, fill_seq, fill_qty, fill_price, reason, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		r := FromEvent(j.runID, ev)
		var fillSeq, fillQty, fillPrice any
		if r.Fill != nil {
			fillSeq, fillQty, fillPrice = int64(r.Fill.Seq), r.Fill.Quantity, r.Fill.Price
		}
		if _, err := stmt.Exec(
			r.RunID, int64(r.Seq), string(r.Kind), int64(r.OrderID), r.Instrument, string(r.Side),
			r.StrategyID, string(r.Status), r.Quantity, r.FilledQty, r.AvgPrice,
			fillSeq, fillQty, fillPrice, string(r.Reason), r.Detail, r.At.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
