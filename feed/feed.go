// Package feed adapts external market data sources into a stream of market.Tick.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"algo-exec-go/market"
)

// ErrBadRecord 无法解析的行情记录。
var ErrBadRecord = errors.New("bad tick record")

// Feed 行情源：把 tick 按到达顺序写入 out，直到数据耗尽或 ctx 结束。
type Feed interface {
	Run(ctx context.Context, out chan<- market.Tick) error
}

// Columns 行情文件的列顺序（首行可以是同名表头）。
var Columns = []string{"ts", "instrument", "bid", "bid_size", "ask", "ask_size", "last", "last_size", "direction"}

// ParseRecord 解析一行：ts,instrument,bid,bid_size,ask,ask_size,last,last_size[,direction]。
// ts accepts RFC3339 (with optional fractional seconds) or unix milliseconds.
func ParseRecord(row []string) (market.Tick, error) {
	if len(row) < 8 || len(row) > 9 {
		return market.Tick{}, fmt.Errorf("%w: expected 8 or 9 columns, got %d", ErrBadRecord, len(row))
	}
	ts, err := ParseTime(row[0])
	if err != nil {
		return market.Tick{}, err
	}
	tk := market.Tick{Instrument: strings.TrimSpace(row[1]), Ts: ts}
	if tk.Instrument == "" {
		return market.Tick{}, fmt.Errorf("%w: empty instrument", ErrBadRecord)
	}
	fields := []*float64{&tk.BidPrice, &tk.BidSize, &tk.AskPrice, &tk.AskSize, &tk.LastPrice, &tk.LastSize}
	for i, dst := range fields {
		s := strings.TrimSpace(row[i+2])
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return market.Tick{}, fmt.Errorf("%w: column %s=%q", ErrBadRecord, Columns[i+2], s)
		}
		*dst = v
	}
	if len(row) == 9 {
		d, err := ParseDirection(row[8])
		if err != nil {
			return market.Tick{}, err
		}
		tk.Direction = d
	}
	if tk.Price() <= 0 {
		return market.Tick{}, fmt.Errorf("%w: %s has no price", ErrBadRecord, tk.Instrument)
	}
	return tk, nil
}

// ParseTime 解析 RFC3339 或 unix 毫秒时间戳。
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", ErrBadRecord, s)
	}
	return ts.UTC(), nil
}

// ParseDirection 解析主动方向提示；空值表示未知，由 Tick.Classify 推断。
func ParseDirection(s string) (market.Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return market.DirUnknown, nil
	case "B", "BUY", "1":
		return market.DirBuy, nil
	case "S", "SELL", "-1":
		return market.DirSell, nil
	default:
		return market.DirUnknown, fmt.Errorf("%w: direction %q", ErrBadRecord, s)
	}
}

// send 写入 out，ctx 结束时返回其错误。
func send(ctx context.Context, out chan<- market.Tick, tk market.Tick) error {
	select {
	case out <- tk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
