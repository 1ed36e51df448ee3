package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"algo-exec-go/market"
)

// CSVReader 逐行读取 tick 文件。
type CSVReader struct {
	r        *csv.Reader
	line     int
	sawFirst bool
}

func NewCSVReader(r io.Reader) *CSVReader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	return &CSVReader{r: cr}
}

// Next 返回下一条 tick；数据耗尽时 ok 为 false。
func (c *CSVReader) Next() (tk market.Tick, ok bool, err error) {
	for {
		row, err := c.r.Read()
		if errors.Is(err, io.EOF) {
			return market.Tick{}, false, nil
		}
		if err != nil {
			return market.Tick{}, false, err
		}
		c.line++
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if !c.sawFirst {
			c.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), Columns[0]) {
				continue
			}
		}
		tk, err := ParseRecord(row)
		if err != nil {
			return market.Tick{}, false, fmt.Errorf("line %d: %w", c.line, err)
		}
		return tk, true, nil
	}
}

// CSVFeed 回放单个 CSV 文件。
type CSVFeed struct {
	Path       string
	SkipErrors bool // 跳过坏行而不是终止
	Logger     *zap.Logger
}

func (f *CSVFeed) Run(ctx context.Context, out chan<- market.Tick) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open tick file: %w", err)
	}
	defer file.Close()
	return pump(ctx, NewCSVReader(file), out, f.SkipErrors, f.Logger)
}

func pump(ctx context.Context, r *CSVReader, out chan<- market.Tick, skipErrors bool, logger *zap.Logger) error {
	for {
		tk, ok, err := r.Next()
		if err != nil {
			if skipErrors && errors.Is(err, ErrBadRecord) {
				if logger != nil {
					logger.Warn("bad tick record skipped", zap.Error(err))
				}
				continue
			}
			return err
		}
		if !ok {
			return nil
		}
		if err := send(ctx, out, tk); err != nil {
			return err
		}
	}
}
