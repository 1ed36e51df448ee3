package feed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"algo-exec-go/market"
)

// DirFeed 监听投递目录，回放新出现的 tick 文件。
// 已存在的文件按文件名顺序先回放；写入方应先写临时文件再 rename 进目录，保证读到的是完整文件。
type DirFeed struct {
	Dir        string
	Pattern    string // 默认 *.csv
	SkipErrors bool
	Logger     *zap.Logger

	mu   sync.Mutex
	done map[string]bool
}

// Processed 已回放的文件（测试与运维查询）。
func (d *DirFeed) Processed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.done))
	for name := range d.done {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (d *DirFeed) Run(ctx context.Context, out chan<- market.Tick) error {
	if d.Pattern == "" {
		d.Pattern = "*.csv"
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	d.mu.Lock()
	if d.done == nil {
		d.done = make(map[string]bool)
	}
	d.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	// 先注册监听再扫描，避免扫描期间落地的文件被漏掉
	if err := watcher.Add(d.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", d.Dir, err)
	}
	if err := d.scan(ctx, out); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// 只处理创建、写入和 rename 进目录的事件
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if match, _ := filepath.Match(d.Pattern, filepath.Base(event.Name)); !match {
				continue
			}
			if err := d.replay(ctx, event.Name, out); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// 记录错误但继续监听
			d.Logger.Warn("watcher error", zap.String("dir", d.Dir), zap.Error(err))
		}
	}
}

func (d *DirFeed) scan(ctx context.Context, out chan<- market.Tick) error {
	matches, err := filepath.Glob(filepath.Join(d.Dir, d.Pattern))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	for _, path := range matches {
		if err := d.replay(ctx, path, out); err != nil {
			return err
		}
	}
	return nil
}

// replay 回放单个文件，每个文件只回放一次；坏文件记录日志后跳过。
func (d *DirFeed) replay(ctx context.Context, path string, out chan<- market.Tick) error {
	name := filepath.Base(path)
	d.mu.Lock()
	seen := d.done[name]
	d.done[name] = true
	d.mu.Unlock()
	if seen {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		d.Logger.Warn("tick file not readable", zap.String("file", path), zap.Error(err))
		return nil
	}
	defer file.Close()

	d.Logger.Info("replaying tick file", zap.String("file", path))
	err = pump(ctx, NewCSVReader(file), out, d.SkipErrors, d.Logger)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		d.Logger.Error("tick file aborted", zap.String("file", path), zap.Error(err))
	}
	return nil
}
