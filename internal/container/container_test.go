package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"algo-exec-go/config"
	"algo-exec-go/infrastructure/alert"
	"algo-exec-go/infrastructure/logger"
	"algo-exec-go/order"
	"algo-exec-go/sim"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

type collectChannel struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (c *collectChannel) Send(a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *collectChannel) Name() string { return "collect" }

func (c *collectChannel) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.alerts))
	for _, a := range c.alerts {
		out = append(out, a.Message)
	}
	return out
}

func writeTicks(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("ts,instrument,bid,bid_size,ask,ask_size,last,last_size\n")
	for i := 0; i <= 10; i++ {
		ts := t0.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano)
		fmt.Fprintf(&b, "%s,AAA,9.99,500,10.01,500,10.00,10\n", ts)
	}
	path := filepath.Join(dir, "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func loadConfig(t *testing.T, dir, extra string) config.AppConfig {
	t.Helper()
	yaml := fmt.Sprintf(`
env: test
metrics:
  addr: "127.0.0.1:0"
journal:
  path: %s
feed:
  kind: csv
  path: %s
instruments:
  - id: AAA
    tick_size: 0.01
    lot_size: 1
strategies:
  twap:
    - id: twap-aaa
      instrument: AAA
      side: buy
      quantity: 1000
      start: %s
      end: %s
      slices: 10
%s`, filepath.Join(dir, "journal.db"), writeTicks(t, dir),
		t0.Format(time.RFC3339), t0.Add(10*time.Second).Format(time.RFC3339), extra)
	path := filepath.Join(dir, "exec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newContainer(t *testing.T, cfg config.AppConfig, ch alert.Channel) *Container {
	t.Helper()
	c := NewFromConfig(cfg, Options{
		Mode:     ModeReplay,
		Logger:   &logger.Logger{Logger: zap.NewNop()},
		Channels: []alert.Channel{ch},
	})
	require.NoError(t, c.Build())
	return c
}

func TestReplayRunsTWAPToCompletion(t *testing.T) {
	dir := t.TempDir()
	ch := &collectChannel{}
	c := newContainer(t, loadConfig(t, dir, ""), ch)
	assert.Equal(t, []string{"twap-aaa"}, c.Strategies())
	assert.Equal(t, []string{"journal", "runtime", "metrics_server"}, c.Lifecycle().Names())

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.HealthCheck())

	st, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, st.Ticks)
	assert.Equal(t, 10, st.Venue.Fills)

	sum := c.Summary(st)
	require.Contains(t, sum.Finished, "twap-aaa")
	assert.NoError(t, sum.Finished["twap-aaa"])
	require.Len(t, sum.Positions, 1)
	assert.Equal(t, 1000.0, sum.Positions[0].Net)
	assert.Empty(t, sum.Degraded)
	assert.Empty(t, sum.Drifts)
	assert.NotEmpty(t, sum.JournalRun)
	assert.NoError(t, sum.BookErr)
	require.Len(t, sum.Valuations, 1)
	require.Len(t, sum.Quality.Executions, 1)
	assert.Equal(t, "twap-aaa", sum.Quality.Executions[0].Strategy)
	assert.Equal(t, 10, sum.Quality.Executions[0].Fills)
	assert.Equal(t, 10, sum.Quality.TotalFills)

	resp, err := http.Get("http://" + c.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `exec_core_orders_submitted_total{instrument="AAA",strategy="twap-aaa"} 10`)
	assert.Contains(t, string(body), `exec_core_completed_executions_total{strategy="twap-aaa"} 1`)
	assert.Contains(t, string(body), `exec_core_unrealized_pnl{instrument="AAA"}`)

	require.NoError(t, c.Stop())
	js := c.Journal().Stats()
	assert.Positive(t, js.Written)
	assert.Zero(t, js.Dropped)
	assert.Empty(t, ch.messages())
}

func TestFatalHaltsRuntimeAndAlerts(t *testing.T) {
	dir := t.TempDir()
	ch := &collectChannel{}
	c := newContainer(t, loadConfig(t, dir, ""), ch)
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop() }()

	c.onFatal(fmt.Errorf("%w: fill beyond quantity", order.ErrInvariant))

	assert.Error(t, c.HealthCheck())
	_, err := c.Run(context.Background())
	assert.Error(t, err)
	assert.Contains(t, ch.messages(), "platform halted")
	assert.ErrorIs(t, c.Summary(sim.RunStats{}).Fatal, order.ErrInvariant)
}

func TestBuildRejectsOddLotTWAP(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, dir, "")
	cfg.Strategies.TWAP[0].Quantity = 10.5 // 不是整手
	c := NewFromConfig(cfg, Options{Mode: ModeReplay, Logger: &logger.Logger{Logger: zap.NewNop()}})
	err := c.Build()
	require.Error(t, err)
}

func TestLiveModeComponents(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, dir, "risk:\n  imbalance_source: fills\n")
	c := NewFromConfig(cfg, Options{Mode: ModeLive, Logger: &logger.Logger{Logger: zap.NewNop()}})
	require.NoError(t, c.Build())
	defer c.closeJournal()

	assert.Equal(t, []string{"journal", "runtime", "reconciler", "position_sync", "metrics_server"}, c.Lifecycle().Names())
	require.NotNil(t, c.fills)
	assert.Equal(t, 5*time.Second, c.sync.Interval)
}

func TestLifecycleStartRollbackAndReverseStop(t *testing.T) {
	var calls []string
	m := NewLifecycleManager()
	m.Register("a", &fakeComponent{name: "a", log: &calls})
	m.Register("b", &fakeComponent{name: "b", log: &calls})
	m.Register("c", &fakeComponent{name: "c", log: &calls, startErr: errors.New("port in use")})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start c failed")
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, calls)

	calls = calls[:0]
	m2 := NewLifecycleManager()
	m2.Register("a", &fakeComponent{name: "a", log: &calls})
	m2.Register("b", &fakeComponent{name: "b", log: &calls, unhealthy: true})
	require.NoError(t, m2.StartAll(context.Background()))
	assert.ErrorContains(t, m2.CheckHealth(), "b unhealthy")
	require.NoError(t, m2.StopAll())
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, calls)
}

type fakeComponent struct {
	name      string
	log       *[]string
	startErr  error
	unhealthy bool
}

func (f *fakeComponent) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	*f.log = append(*f.log, "start "+f.name)
	return nil
}

func (f *fakeComponent) Stop() error {
	*f.log = append(*f.log, "stop "+f.name)
	return nil
}

func (f *fakeComponent) Health() error {
	if f.unhealthy {
		return errors.New("down")
	}
	return nil
}
