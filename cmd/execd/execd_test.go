package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T) (cfgPath, ticksPath string) {
	t.Helper()
	dir := t.TempDir()
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	var b strings.Builder
	for i := 0; i <= 4; i++ {
		fmt.Fprintf(&b, "%d,AAA,9.99,500,10.01,500,10.00,10,B\n", start.Add(time.Duration(i)*time.Second).UnixMilli())
	}
	ticksPath = filepath.Join(dir, "ticks.csv")
	require.NoError(t, os.WriteFile(ticksPath, []byte(b.String()), 0o644))

	cfg := fmt.Sprintf(`
env: test
log:
  level: error
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
      side: sell
      quantity: 400
      start: %s
      horizon: 4s
      slices: 4
`, ticksPath, start.Format(time.RFC3339))
	cfgPath = filepath.Join(dir, "execd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, ticksPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	cfgPath, _ := writeFixture(t)
	out, err := execute(t, "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "config ok: 1 instruments, 1 twap, 0 pairs, hedger=false")

	_, err = execute(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReplayCommandPrintsSummary(t *testing.T) {
	cfgPath, ticks := writeFixture(t)
	out, err := execute(t, "replay", "-c", cfgPath, "--ticks", ticks)
	require.NoError(t, err)
	assert.Contains(t, out, "ticks=5 skipped=0")
	assert.Contains(t, out, "fills=4")
	assert.Contains(t, out, "net=-400.0000")
	assert.Contains(t, out, "twap-aaa     completed")
}
