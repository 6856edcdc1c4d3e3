package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livp123/netxpf/internal/api"
	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/core"
	"github.com/livp123/netxpf/internal/runtime"
)

// executeCommand runs the root command with args and returns its output.
// executeCommand 使用给定参数执行根命令并返回输出。
func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	RootCmd.SetOut(buf)
	RootCmd.SetErr(buf)
	RootCmd.SetArgs(args)
	err := RootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// withDaemon points the CLI at an engine served over httptest.
// withDaemon 将 CLI 指向通过 httptest 提供的引擎。
func withDaemon(t *testing.T) *core.Engine {
	t.Helper()
	e := core.New()
	require.NoError(t, e.Start())
	srv, err := api.NewServer(e, config.APIConfig{AdminToken: "admin"}, config.MetricsConfig{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	origAddr, origToken, origCfg := runtime.APIAddr, runtime.Token, runtime.ConfigPath
	runtime.APIAddr, runtime.Token = ts.URL, "admin"
	runtime.ConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() {
		runtime.APIAddr, runtime.Token, runtime.ConfigPath = origAddr, origToken, origCfg
	})
	return e
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	require.NoError(t, err)
	assert.Contains(t, out, "netxpf")
	assert.Contains(t, out, "rules")
	assert.Contains(t, out, "states")
}

func TestRulesLoadAndShow(t *testing.T) {
	e := withDaemon(t)
	file := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
tables:
  - name: lan
    addrs: ["10.0.0.0/8"]
anchors:
  - path: ""
    rules:
      - action: pass
        from: <lan>
        label: lan
      - action: block
`), 0644))

	out, err := executeCommand("rules", "load", "-f", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 2 rules")
	assert.Len(t, e.Main().Active(core.ClassFilter), 2)

	out, err = executeCommand("rules", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "<lan>")

	out, err = executeCommand("tables", "show", "lan")
	require.NoError(t, err)
	assert.Contains(t, out, "10.0.0.0/8")

	_, err = executeCommand("rules", "flush")
	require.NoError(t, err)
	assert.Empty(t, e.Main().Active(core.ClassFilter))
}

func TestTimeoutAndLimit(t *testing.T) {
	withDaemon(t)

	out, err := executeCommand("timeout", "tcp.first", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "tcp.first: 120s -> 30s")

	out, err = executeCommand("timeout")
	require.NoError(t, err)
	assert.Contains(t, out, "tcp.first")

	_, err = executeCommand("limit", "states", "lots")
	assert.Error(t, err)

	out, err = executeCommand("limit", "states", "500")
	require.NoError(t, err)
	assert.Contains(t, out, "states: 10000 -> 500")
}

func TestStatusAndStates(t *testing.T) {
	withDaemon(t)

	out, err := executeCommand("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Status: Enabled")

	out, err = executeCommand("states", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No states")

	out, err = executeCommand("states", "kill", "--proto", "tcp")
	require.NoError(t, err)
	assert.Contains(t, out, "Killed 0 states")

	out, err = executeCommand("altq", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No queues")
}

func TestVersion(t *testing.T) {
	out, err := executeCommand("version")
	require.NoError(t, err)
	assert.Contains(t, out, "netxpf dev")
}
