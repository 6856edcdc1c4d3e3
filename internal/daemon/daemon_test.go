package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/core"
	"github.com/livp123/netxpf/pkg/sdk"
)

const testRuleset = `
tables:
  - name: trusted
    addrs: [192.0.2.0/24]
anchors:
  - rules:
      - action: pass
        from: <trusted>
        label: trusted
      - action: block
        log: true
`

// writeConfig saves a config pointing at a ruleset file in dir.
// writeConfig 在 dir 中写入指向规则集文件的配置。
func writeConfig(t *testing.T, dir string, edit func(*config.GlobalConfig)) string {
	t.Helper()
	rules := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(testRuleset), 0600))

	cfg := config.Default()
	cfg.API.Listen = "127.0.0.1:0"
	cfg.Rulesets = rules
	cfg.Timeouts["tcp.first"] = 60
	if edit != nil {
		edit(cfg)
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.SaveConfig(path, cfg))
	return path
}

// TestManagePidFile tests PID file management
// TestManagePidFile 测试 PID 文件管理
func TestManagePidFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	require.NoError(t, managePidFile(pidPath))
	content, err := os.ReadFile(pidPath)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))

	// Second call fails while this process runs
	// 当前进程运行时第二次调用失败
	err = managePidFile(pidPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PID file")

	removePidFile(pidPath)
	_, err = os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}

// TestManagePidFile_Stale tests PID files with garbage or a dead process
// TestManagePidFile_Stale 测试包含无效内容或已退出进程的 PID 文件
func TestManagePidFile_Stale(t *testing.T) {
	for _, content := range []string{"invalid", "999999999"} {
		pidPath := filepath.Join(t.TempDir(), "test.pid")
		require.NoError(t, os.WriteFile(pidPath, []byte(content), 0644))
		require.NoError(t, managePidFile(pidPath), content)
		data, err := os.ReadFile(pidPath)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
	}
	removePidFile("/non/existent/path/pid")
}

func TestNewCreatesConfigAndToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	d, err := New(context.Background(), Options{ConfigPath: path, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	defer d.Engine().Shutdown()

	assert.True(t, d.Engine().Running())
	assert.NotEmpty(t, d.Config().API.AdminToken)

	saved, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, d.Config().API.AdminToken, saved.API.AdminToken)
}

func TestNewLoadsRulesetsAndSettings(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, func(c *config.GlobalConfig) {
		c.API.AdminToken = "admin"
		c.Limits["states"] = 50
	})

	d, err := New(context.Background(), Options{ConfigPath: path, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	e := d.Engine()
	defer e.Shutdown()

	assert.Equal(t, int64(2), e.Allocations().Rules)
	v, err := e.TimeoutGet(core.TimeoutTCPFirst)
	require.NoError(t, err)
	assert.Equal(t, uint32(60), v)
	l, err := e.LimitGet(core.LimitStates)
	require.NoError(t, err)
	assert.Equal(t, uint32(50), l)
}

func TestNewFailsOnBadRuleset(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, func(c *config.GlobalConfig) {
		c.API.AdminToken = "admin"
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yaml"),
		[]byte("anchors:\n  - rules:\n      - action: rdr\n"), 0600))

	_, err := New(context.Background(), Options{ConfigPath: path, Logger: zap.NewNop().Sugar()})
	assert.Error(t, err)
}

func TestReloadAppliesChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, func(c *config.GlobalConfig) {
		c.API.AdminToken = "admin"
	})
	d, err := New(context.Background(), Options{ConfigPath: path, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	e := d.Engine()
	defer e.Shutdown()

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	cfg.Timeouts["tcp.first"] = 15
	cfg.Limits["src-nodes"] = 9
	require.NoError(t, config.SaveConfig(path, cfg))
	require.NoError(t, os.WriteFile(cfg.Rulesets, []byte("anchors:\n  - rules:\n      - action: pass\n"), 0600))

	require.NoError(t, d.Reload(context.Background()))
	v, err := e.TimeoutGet(core.TimeoutTCPFirst)
	require.NoError(t, err)
	assert.Equal(t, uint32(15), v)
	l, err := e.LimitGet(core.LimitSrcNodes)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), l)
	assert.Equal(t, int64(1), e.Allocations().Rules)
}

// TestRunServesUntilCancelled runs the daemon, talks to it through the SDK
// and checks shutdown releases everything.
// TestRunServesUntilCancelled 运行守护进程，通过 SDK 访问并检查关闭后资源全部释放。
func TestRunServesUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, func(c *config.GlobalConfig) {
		c.API.AdminToken = "admin"
		c.API.ReadToken = "reader"
	})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	pidPath := filepath.Join(dir, "netxpf.pid")
	d, err := New(context.Background(), Options{
		ConfigPath: path,
		PidPath:    pidPath,
		Listener:   l,
		Logger:     zap.NewNop().Sugar(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	s := sdk.NewSDK(l.Addr().String(), "reader")
	require.Eventually(t, func() bool {
		running, err := s.Status.Health(ctx)
		return err == nil && running
	}, 5*time.Second, 20*time.Millisecond)

	list, err := s.Rules.List(ctx, "", core.ClassFilter)
	require.NoError(t, err)
	require.Len(t, list.Rules, 2)
	assert.Equal(t, "trusted", list.Rules[0].Label)
	_, err = os.Stat(pidPath)
	assert.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.True(t, d.Engine().Allocations().Zero())
	_, err = os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}
