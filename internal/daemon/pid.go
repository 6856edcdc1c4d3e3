package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/livp123/netxpf/internal/utils/logger"
)

// managePidFile writes the current pid to path. A file left behind by a
// process that no longer runs, or holding garbage, is replaced.
// managePidFile 将当前进程号写入 path，残留或无效的 PID 文件会被替换。
func managePidFile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pid > 0 && processAlive(pid) {
			return fmt.Errorf("PID file %s already exists (pid %d). Is netxpf already running?", path, pid)
		}
		logger.Get(nil).Warnf("⚠️  Removing stale PID file %s", path)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func removePidFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Get(nil).Warnf("⚠️  Failed to remove PID file: %v", err)
	}
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
