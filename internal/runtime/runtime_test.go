package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestOverrides checks the CLI overrides start empty and can be set.
// TestOverrides 测试 CLI 覆盖值默认为空且可设置。
func TestOverrides(t *testing.T) {
	orig := ConfigPath
	defer func() { ConfigPath = orig }()

	ConfigPath = "/tmp/netxpf.yaml"
	assert.Equal(t, "/tmp/netxpf.yaml", ConfigPath)
	assert.Empty(t, APIAddr)
	assert.Empty(t, Token)
}
