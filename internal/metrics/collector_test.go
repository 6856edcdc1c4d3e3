package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livp123/netxpf/internal/core"
)

type fakeSource struct {
	status core.Status
	alloc  core.Allocations
}

func (f *fakeSource) StatusGet() core.Status         { return f.status }
func (f *fakeSource) Allocations() core.Allocations { return f.alloc }

// TestCollectorReadsAtScrape checks gauges and labelled counters follow
// the source between scrapes.
// TestCollectorReadsAtScrape 测试指标在每次抓取时读取数据源。
func TestCollectorReadsAtScrape(t *testing.T) {
	src := &fakeSource{
		status: core.Status{
			Running:  true,
			States:   3,
			Counters: map[string]uint64{"match": 5, "memory": 1},
		},
		alloc: core.Allocations{Rules: 2, States: 3},
	}
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, Register(reg, src))

	expected := `
# HELP netxpf_states Number of entries in the state table
# TYPE netxpf_states gauge
netxpf_states 3
# HELP netxpf_counters_total Packet outcome counters
# TYPE netxpf_counters_total counter
netxpf_counters_total{counter="match"} 5
netxpf_counters_total{counter="memory"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"netxpf_states", "netxpf_counters_total"))

	src.status.States = 0
	src.status.Running = false
	src.status.Counters["match"] = 9
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP netxpf_running Whether the filter is enabled (1) or not (0)
# TYPE netxpf_running gauge
netxpf_running 0
# HELP netxpf_counters_total Packet outcome counters
# TYPE netxpf_counters_total counter
netxpf_counters_total{counter="match"} 9
netxpf_counters_total{counter="memory"} 1
`), "netxpf_running", "netxpf_counters_total"))
}

func TestCollectorOverEngine(t *testing.T) {
	e := core.New(core.WithHostID(1))
	require.NoError(t, e.Start())
	e.Count(core.CounterMatch)

	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg, e))
	n, err := testutil.GatherAndCount(reg, "netxpf_allocations")
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	assert.Error(t, Register(reg, e), "a second collector with the same descriptors is rejected")
}
