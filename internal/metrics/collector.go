package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/livp123/netxpf/internal/core"
)

const namespace = "netxpf"

// Source is what the collector reads on every scrape.
// Source 是采集器在每次抓取时读取的数据源。
type Source interface {
	StatusGet() core.Status
	Allocations() core.Allocations
}

// Collector exports the engine's status counters and live object counts.
// Values are read at scrape time, so nothing is cached between scrapes.
// Collector 导出引擎的状态计数器与存活对象数量，抓取时实时读取。
type Collector struct {
	src Source

	running     *prometheus.Desc
	states      *prometheus.Desc
	srcNodes    *prometheus.Desc
	counters    *prometheus.Desc
	lcounters   *prometheus.Desc
	stateOps    *prometheus.Desc
	srcNodeOps  *prometheus.Desc
	allocations *prometheus.Desc
}

// NewCollector creates a collector reading from src.
func NewCollector(src Source) *Collector {
	return &Collector{
		src: src,
		running: prometheus.NewDesc(namespace+"_running",
			"Whether the filter is enabled (1) or not (0)", nil, nil),
		states: prometheus.NewDesc(namespace+"_states",
			"Number of entries in the state table", nil, nil),
		srcNodes: prometheus.NewDesc(namespace+"_src_nodes",
			"Number of tracked source nodes", nil, nil),
		counters: prometheus.NewDesc(namespace+"_counters_total",
			"Packet outcome counters", []string{"counter"}, nil),
		lcounters: prometheus.NewDesc(namespace+"_limit_counters_total",
			"Times a per-rule or per-source limit was hit", []string{"counter"}, nil),
		stateOps: prometheus.NewDesc(namespace+"_state_operations_total",
			"State table searches, inserts and removals", []string{"op"}, nil),
		srcNodeOps: prometheus.NewDesc(namespace+"_src_node_operations_total",
			"Source node searches, inserts and removals", []string{"op"}, nil),
		allocations: prometheus.NewDesc(namespace+"_allocations",
			"Live objects held by the control plane", []string{"object"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.running
	ch <- c.states
	ch <- c.srcNodes
	ch <- c.counters
	ch <- c.lcounters
	ch <- c.stateOps
	ch <- c.srcNodeOps
	ch <- c.allocations
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.StatusGet()

	running := 0.0
	if st.Running {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running)
	ch <- prometheus.MustNewConstMetric(c.states, prometheus.GaugeValue, float64(st.States))
	ch <- prometheus.MustNewConstMetric(c.srcNodes, prometheus.GaugeValue, float64(st.SrcNodes))

	emit := func(d *prometheus.Desc, m map[string]uint64) {
		for name, v := range m {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), name)
		}
	}
	emit(c.counters, st.Counters)
	emit(c.lcounters, st.LCounters)
	emit(c.stateOps, st.FCounters)
	emit(c.srcNodeOps, st.SCounters)

	a := c.src.Allocations()
	for name, v := range map[string]float64{
		"rules":      float64(a.Rules),
		"states":     float64(a.States),
		"src_nodes":  float64(a.SrcNodes),
		"pool_addrs": float64(a.PoolAddrs),
		"tags":       float64(a.Tags),
		"queue_ids":  float64(a.QueueIDs),
		"tables":     float64(a.Tables),
		"kifs":       float64(a.Kifs),
		"anchors":    float64(a.Anchors),
	} {
		ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.GaugeValue, v, name)
	}
}

// Register adds a collector for src to reg.
// Register 将 src 的采集器注册到 reg。
func Register(reg prometheus.Registerer, src Source) error {
	return reg.Register(NewCollector(src))
}
