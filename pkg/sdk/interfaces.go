package sdk

import (
	"context"
	"net/netip"

	"github.com/livp123/netxpf/internal/api"
	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/core"
)

// StatusAPI controls the filter and reads its status.
// StatusAPI 控制过滤器并读取其状态。
type StatusAPI interface {
	// Health reports whether the daemon answers and the filter is running.
	Health(ctx context.Context) (running bool, err error)
	Get(ctx context.Context) (core.Status, error)
	Clear(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetInterface(ctx context.Context, ifname string) error
	SetDebug(ctx context.Context, level uint32) error
	// SetHostID changes the host id; zero picks a random one. The id in
	// effect is returned.
	// SetHostID 设置主机 ID，0 表示随机生成，返回生效的 ID。
	SetHostID(ctx context.Context, id uint32) (uint32, error)
	Allocations(ctx context.Context) (core.Allocations, error)
}

// SettingsAPI reads and changes timeouts and limits by name.
// SettingsAPI 按名称读取和修改超时与限制。
type SettingsAPI interface {
	Timeouts(ctx context.Context) ([]api.ValueResponse, error)
	Timeout(ctx context.Context, name string) (uint32, error)
	// SetTimeout returns the previous value.
	SetTimeout(ctx context.Context, name string, seconds int64) (old uint32, err error)
	Limits(ctx context.Context) ([]api.ValueResponse, error)
	Limit(ctx context.Context, name string) (uint32, error)
	SetLimit(ctx context.Context, name string, v uint32) (old uint32, err error)
}

// RulesAPI manages rulesets, anchors and pools.
// RulesAPI 管理规则集、锚点与地址池。
type RulesAPI interface {
	// Load replaces the anchors, tables and queues in rs atomically and
	// returns the number of rules loaded.
	// Load 原子地替换规则集中的锚点、表与队列，返回加载的规则数。
	Load(ctx context.Context, rs *config.Ruleset) (int, error)
	Flush(ctx context.Context, anchor string) error
	List(ctx context.Context, anchor string, class core.Class) (api.RulesResponse, error)
	Get(ctx context.Context, anchor string, class core.Class, ticket uint32, nr int32, clear bool) (core.RuleView, error)
	Add(ctx context.Context, req api.RulesAddRequest) error
	Change(ctx context.Context, req core.ChangeRuleRequest) (uint32, error)
	ClearCounters(ctx context.Context) error
	Anchors(ctx context.Context, path string) ([]string, error)

	PoolBegin(ctx context.Context) (uint32, error)
	PoolAdd(ctx context.Context, ticket uint32, addr core.PoolAddrSpec) error
	Pool(ctx context.Context, anchor string, class core.Class, nr int32, last bool) ([]core.PoolAddrView, error)
	PoolChange(ctx context.Context, req core.PoolChangeRequest) error

	TransBegin(ctx context.Context, elems []core.TransElement) ([]core.TransElement, error)
	TransCommit(ctx context.Context, elems []core.TransElement) error
	TransRollback(ctx context.Context, elems []core.TransElement) error
}

// TablesAPI reads tables.
type TablesAPI interface {
	List(ctx context.Context, anchor string) ([]core.TableView, error)
	Addrs(ctx context.Context, anchor, name string) ([]netip.Prefix, error)
}

// StatesAPI lists, imports and removes states. Filters use the expression
// syntax of the state filter ("proto == \"tcp\" && dst_port == 443").
// StatesAPI 列出、导入与删除状态。
type StatesAPI interface {
	List(ctx context.Context, filter string) ([]core.WireState, error)
	Get(ctx context.Context, nr int) (core.WireState, error)
	// Add imports states in order and returns how many were added before
	// the first failure.
	// Add 按顺序导入状态，返回首个失败前已导入的数量。
	Add(ctx context.Context, states []core.WireState) (int, error)
	Kill(ctx context.Context, req api.KillRequest) (int, error)
	Clear(ctx context.Context, ifname string) (int, error)
	NatLook(ctx context.Context, req core.NatLookRequest) (core.NatLookResult, error)
}

// SourcesAPI lists and removes source-tracking nodes.
type SourcesAPI interface {
	List(ctx context.Context, filter string) ([]core.SrcNodeView, error)
	Clear(ctx context.Context) (int, error)
	Kill(ctx context.Context, src, dst string) (int, error)
}

// AltqAPI controls queueing.
type AltqAPI interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// List returns the active queue count and the ticket to fetch them with.
	List(ctx context.Context) (count int, ticket uint32, err error)
	Get(ctx context.Context, ticket uint32, nr int) (api.QueueResponse, error)
}
