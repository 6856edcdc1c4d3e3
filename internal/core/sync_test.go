package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/livp123/netxpf/pkg/errors"
)

// TestExportImportRoundTrip moves a state to a second engine and keeps its
// remaining lifetime.
// TestExportImportRoundTrip 测试状态迁移到另一个引擎后剩余生存期保持不变。
func TestExportImportRoundTrip(t *testing.T) {
	src, clk := newTestEngine(t)
	r := loadRules(t, src, "", ClassFilter, RuleSpec{Action: ActionPass})[0]
	insert(t, src, r, outKey("10.0.0.5", 40000, "203.0.113.9", 443), "")
	clk.Advance(10 * time.Second)

	ws := src.StatesGet(nil)
	require.Len(t, ws, 1)
	w := ws[0]
	assert.Equal(t, uint32(10), w.Creation)
	assert.Equal(t, uint32(110), w.Expire)
	assert.Equal(t, int32(0), w.Rule)
	assert.Equal(t, int32(-1), w.NatRule)
	assert.Equal(t, "all", w.IfName)

	dst, dclk := newTestEngine(t, WithHostID(0x01020304))
	require.NoError(t, dst.StateAdd(w))

	got := dst.StatesGet(nil)
	require.Len(t, got, 1)
	assert.Equal(t, w.ID, got[0].ID)
	assert.Equal(t, uint32(0x0a0b0c0d), got[0].CreatorID)
	assert.Equal(t, uint32(110), got[0].Expire)
	assert.Equal(t, int32(-1), got[0].Rule)
	assert.Zero(t, got[0].Packets[0])

	err := dst.StateAdd(w)
	assert.ErrorIs(t, err, errs.ErrDuplicate)
	assert.Equal(t, uint64(1), dst.StatusGet().Counters["state-insert"])

	// The imported state expires when the exporter's copy would have
	// 导入的状态与导出方的副本同时过期
	dclk.Advance(100 * time.Second)
	assert.Zero(t, dst.PurgeExpiredStates(10))
	dclk.Advance(11 * time.Second)
	assert.Equal(t, 1, dst.PurgeExpiredStates(10))
	assert.Empty(t, dst.StatesGet(nil))
}

// TestImportKeepsShortRemainingLifetime imports a state that is close to
// expiry and checks it is not given a fresh timeout.
// TestImportKeepsShortRemainingLifetime 测试即将过期的状态导入后不会获得新的超时。
func TestImportKeepsShortRemainingLifetime(t *testing.T) {
	src, clk := newTestEngine(t)
	r := loadRules(t, src, "", ClassFilter, RuleSpec{Action: ActionPass})[0]
	insert(t, src, r, outKey("10.0.0.5", 40001, "203.0.113.9", 443), "")
	clk.Advance(100 * time.Second)

	w := src.StatesGet(nil)[0]
	require.Equal(t, uint32(20), w.Expire)

	dst, dclk := newTestEngine(t)
	require.NoError(t, dst.StateAdd(w))
	assert.Equal(t, uint32(20), dst.StatesGet(nil)[0].Expire)

	dclk.Advance(30 * time.Second)
	assert.Equal(t, 1, dst.PurgeExpiredStates(10))
	assert.Zero(t, dst.Allocations().States)
}

func TestStateAddValidation(t *testing.T) {
	e, _ := newTestEngine(t, WithAddressFamilies(AFInet))
	w := WireState{
		ID: 1, CreatorID: 7,
		Lan: Endpoint{Addr: ip("10.0.0.5"), Port: 1}, Gwy: Endpoint{Addr: ip("10.0.0.5"), Port: 1},
		Ext:   Endpoint{Addr: ip("203.0.113.9"), Port: 2},
		Proto: protoUDP, AF: AFInet, Direction: DirOut, Timeout: TimeoutUDPFirst,
	}

	bad := w
	bad.Timeout = TimeoutUnlinked
	assert.ErrorIs(t, e.StateAdd(bad), errs.ErrInvalid)

	bad = w
	bad.AF = AFInet6
	assert.ErrorIs(t, e.StateAdd(bad), errs.ErrInvalid)

	require.NoError(t, e.StateAdd(w))
	assert.Equal(t, int64(1), e.Allocations().States)
}

func TestStatesAddStopsAtFirstFailure(t *testing.T) {
	e, _ := newTestEngine(t)
	mk := func(id uint64, port uint16) WireState {
		return WireState{
			ID: id, CreatorID: 9,
			Lan: Endpoint{Addr: ip("10.0.0.5"), Port: port}, Gwy: Endpoint{Addr: ip("10.0.0.5"), Port: port},
			Ext:   Endpoint{Addr: ip("203.0.113.9"), Port: 53},
			Proto: protoUDP, AF: AFInet, Direction: DirOut, Timeout: TimeoutUDPFirst,
		}
	}
	n, err := e.StatesAdd([]WireState{mk(1, 1000), mk(1, 1001), mk(2, 1002)})
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, errs.ErrDuplicate)
	assert.Len(t, e.StatesGet(nil), 1)
}
