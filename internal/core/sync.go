package core

import (
	errs "github.com/livp123/netxpf/pkg/errors"
)

// Sync flags carried on exported states.
const (
	SyncFlagSrcNode    uint8 = 0x04
	SyncFlagNatSrcNode uint8 = 0x08
)

// WireState is the transport form of a state exchanged with sync peers.
// Times are relative: Creation is the age and Expire the remaining lifetime,
// both in seconds.
// WireState 是与同步对端交换的状态传输格式，时间均为相对秒数。
type WireState struct {
	ID        uint64    `json:"id"`
	CreatorID uint32    `json:"creatorid"`
	IfName    string    `json:"ifname"`
	Lan       Endpoint  `json:"lan"`
	Gwy       Endpoint  `json:"gwy"`
	Ext       Endpoint  `json:"ext"`
	Proto     uint8     `json:"proto"`
	AF        AF        `json:"af"`
	Direction Direction `json:"direction"`
	Src       PeerInfo  `json:"src"`
	Dst       PeerInfo  `json:"dst"`
	Rule      int32     `json:"rule"`
	NatRule   int32     `json:"nat_rule"`
	Anchor    int32     `json:"anchor"`
	Creation  uint32    `json:"creation"`
	Expire    uint32    `json:"expire"`
	Packets   [2]uint64 `json:"packets"`
	Bytes     [2]uint64 `json:"bytes"`
	Log       uint8     `json:"log,omitempty"`
	AllowOpts bool      `json:"allow_opts,omitempty"`
	Timeout   Timeout   `json:"timeout"`
	SyncFlags uint8     `json:"sync_flags,omitempty"`
}

// Key returns the state key carried by w.
func (w *WireState) Key() StateKey {
	return StateKey{Lan: w.Lan, Gwy: w.Gwy, Ext: w.Ext, Proto: w.Proto, AF: w.AF, Direction: w.Direction}
}

func ruleNr(r *Rule) int32 {
	if r == nil {
		return -1
	}
	return r.Nr()
}

// export flattens s. Caller holds stateMu.
// export 将状态展开为传输格式，调用方需持有 stateMu。
func (e *Engine) export(s *State, now int64) WireState {
	w := WireState{
		ID:        s.ID,
		CreatorID: s.CreatorID,
		IfName:    kifName(s.kif),
		Lan:       s.Key.Lan,
		Gwy:       s.Key.Gwy,
		Ext:       s.Key.Ext,
		Proto:     s.Key.Proto,
		AF:        s.Key.AF,
		Direction: s.Key.Direction,
		Src:       s.Src,
		Dst:       s.Dst,
		Rule:      s.rule.Nr(),
		NatRule:   ruleNr(s.natRule),
		Anchor:    ruleNr(s.anchorRule),
		Packets:   s.Packets,
		Bytes:     s.Bytes,
		Log:       s.Log,
		AllowOpts: s.AllowOpts,
		Timeout:   s.Timeout,
	}
	if age := now - s.Creation; age > 0 {
		w.Creation = uint32(age)
	}
	if exp := e.expiresAt(s); exp > now {
		w.Expire = uint32(exp - now)
	}
	if s.srcNode != nil {
		w.SyncFlags |= SyncFlagSrcNode
	}
	if s.natSrcNode != nil {
		w.SyncFlags |= SyncFlagNatSrcNode
	}
	return w
}

// importState rebuilds a state from w, attached to the default rule.
// Counters start at zero and no source node is attached.
func (e *Engine) importState(w *WireState) *State {
	now := e.now()
	s := &State{
		Key:       w.Key(),
		ID:        w.ID,
		CreatorID: w.CreatorID,
		Src:       w.Src,
		Dst:       w.Dst,
		Creation:  now,
		Expire:    now,
		Timeout:   w.Timeout,
		Log:       w.Log,
		AllowOpts: w.AllowOpts,
		rule:      e.defaultRule,
	}
	if w.Expire > 0 {
		s.Expire -= int64(e.defaultTimeout(w.Timeout)) - int64(w.Expire)
	}
	return s
}

// StateAdd inserts a state received from a sync peer. The admission rate
// limiter and source tracking do not run for trusted states.
// StateAdd 插入来自同步对端的状态，可信状态不经过准入速率限制与源跟踪。
func (e *Engine) StateAdd(w WireState) error {
	// 1. Validate timeout / 校验超时类型
	if !validStateTimeout(w.Timeout) {
		return errs.NewInvalidError("state timeout %d", w.Timeout)
	}
	if !e.afAllowed(w.AF) {
		return errs.NewInvalidError("address family %v not supported", w.AF)
	}

	// 2. Resolve interface / 解析接口
	if !isAny(w.IfName) && e.ifaces != nil && !e.ifaces.Exists(w.IfName) {
		return errs.NewNotFoundError("interface", w.IfName)
	}

	// 3. Insert without admission checks / 跳过准入检查直接插入
	s := e.importState(&w)
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if err := e.insertLocked(s, w.IfName, false, s.RtAddr); err != nil {
		e.Count(CounterStateInsert)
		return err
	}
	return nil
}

// StatesAdd inserts states in order and stops at the first failure,
// returning how many were added.
func (e *Engine) StatesAdd(ws []WireState) (int, error) {
	for i := range ws {
		if err := e.StateAdd(ws[i]); err != nil {
			return i, err
		}
	}
	return len(ws), nil
}
