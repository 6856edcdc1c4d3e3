package core

import (
	"context"
	"sort"
	"time"
)

// PurgeExpiredStates examines up to maxCheck states from the purge cursor,
// unlinking the expired ones, then frees every unlinked state it met.
// Freeing runs under both locks so zombie rules can be destroyed.
// PurgeExpiredStates 从清理游标起检查至多 maxCheck 个状态，解除已过期的，
// 随后在双锁下释放所有已解除的状态。
func (e *Engine) PurgeExpiredStates(maxCheck int) int {
	e.purging.Lock()
	defer e.purging.Unlock()

	// 1. Collect under the state lock / 在状态锁下收集
	e.stateMu.Lock()
	if n := e.entries.Len(); maxCheck > n {
		maxCheck = n
	}
	now := e.now()
	var dead []*State
	for ; maxCheck > 0; maxCheck-- {
		if e.purgeCur == nil {
			if e.purgeCur = e.entries.Front(); e.purgeCur == nil {
				break
			}
		}
		s := e.purgeCur.Value.(*State)
		e.purgeCur = e.purgeCur.Next()
		switch {
		case s.Timeout == TimeoutUnlinked:
			dead = append(dead, s)
		case e.expiresAt(s) <= now:
			e.unlinkState(s)
			dead = append(dead, s)
		}
	}
	e.stateMu.Unlock()
	if len(dead) == 0 {
		return 0
	}

	// 2. Free under both locks / 在双锁下释放
	e.rulesMu.Lock()
	e.stateMu.Lock()
	for _, s := range dead {
		e.freeState(s)
	}
	e.stateMu.Unlock()
	e.rulesMu.Unlock()
	e.log.Debugf("[Core] Purged %d states", len(dead))
	return len(dead)
}

func (e *Engine) stateCount() int {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.nStates
}

// Tick runs one iteration of the purge loop. loop counts the seconds since
// the last source-node sweep and is returned updated.
// Tick 执行一次清理循环迭代。
func (e *Engine) Tick(loop int) int {
	interval := int(e.defaultTimeout(TimeoutInterval))
	if interval <= 0 {
		interval = 1
	}
	e.PurgeExpiredStates(1 + e.stateCount()/interval)
	loop++
	if loop >= interval {
		e.PurgeExpiredSrcNodes()
		loop = 0
	}
	return loop
}

// Run drives the purge loop once per second until ctx is done. A shortened
// purge interval wakes it early.
// Run 每秒驱动一次清理循环，直到 ctx 结束；缩短清理间隔会提前唤醒。
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	e.log.Infof("🧹 [Core] Purge loop started")
	loop := 0
	for {
		select {
		case <-ctx.Done():
			e.log.Infof("🛑 [Core] Purge loop stopped")
			return nil
		case <-ticker.C:
		case <-e.wake:
		}
		loop = e.Tick(loop)
	}
}

// Shutdown frees every state and source node, then flushes all rulesets,
// the pool buffer, ALTQ and tables. Afterwards Allocations is zero.
// Shutdown 释放所有状态与源节点，随后清空全部规则集、地址池缓冲区、ALTQ 与表。
func (e *Engine) Shutdown() {
	e.purging.Lock()
	defer e.purging.Unlock()
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	// 1. States and source nodes / 状态与源节点
	e.stateMu.Lock()
	for el := e.entries.Front(); el != nil; {
		next := el.Next()
		s := el.Value.(*State)
		e.unlinkState(s)
		e.freeState(s)
		el = next
	}
	e.purgeCur = nil
	e.srcNodes.Ascend(func(n *SrcNode) bool {
		n.states = 0
		n.Expire = 1
		return true
	})
	e.purgeSrcNodesLocked()
	e.stateMu.Unlock()

	// 2. Rulesets, deepest anchors first / 规则集，从最深的锚点开始
	var all []*Anchor
	e.anchors.byKey.Ascend(func(a *Anchor) bool {
		all = append(all, a)
		return true
	})
	sort.SliceStable(all, func(i, j int) bool { return len(all[i].Path) > len(all[j].Path) })
	all = append(all, e.anchors.main)
	for _, a := range all {
		for c := Class(0); c < classCount; c++ {
			q := &a.rules[c]
			e.purgeRules(q.inactive)
			q.inactive, q.open = nil, false
			old := q.load().rules
			q.publish(nil)
			e.purgeRules(old)
		}
		a.topen = false
	}

	// 3. Buffers, ALTQ and tables / 缓冲区、ALTQ 与表
	e.releasePoolBuf()
	if err := e.flushAltq(); err != nil {
		e.log.Warnf("⚠️  [Core] ALTQ flush: %v", err)
	}
	e.tables.flush()
	for _, a := range all {
		e.anchors.prune(a, e.tables.countAnchor)
	}
	e.log.Infof("🛑 [Core] Engine flushed")
}
