// Package ratelimit implements the per-source connection-rate window.
// Package ratelimit 实现按源地址的连接速率窗口。
package ratelimit

// Window counts admissions inside a fixed window of Seconds starting at Last.
// Timestamps are unix seconds.
// Window 统计从 Last 开始、长度为 Seconds 秒的窗口内的准入次数（时间单位为 Unix 秒）。
type Window struct {
	Limit   uint32
	Seconds uint32
	Count   uint32
	Last    int64
}

// New returns a window admitting limit connections per seconds.
func New(limit, seconds uint32) Window {
	return Window{Limit: limit, Seconds: seconds}
}

// Enabled reports whether the window enforces anything.
func (w *Window) Enabled() bool {
	return w.Limit > 0 && w.Seconds > 0
}

// TryAdmit resets the window once it has elapsed, then admits if the count
// is below the limit. A rejected call leaves the window unchanged.
// TryAdmit 在窗口过期时重置，计数低于上限时准入；拒绝时窗口保持不变。
func (w *Window) TryAdmit(now int64) bool {
	if !w.Enabled() {
		return true
	}
	if now-w.Last >= int64(w.Seconds) {
		w.Count = 0
		w.Last = now
	}
	if w.Count >= w.Limit {
		return false
	}
	w.Count++
	return true
}

// WouldAdmit is TryAdmit without side effects.
func (w *Window) WouldAdmit(now int64) bool {
	if !w.Enabled() {
		return true
	}
	if now-w.Last >= int64(w.Seconds) {
		return w.Limit > 0
	}
	return w.Count < w.Limit
}

// Estimate returns the count decayed linearly over the time since Last,
// the figure reported for source nodes.
// Estimate 返回按距 Last 的时间线性衰减后的计数。
func (w *Window) Estimate(now int64) uint32 {
	if w.Seconds == 0 {
		return w.Count
	}
	diff := now - w.Last
	if diff >= int64(w.Seconds) {
		return 0
	}
	if diff <= 0 {
		return w.Count
	}
	return w.Count - uint32(int64(w.Count)*diff/int64(w.Seconds))
}
