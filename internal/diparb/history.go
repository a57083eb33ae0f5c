package diparb

import "time"

type pricePoint struct {
	at   time.Time
	pips int
}

// PriceHistory 单个方向的滑动窗口价格历史（按时间递增）
type PriceHistory struct {
	window time.Duration
	points []pricePoint
}

func NewPriceHistory(window time.Duration) *PriceHistory {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &PriceHistory{
		window: window,
		points: make([]pricePoint, 0, 64),
	}
}

func (h *PriceHistory) Reset() {
	if h == nil {
		return
	}
	// 复用底层数组
	h.points = h.points[:0]
}

// Add 追加一个样本并裁剪窗口外的旧样本；时间倒退的样本丢弃。
func (h *PriceHistory) Add(at time.Time, pips int) {
	if h == nil || pips <= 0 {
		return
	}
	if n := len(h.points); n > 0 && at.Before(h.points[n-1].at) {
		return
	}
	h.points = append(h.points, pricePoint{at: at, pips: pips})
	h.prune(at)
}

func (h *PriceHistory) prune(now time.Time) {
	if len(h.points) == 0 {
		return
	}
	cutoff := now.Add(-h.window)
	// 找到第一个 >= cutoff 的 index
	i := 0
	for i < len(h.points) && h.points[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	if i >= len(h.points) {
		h.points = h.points[:0]
		return
	}
	copy(h.points, h.points[i:])
	h.points = h.points[:len(h.points)-i]
}

// Len 样本数
func (h *PriceHistory) Len() int {
	if h == nil {
		return 0
	}
	return len(h.points)
}

// Last 最新价格（pips）
func (h *PriceHistory) Last() (int, bool) {
	if h == nil || len(h.points) == 0 {
		return 0, false
	}
	return h.points[len(h.points)-1].pips, true
}

// Velocity 最近 k 个样本的相对变化：(p_last - p_{last-k}) / p_{last-k}。
// 样本不足 k+1 个时 ok=false。
func (h *PriceHistory) Velocity(k int) (float64, bool) {
	if h == nil || k <= 0 || len(h.points) < k+1 {
		return 0, false
	}
	last := h.points[len(h.points)-1].pips
	base := h.points[len(h.points)-1-k].pips
	if base <= 0 {
		return 0, false
	}
	return float64(last-base) / float64(base), true
}

// DropFromHigh 最新价相对窗口最高价的跌幅（0..1）
func (h *PriceHistory) DropFromHigh() (float64, bool) {
	if h == nil || len(h.points) == 0 {
		return 0, false
	}
	high := 0
	for _, p := range h.points {
		if p.pips > high {
			high = p.pips
		}
	}
	last := h.points[len(h.points)-1].pips
	if high <= 0 {
		return 0, false
	}
	return float64(high-last) / float64(high), true
}
