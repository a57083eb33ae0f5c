package diparb

import (
	"testing"
	"time"
)

func TestPriceHistoryVelocity(t *testing.T) {
	h := NewPriceHistory(30 * time.Second)
	now := time.Unix(1_700_000_000, 0)
	for i, p := range []int{5000, 5000, 5000, 5000, 5000, 4000} {
		h.Add(now.Add(time.Duration(i)*time.Second), p)
	}
	if _, ok := h.Velocity(6); ok {
		t.Fatalf("样本不足时不应计算速度")
	}
	v, ok := h.Velocity(5)
	if !ok {
		t.Fatalf("expected velocity")
	}
	if v < -0.2001 || v > -0.1999 {
		t.Fatalf("expected -0.2, got %v", v)
	}
}

func TestPriceHistoryPrunesWindowAndDropsOutOfOrder(t *testing.T) {
	h := NewPriceHistory(10 * time.Second)
	now := time.Unix(1_700_000_000, 0)
	h.Add(now, 6000)
	h.Add(now.Add(5*time.Second), 5000)
	h.Add(now.Add(4*time.Second), 7000) // 时间倒退，丢弃
	if h.Len() != 2 {
		t.Fatalf("expected 2 points, got %d", h.Len())
	}
	drop, ok := h.DropFromHigh()
	if !ok || drop < 0.1666 || drop > 0.1667 {
		t.Fatalf("expected drop 1/6, got %v", drop)
	}

	h.Add(now.Add(12*time.Second), 4500)
	if h.Len() != 2 {
		t.Fatalf("窗口外样本应被裁剪，got %d", h.Len())
	}
	if last, _ := h.Last(); last != 4500 {
		t.Fatalf("unexpected last %d", last)
	}
	h.Reset()
	if h.Len() != 0 {
		t.Fatalf("reset failed")
	}
}
