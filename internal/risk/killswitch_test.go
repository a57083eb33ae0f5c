package risk

import (
	"errors"
	"testing"
	"time"
)

func TestKillSwitchWindowAndTrip(t *testing.T) {
	start := time.Unix(1000, 0)
	ks := NewKillSwitch(KillSwitchConfig{MaxRequotes: 3, Window: time.Minute, Cooldown: 30 * time.Second}, start)

	for i := 0; i < 3; i++ {
		ks.Record()
	}
	if ks.Exceeded() {
		t.Fatalf("3 次不应超过上限 3")
	}
	ks.Record()
	if !ks.Exceeded() {
		t.Fatalf("4 次应超过上限 3")
	}
	if !ks.Trip() {
		t.Fatalf("expected first trip to succeed")
	}
	if ks.Trip() {
		t.Fatalf("expected repeated trip to report false")
	}
	if !errors.Is(ks.AllowTrading(), ErrKillSwitchTripped) {
		t.Fatalf("expected ErrKillSwitchTripped")
	}

	resumeAt := start.Add(30 * time.Second)
	ks.Resume(resumeAt)
	if ks.Tripped() || ks.Count() != 0 || !ks.WindowStart().Equal(resumeAt) {
		t.Fatalf("expected clean state after resume, count=%d", ks.Count())
	}
}

func TestKillSwitchRoll(t *testing.T) {
	start := time.Unix(0, 0)
	ks := NewKillSwitch(KillSwitchConfig{MaxRequotes: 10, Window: time.Minute}, start)
	ks.Record()
	ks.Record()

	ks.Roll(start.Add(time.Minute))
	if ks.Count() != 2 {
		t.Fatalf("窗口恰好到期时不清零, got %d", ks.Count())
	}
	later := start.Add(time.Minute + time.Millisecond)
	ks.Roll(later)
	if ks.Count() != 0 || !ks.WindowStart().Equal(later) {
		t.Fatalf("expected rolled window, count=%d", ks.Count())
	}
}

func TestKillSwitchDisabled(t *testing.T) {
	ks := NewKillSwitch(KillSwitchConfig{}, time.Unix(0, 0))
	for i := 0; i < 100; i++ {
		ks.Record()
	}
	if ks.Exceeded() {
		t.Fatalf("MaxRequotes<=0 应关闭熔断")
	}
}
