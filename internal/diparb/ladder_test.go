package diparb

import (
	"reflect"
	"testing"
)

func TestPickLadderRungAcceptsOnlyProfitableSums(t *testing.T) {
	// leg1=0.40, sumTarget=0.85：0.42 可接受（0.82），0.50 不可接受（0.90）
	if r, ok := pickLadderRung(4000, 8500, []int{4200}); !ok || r != 4200 {
		t.Fatalf("0.42 should be accepted, got %d ok=%v", r, ok)
	}
	if _, ok := pickLadderRung(4000, 8500, []int{5000}); ok {
		t.Fatalf("0.50 should be rejected")
	}
}

func TestPickLadderRungReturnsHighestAcceptable(t *testing.T) {
	r, ok := pickLadderRung(4000, 8500, []int{4200, 5000, 4500, 4600})
	if !ok || r != 4500 {
		t.Fatalf("expected 4500, got %d ok=%v", r, ok)
	}
}

func TestHedgeLadderIsTickAlignedAndDescending(t *testing.T) {
	got := hedgeLadder(4300, []float64{0, 0.02, -0.01, 0.01, -0.02, 0.01}, 100)
	want := []int{4500, 4400, 4300, 4200, 4100}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}

	// 超出 [tick, 1-tick] 的候选丢弃
	got = hedgeLadder(9800, []float64{0.05, 0}, 100)
	if !reflect.DeepEqual(got, []int{9800}) {
		t.Fatalf("unexpected %v", got)
	}
}
