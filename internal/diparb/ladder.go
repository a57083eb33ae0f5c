package diparb

import (
	"sort"

	"github.com/betbot/quotebot/internal/domain"
)

// hedgeLadder 软对冲候选价：对侧当前价 + 各 offset，向下对齐 tick，去重后从高到低排列。
func hedgeLadder(oppPips int, offsets []float64, tickPips int) []int {
	seen := make(map[int]bool, len(offsets))
	out := make([]int, 0, len(offsets))
	for _, off := range offsets {
		p := domain.FloorToTick(oppPips+domain.ToPips(off), tickPips)
		if p < tickPips || p > domain.PipsPerUnit-tickPips || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// pickLadderRung 从高到低返回第一个满足 leg1 + rung <= sumTarget 的候选价
func pickLadderRung(leg1Pips, sumTargetPips int, candidates []int) (int, bool) {
	sorted := append([]int(nil), candidates...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	for _, c := range sorted {
		if leg1Pips+c <= sumTargetPips {
			return c, true
		}
	}
	return 0, false
}

// sumWithin 两腿成本和是否不超过目标
func sumWithin(leg1Pips, leg2Pips, sumTargetPips int) bool {
	return leg1Pips+leg2Pips <= sumTargetPips
}
