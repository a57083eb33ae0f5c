package quoting

import (
	"time"

	"github.com/betbot/quotebot/internal/domain"
)

// QuoteState 单个市场的报价状态快照
type QuoteState struct {
	CurrentBid         float64
	CurrentAsk         float64
	LastQuotedBid      float64
	LastQuotedAsk      float64
	ActiveOrderIDs     []string
	RequoteCount       int
	LastRequoteResetAt time.Time
	IsTradingHalted    bool
	IsExiting          bool
	IsDumping          bool
	IsUpdating         bool
	ForcedDrift        bool
	LastPlacementAt    time.Time
}

// state 控制器内部状态（c.mu 保护），价格以 pips 存储
type state struct {
	currentBid    int
	currentAsk    int
	lastQuotedBid int
	lastQuotedAsk int
	activeIDs     []string

	halted      bool // 成交后停止报价
	exiting     bool
	dumping     bool
	forcedDrift bool
	fillSeq     uint64 // 每次成交推送 +1

	lastPlacementAt time.Time
}

func (s *state) clearQuotes() {
	s.currentBid, s.currentAsk = 0, 0
	s.activeIDs = nil
}

// blocked 成交退出/清仓期间禁止报价
func (s *state) blocked() bool {
	return s.halted || s.exiting || s.dumping
}

// State 返回当前状态的副本
func (c *Controller) State() QuoteState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return QuoteState{
		CurrentBid:         domain.FromPips(c.st.currentBid),
		CurrentAsk:         domain.FromPips(c.st.currentAsk),
		LastQuotedBid:      domain.FromPips(c.st.lastQuotedBid),
		LastQuotedAsk:      domain.FromPips(c.st.lastQuotedAsk),
		ActiveOrderIDs:     append([]string(nil), c.st.activeIDs...),
		RequoteCount:       c.ks.Count(),
		LastRequoteResetAt: c.ks.WindowStart(),
		IsTradingHalted:    c.st.halted || c.ks.Tripped(),
		IsExiting:          c.st.exiting,
		IsDumping:          c.st.dumping,
		IsUpdating:         c.gate.Busy(),
		ForcedDrift:        c.st.forcedDrift,
		LastPlacementAt:    c.st.lastPlacementAt,
	}
}
