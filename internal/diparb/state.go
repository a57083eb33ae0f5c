package diparb

import (
	"time"

	"github.com/betbot/quotebot/internal/domain"
)

// Phase 套利状态机阶段
type Phase string

const (
	PhaseMonitoring Phase = "MONITORING"
	PhaseLeg1Filled Phase = "LEG1_FILLED"
	PhaseComplete   Phase = "COMPLETE"
)

// Leg 一条腿的成交记录（同时是 checkpoint 的持久化格式）
type Leg struct {
	Side      domain.Outcome `json:"side"`
	TokenID   string         `json:"tokenId"`
	FillPrice float64        `json:"fillPrice"`
	Size      float64        `json:"size"`
	OrderID   string         `json:"orderId"`
	FilledAt  time.Time      `json:"filledAt"`
}

// ArbState 状态快照
type ArbState struct {
	Phase         Phase
	Leg1          *Leg
	Leg2          *Leg
	HedgeDeadline time.Time
	Snoozes       int
	CompletedAt   time.Time
}

type state struct {
	phase         Phase
	leg1          *Leg
	leg2          *Leg
	hedgeDeadline time.Time
	snoozes       int
	completedAt   time.Time
}

func (s *state) reset() {
	*s = state{phase: PhaseMonitoring}
}

// State 返回状态副本
func (c *Controller) State() ArbState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := ArbState{
		Phase:         c.st.phase,
		HedgeDeadline: c.st.hedgeDeadline,
		Snoozes:       c.st.snoozes,
		CompletedAt:   c.st.completedAt,
	}
	if c.st.leg1 != nil {
		l := *c.st.leg1
		out.Leg1 = &l
	}
	if c.st.leg2 != nil {
		l := *c.st.leg2
		out.Leg2 = &l
	}
	return out
}
