package domain

import "fmt"

// Outcome 二元市场的结果方向
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Opposite 返回对侧
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// MarketParams 市场参数快照（启动时获取一次，之后只读）。
// 重新获取时生成新值，不在原地修改。
type MarketParams struct {
	MarketID     string  // condition id
	Slug         string  // 市场 slug（仅用于日志）
	YesTokenID   string  // YES token 资产 ID
	NoTokenID    string  // NO token 资产 ID
	TickSize     float64 // 最小价格变动
	NegRisk      bool    // 是否为负风险市场
	MinOrderSize float64 // 交易所最小下单数量
}

// Validate 检查参数完整性
func (m *MarketParams) Validate() error {
	if m == nil {
		return fmt.Errorf("market params 为空")
	}
	if m.MarketID == "" {
		return fmt.Errorf("market id 为空")
	}
	if m.YesTokenID == "" || m.NoTokenID == "" {
		return fmt.Errorf("market %s: token id 不完整", m.MarketID)
	}
	if m.YesTokenID == m.NoTokenID {
		return fmt.Errorf("market %s: YES/NO token id 相同", m.MarketID)
	}
	if _, err := TickPips(m.TickSize); err != nil {
		return fmt.Errorf("market %s: %w", m.MarketID, err)
	}
	return nil
}

// TickPips tick size 对应的 pips（参数已校验时不会失败）
func (m *MarketParams) TickPips() int {
	p, err := TickPips(m.TickSize)
	if err != nil {
		return 100
	}
	return p
}

// TokenID 根据结果方向获取资产 ID
func (m *MarketParams) TokenID(o Outcome) string {
	if o == OutcomeYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// OutcomeOf 根据资产 ID 反查方向
func (m *MarketParams) OutcomeOf(tokenID string) (Outcome, bool) {
	switch tokenID {
	case m.YesTokenID:
		return OutcomeYes, true
	case m.NoTokenID:
		return OutcomeNo, true
	default:
		return "", false
	}
}

func (m *MarketParams) String() string {
	if m.Slug != "" {
		return m.Slug
	}
	return m.MarketID
}
