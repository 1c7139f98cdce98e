package position

import (
	"time"

	"github.com/HCTech2/GOLD-HFT/internal/constants"
	"github.com/HCTech2/GOLD-HFT/internal/utils"
)

// Trade lifecycle states.
const (
	StateOpen    = "OPEN"
	StateClosed  = "CLOSED"
	StatePending = "PENDING"
)

// Trailing stages. Transitions are monotonic: armed -> secured ->
// trailing, never backwards.
const (
	StageArmed    = 0
	StageSecured  = 1
	StageTrailing = 2
)

// TrailingPlan carries the per-trade trailing parameters, in account
// currency dollars, together with the stage and high-water marks.
type TrailingPlan struct {
	Stage            int
	SecureProfit     float64
	ExtensionTrigger float64
	TrailingDistance float64

	LastProfit  float64
	MaxProfit   float64
	MaxDrawdown float64
}

// TradeRecord is one trade owned by the lifecycle manager while open,
// transferred to the immutable history on close.
type TradeRecord struct {
	Ticket     int64
	Direction  string
	Volume     float64
	EntryPrice float64
	EntryTime  time.Time
	StopLoss   float64
	TakeProfit float64
	State      string

	ExitPrice float64
	ExitTime  time.Time
	Profit    float64

	Trailing TrailingPlan

	// entry context kept for the journal and the ML feedback loop
	SweepPhase    string
	HTFConfidence float64
	STCPrimary    float64
	STCConfirm    float64
	MLFeatures    []float64
}

// UnrealizedProfit values the trade at price in account currency.
func (t *TradeRecord) UnrealizedProfit(price float64) float64 {
	return (price - t.EntryPrice) * t.Volume * constants.ContractMultiplier * utils.DirectionSign(t.Direction)
}

// realizedProfit values the trade at its exit price.
func (t *TradeRecord) realizedProfit() float64 {
	return (t.ExitPrice - t.EntryPrice) * t.Volume * constants.ContractMultiplier * utils.DirectionSign(t.Direction)
}

// priceOffset converts a dollar amount into a price distance for this
// trade's volume.
func (t *TradeRecord) priceOffset(dollars float64) float64 {
	notional := t.Volume * constants.ContractMultiplier
	if notional <= 0 {
		return 0
	}
	return dollars / notional
}

// updateHighWater refreshes the unrealized profit marks.
func (t *TradeRecord) updateHighWater(profit float64) {
	t.Trailing.LastProfit = profit
	if profit > t.Trailing.MaxProfit {
		t.Trailing.MaxProfit = profit
	}
	if dd := t.Trailing.MaxProfit - profit; dd > t.Trailing.MaxDrawdown {
		t.Trailing.MaxDrawdown = dd
	}
}
