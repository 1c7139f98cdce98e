package models

import "time"

// Tick is one top-of-book observation from the bridge. Fresh reports
// whether the bridge had new data; a stale tick is returned as-is with
// Fresh=false so callers can skip the cycle instead of blocking.
type Tick struct {
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
	Volume int64     `json:"volume"`
	Fresh  bool      `json:"fresh"`
}

// Mid returns the midpoint price of the tick.
func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

// Candle is one OHLCV bar, most-recent-last in any slice the bridge returns.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// AccountInfo mirrors the bridge account snapshot.
type AccountInfo struct {
	Equity      float64 `json:"equity"`
	Balance     float64 `json:"balance"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level"`
}

// BrokerPosition is an open position as reported by the bridge.
type BrokerPosition struct {
	Ticket           int64     `json:"ticket"`
	Symbol           string    `json:"symbol"`
	Direction        string    `json:"direction"`
	Volume           float64   `json:"volume"`
	EntryPrice       float64   `json:"entry_price"`
	StopLoss         float64   `json:"sl"`
	TakeProfit       float64   `json:"tp"`
	OpenTime         time.Time `json:"open_time"`
	UnrealizedProfit float64   `json:"unrealized_profit"`
	Magic            int       `json:"magic"`
}

// InstrumentInfo carries the broker volume/price constraints used to
// normalize order parameters.
type InstrumentInfo struct {
	MinVolume  float64 `json:"min_volume"`
	MaxVolume  float64 `json:"max_volume"`
	VolumeStep float64 `json:"volume_step"`
	Point      float64 `json:"point"`
	Digits     int     `json:"digits"`
}

// RiskSnapshot is the read-only view of the risk manager state exposed
// to the status endpoint and the dashboard.
type RiskSnapshot struct {
	CircuitBreakerActive bool      `json:"circuit_breaker_active"`
	CircuitBreakerReason string    `json:"circuit_breaker_reason,omitempty"`
	CircuitBreakerSince  time.Time `json:"circuit_breaker_since,omitempty"`
	DailyPnL             float64   `json:"daily_pnl"`
	DailyTrades          int       `json:"daily_trades"`
	ConsecutiveLosses    int       `json:"consecutive_losses"`
	CooldownUntil        time.Time `json:"cooldown_until,omitempty"`
	PeakEquity           float64   `json:"peak_equity"`
}

// SweepSnapshot is the read-only view of the active sweep, if any.
type SweepSnapshot struct {
	Active       bool    `json:"active"`
	Direction    string  `json:"direction,omitempty"`
	Phase        string  `json:"phase,omitempty"`
	Speed        string  `json:"speed,omitempty"`
	StartPrice   float64 `json:"start_price,omitempty"`
	OrdersPlaced int     `json:"orders_placed"`
	MaxOrders    int     `json:"max_orders"`
	ProgressPct  float64 `json:"progress_pct"`
}

// StatusSnapshot is the full read-only state published by the status
// server and pushed to dashboard clients.
type StatusSnapshot struct {
	Symbol        string        `json:"symbol"`
	Uptime        string        `json:"uptime"`
	LastTick      Tick          `json:"last_tick"`
	TrendBias     string        `json:"trend_bias,omitempty"`
	HTFConfidence float64       `json:"htf_confidence"`
	OpenPositions int           `json:"open_positions"`
	ClosedTrades  int           `json:"closed_trades"`
	Risk          RiskSnapshot  `json:"risk"`
	Sweep         SweepSnapshot `json:"sweep"`
	Paused        bool          `json:"paused"`
	CyclesRun     int64         `json:"cycles_run"`
}
