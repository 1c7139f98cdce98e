package interfaces

import (
	"time"

	"github.com/HCTech2/GOLD-HFT/models"
)

// Broker is the terminal/bridge collaborator the decision core trades
// through. Implementations must not block indefinitely: GetTick returns
// a stale tick with Fresh=false instead of stalling the analysis loop.
type Broker interface {
	GetTick() (models.Tick, error)
	GetCandles(timeframe string, count int) ([]models.Candle, error)
	OpenPosition(direction string, volume, price, sl, tp float64, comment string, magic int) (int64, error)
	ModifyPosition(ticket int64, sl, tp float64) error
	ClosePosition(ticket int64) error
	GetOpenPositions(symbol string) ([]models.BrokerPosition, error)
	GetAccountInfo() (models.AccountInfo, error)
	GetInstrumentInfo(symbol string) (models.InstrumentInfo, error)
	// GetClosedProfitSince sums realized profit of deals closed at or
	// after from, filtered by magic. Used to rebuild the daily P&L.
	GetClosedProfitSince(from time.Time, magic int) (float64, error)
}

// Recommendation is the fixed contract of the ML side-model. Multipliers
// scale the corresponding base parameters; AvoidTrade vetoes the entry.
type Recommendation struct {
	RiskMultiplier   float64
	SLMultiplier     float64
	TPMultiplier     float64
	SecureProfit     float64
	ExtensionTrigger float64
	TrailingDistance float64
	AvoidTrade       bool
	Confidence       float64
}

// Experience is the feedback fed back to the recommender after a trade
// closes.
type Experience struct {
	Direction     string
	Profit        float64
	Features      []float64
	HoldingTime   time.Duration
	SweepAssisted bool
}

// Recommender is the narrow contract of the ML agent. Model internals
// are out of scope for the decision core and are mocked in tests.
type Recommender interface {
	Recommend(ctx RecommendContext, direction string) Recommendation
	Update(exp Experience)
}

// RecommendContext is the market snapshot handed to the recommender.
type RecommendContext struct {
	Direction      string
	IchimokuCross  float64
	Volatility     float64
	VolumePressure float64
	SessionScore   float64
	STCPrimary     float64
	STCConfirm     float64
	Favorable      bool
}

// TradeJournal persists one immutable record per closed ticket.
type TradeJournal interface {
	Record(rec JournalRecord) error
	Close() error
}

// JournalRecord is the append-only schema emitted per closed trade.
type JournalRecord struct {
	Ticket        int64     `json:"ticket"`
	Symbol        string    `json:"symbol"`
	Direction     string    `json:"direction"`
	Volume        float64   `json:"volume"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	Profit        float64   `json:"profit"`
	OpenTime      time.Time `json:"open_time"`
	CloseTime     time.Time `json:"close_time"`
	DurationSec   float64   `json:"duration_sec"`
	SweepPhase    string    `json:"sweep_phase,omitempty"`
	HTFConfidence float64   `json:"htf_confidence"`
	STCPrimary    float64   `json:"stc_primary"`
	STCConfirm    float64   `json:"stc_confirm"`
	TrailingStage int       `json:"trailing_stage"`
}
