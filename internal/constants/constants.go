package constants

// Market directions
const (
	Buy  = "BUY"
	Sell = "SELL"
)

// Timeframes understood by the bridge
const (
	M1  = "M1"
	M5  = "M5"
	M15 = "M15"
	M30 = "M30"
	H1  = "H1"
	H4  = "H4"
)

// Instrument math for XAUUSD-style symbols
const (
	// PipValue is the price distance of one pip on the traded instrument.
	PipValue = 0.01
	// ContractMultiplier converts (price delta * lots) into account currency.
	ContractMultiplier = 100.0
)

// MagicNumber tags every order this strategy owns so externally placed
// trades on the same account are never touched.
const MagicNumber = 234000

// Indicator defaults
const (
	DefaultATRPeriod    = 14
	DefaultSTCFast      = 10
	DefaultSTCSlow      = 23
	DefaultSTCCycle     = 50
	DefaultTenkanPeriod = 9
	DefaultKijunPeriod  = 26
	DefaultSenkouB      = 52
)

// Sweep engine calibration. Tuned against live sessions; changing any of
// these invalidates the calibration.
const (
	SweepLevelCooldownSec = 10
	SweepTimeoutMinutes   = 5
	SweepAbortRetracePips = 30
	SweepHistoryCap       = 10
	DivergenceHistoryCap  = 20
	DivergenceMinSamples  = 10
	DivergencePricePct    = 0.05
	DivergenceSTCPoints   = 5.0
)
