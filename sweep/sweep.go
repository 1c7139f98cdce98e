package sweep

import (
	"math"
	"time"

	"github.com/HCTech2/GOLD-HFT/config"
	"github.com/HCTech2/GOLD-HFT/internal/constants"
	"github.com/HCTech2/GOLD-HFT/internal/utils"
	"github.com/HCTech2/GOLD-HFT/logging"
	"github.com/HCTech2/GOLD-HFT/models"
)

// Wave phases of a sweep.
const (
	PhaseIdle      = "idle"
	PhaseWave1     = "wave_1"
	PhaseWave2     = "wave_2_pullback"
	PhaseWave3     = "wave_3_extension"
	PhaseWave4     = "wave_4_pullback"
	PhaseWave5     = "wave_5_final"
	PhaseCompleted = "completed"
)

// Sweep speeds and their wave distances in pips.
const (
	SpeedSlow   = "SLOW"
	SpeedMedium = "MEDIUM"
	SpeedFast   = "FAST"
)

// Level is one rung of the progressive-entry ladder. Immutable after
// creation except for the one-way pending->executed transition.
type Level struct {
	Price       float64
	Volume      float64
	Wave        string
	OrderNumber int
	Executed    bool
	ExecutedAt  time.Time
	Ticket      int64
}

// State is one sweep: direction, origin, computed levels and placement
// progress. At most one State is active per instrument.
type State struct {
	Direction    string
	StartPrice   float64
	StartTime    time.Time
	Phase        string
	Speed        string
	Levels       []*Level
	OrdersPlaced int
	MaxOrders    int

	lastOrderTime time.Time
	htfConfidence float64
}

// Manager owns the active sweep, the divergence histories and the ring
// of completed sweeps. It is not safe for concurrent use: the trader
// serializes all access under the per-symbol mutex.
type Manager struct {
	cfg    *config.Config
	logger logging.LoggerInterface

	active  *State
	history []*State

	priceHistory []float64
	stcHistory   []float64

	atr float64

	now func() time.Time
}

// NewManager builds a sweep manager.
func NewManager(cfg *config.Config, logger logging.LoggerInterface) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetATR feeds the current ATR reading, refreshed by the analysis loop
// each cycle and consumed by the speed classification.
func (m *Manager) SetATR(atr float64) { m.atr = atr }

// Active returns the current sweep, nil when the slot is empty.
func (m *Manager) Active() *State { return m.active }

// History returns the retained completed sweeps, oldest first.
func (m *Manager) History() []*State { return m.history }

// DetectSweepStart decides whether a new sweep should begin. Two
// independent gates: the STC threshold gate (mode-dependent thresholds)
// or the divergence gate (threshold loosened by 5 points when an early
// reversal is detected); either one, combined with sufficient
// higher-timeframe confidence, triggers initialization. Returns whether
// a sweep was started.
func (m *Manager) DetectSweepStart(price float64, direction string, stcPrimary, stcConfirm, htfConfidence float64, unrestricted bool) bool {
	if m.active != nil {
		return false
	}
	if direction != constants.Buy && direction != constants.Sell {
		return false
	}

	divergence := m.DetectEarlyReversal(price, stcPrimary, direction)

	sellPrimary, sellConfirm := 75.0, 70.0
	buyPrimary, buyConfirm := 25.0, 30.0
	minConfidence := 60.0
	if unrestricted {
		sellPrimary, sellConfirm = 60.0, 55.0
		buyPrimary, buyConfirm = 40.0, 45.0
		minConfidence = 40.0
	}

	triggered := false
	switch direction {
	case constants.Sell:
		if stcPrimary > sellPrimary && stcConfirm > sellConfirm {
			triggered = true
		} else if divergence && stcPrimary > sellPrimary-5 {
			triggered = true
			m.logger.Info("Divergence baissière confirmée, seuil STC assoupli (%.1f > %.1f)", stcPrimary, sellPrimary-5)
		}
	case constants.Buy:
		if stcPrimary < buyPrimary && stcConfirm < buyConfirm {
			triggered = true
		} else if divergence && stcPrimary < buyPrimary+5 {
			triggered = true
			m.logger.Info("Divergence haussière confirmée, seuil STC assoupli (%.1f < %.1f)", stcPrimary, buyPrimary+5)
		}
	}

	if !triggered || htfConfidence < minConfidence {
		return false
	}

	stcDelta := math.Abs(stcPrimary - 50)
	m.startSweep(price, direction, stcDelta, htfConfidence)
	return true
}

// DetectEarlyReversal maintains rolling price/STC histories and looks
// for classic divergence over the last ten samples, split into an older
// and a newer half of five. For a SELL trend: price makes a higher high
// by more than 0.05% while the STC high drops by at least 5 points.
// Mirrored for BUY. A monotonic series never triggers.
func (m *Manager) DetectEarlyReversal(price, stc float64, trend string) bool {
	m.priceHistory = pushBounded(m.priceHistory, price, constants.DivergenceHistoryCap)
	m.stcHistory = pushBounded(m.stcHistory, stc, constants.DivergenceHistoryCap)

	if len(m.priceHistory) < constants.DivergenceMinSamples || len(m.stcHistory) < constants.DivergenceMinSamples {
		return false
	}

	prices := m.priceHistory[len(m.priceHistory)-constants.DivergenceMinSamples:]
	stcs := m.stcHistory[len(m.stcHistory)-constants.DivergenceMinSamples:]
	oldPrices, newPrices := prices[:5], prices[5:]
	oldSTCs, newSTCs := stcs[:5], stcs[5:]

	switch trend {
	case constants.Sell:
		oldHigh, newHigh := maxOf(oldPrices), maxOf(newPrices)
		oldSTCHigh, newSTCHigh := maxOf(oldSTCs), maxOf(newSTCs)
		priceUp := newHigh > oldHigh*(1+constants.DivergencePricePct/100)
		stcDown := newSTCHigh <= oldSTCHigh-constants.DivergenceSTCPoints
		return priceUp && stcDown
	case constants.Buy:
		oldLow, newLow := minOf(oldPrices), minOf(newPrices)
		oldSTCLow, newSTCLow := minOf(oldSTCs), minOf(newSTCs)
		priceDown := newLow < oldLow*(1-constants.DivergencePricePct/100)
		stcUp := newSTCLow >= oldSTCLow+constants.DivergenceSTCPoints
		return priceDown && stcUp
	}
	return false
}

// startSweep classifies the sweep speed, computes the level ladder and
// occupies the active slot.
func (m *Manager) startSweep(price float64, direction string, stcDelta, htfConfidence float64) {
	speed, wave1Pips, wave3Pips := classifySpeed(stcDelta, m.atr)

	s := &State{
		Direction:     direction,
		StartPrice:    price,
		StartTime:     m.now(),
		Phase:         PhaseWave1,
		Speed:         speed,
		MaxOrders:     maxOrdersFor(htfConfidence),
		htfConfidence: htfConfidence,
	}
	s.Levels = m.computeLevels(price, direction, wave1Pips, wave3Pips, htfConfidence)
	m.active = s

	m.logger.Info("SWEEP %s démarré @ %.2f | vitesse %s | %d niveaux | max %d ordres | confiance HTF %.0f%%",
		direction, price, speed, len(s.Levels), s.MaxOrders, htfConfidence)
}

// classifySpeed maps momentum and volatility onto the three-tier speed
// and the wave distances in pips.
func classifySpeed(stcDelta, atr float64) (string, float64, float64) {
	switch {
	case atr < 3 && stcDelta < 10:
		return SpeedSlow, 10, 20
	case atr < 6 && stcDelta < 20:
		return SpeedMedium, 20, 40
	default:
		return SpeedFast, 40, 80
	}
}

// maxOrdersFor bounds worst-case exposure by conviction.
func maxOrdersFor(htfConfidence float64) int {
	switch {
	case htfConfidence >= 90:
		return 5
	case htfConfidence >= 70:
		return 4
	case htfConfidence >= 50:
		return 3
	default:
		return 2
	}
}

// computeLevels derives the four ladder entries from the wave distances
// using the fixed retracement ratios. For SELL the ladder sits below
// the start and fills on upward pullbacks; BUY is the mirror image.
func (m *Manager) computeLevels(start float64, direction string, wave1Pips, wave3Pips, htfConfidence float64) []*Level {
	wave1Dist := wave1Pips * constants.PipValue
	wave3Dist := wave3Pips * constants.PipValue

	var prices [4]float64
	var waves [4]string
	if direction == constants.Sell {
		wave1Low := start - wave1Dist
		wave3Low := wave1Low - wave3Dist
		prices = [4]float64{
			start - 0.5*wave1Dist,
			wave1Low - 0.25*wave1Dist,
			wave3Low + 0.2*wave3Dist,
			wave3Low + 0.382*wave3Dist,
		}
	} else {
		wave1High := start + wave1Dist
		wave3High := wave1High + wave3Dist
		prices = [4]float64{
			start + 0.5*wave1Dist,
			wave1High + 0.25*wave1Dist,
			wave3High - 0.2*wave3Dist,
			wave3High - 0.382*wave3Dist,
		}
	}
	waves = [4]string{PhaseWave2, PhaseWave3, PhaseWave3, PhaseWave4}

	levels := make([]*Level, 0, len(prices))
	for i, p := range prices {
		levels = append(levels, &Level{
			Price:       p,
			Volume:      levelVolume(m.cfg.SweepBaseVolume, i+1, htfConfidence),
			Wave:        waves[i],
			OrderNumber: i + 1,
		})
	}
	return levels
}

// levelVolume is the additive martingale: base * order number, boosted
// by up to +50% at full higher-timeframe confidence.
func levelVolume(base float64, orderNumber int, htfConfidence float64) float64 {
	v := base * float64(orderNumber) * (1 + htfConfidence/200)
	return utils.Round2(utils.Clamp(v, 0.01, 100.0))
}

// ShouldPlaceOrder scans the ladder for the first unexecuted level whose
// trigger price has been reached. At most one level per call, in stored
// order, so a price jump across several levels still fills them one
// cycle at a time. A 10 second cooldown separates placements.
func (m *Manager) ShouldPlaceOrder(currentPrice float64) (*Level, bool) {
	s := m.active
	if s == nil {
		return nil, false
	}
	if !s.lastOrderTime.IsZero() && m.now().Sub(s.lastOrderTime) < constants.SweepLevelCooldownSec*time.Second {
		return nil, false
	}
	if s.OrdersPlaced >= s.MaxOrders {
		m.complete("max ordres atteint")
		return nil, false
	}
	for _, lvl := range s.Levels {
		if lvl.Executed {
			continue
		}
		if s.Direction == constants.Sell && currentPrice >= lvl.Price {
			return lvl, true
		}
		if s.Direction == constants.Buy && currentPrice <= lvl.Price {
			return lvl, true
		}
		// levels fill strictly in ladder order
		return nil, false
	}
	return nil, false
}

// MarkLevelExecuted commits the pending->executed transition after the
// broker accepted the order, advances the wave phase and arms the
// placement cooldown.
func (m *Manager) MarkLevelExecuted(lvl *Level, ticket int64) {
	s := m.active
	if s == nil || lvl == nil || lvl.Executed {
		return
	}
	lvl.Executed = true
	lvl.ExecutedAt = m.now()
	lvl.Ticket = ticket
	s.OrdersPlaced++
	s.lastOrderTime = m.now()
	s.Phase = lvl.Wave
	m.logger.Trade("SWEEP %s niveau %d exécuté @ %.2f (vol %.2f, ticket %d) — %d/%d",
		s.Direction, lvl.OrderNumber, lvl.Price, lvl.Volume, ticket, s.OrdersPlaced, s.MaxOrders)
}

// MarkAttemptFailed records a broker rejection: the level stays
// unexecuted and eligible, but the cooldown is armed so the next
// attempt waits out the window.
func (m *Manager) MarkAttemptFailed(lvl *Level) {
	if m.active == nil || lvl == nil {
		return
	}
	m.active.lastOrderTime = m.now()
	m.logger.Warning("SWEEP niveau %d rejeté par le broker, nouvel essai après cooldown", lvl.OrderNumber)
}

// Update is the per-tick health check: force-complete after the wall
// clock timeout, abort when price retraces past the invalidation
// distance against the sweep direction.
func (m *Manager) Update(price, stc float64) {
	s := m.active
	if s == nil {
		return
	}

	if m.now().Sub(s.StartTime) > constants.SweepTimeoutMinutes*time.Minute {
		m.complete("timeout")
		return
	}

	invalidation := constants.SweepAbortRetracePips * constants.PipValue
	if s.Direction == constants.Sell && price > s.StartPrice+invalidation {
		m.abort(price)
		return
	}
	if s.Direction == constants.Buy && price < s.StartPrice-invalidation {
		m.abort(price)
	}
}

// complete vacates the active slot and retains the sweep in the bounded
// history ring.
func (m *Manager) complete(reason string) {
	s := m.active
	if s == nil {
		return
	}
	s.Phase = PhaseCompleted
	m.history = append(m.history, s)
	if len(m.history) > constants.SweepHistoryCap {
		m.history = m.history[1:]
	}
	m.active = nil
	m.logger.Info("SWEEP %s terminé (%s): %d/%d ordres placés", s.Direction, reason, s.OrdersPlaced, s.MaxOrders)
}

// abort discards the sweep without retaining it. Completed sweeps are
// kept for diagnostics, invalidated ones are not.
func (m *Manager) abort(price float64) {
	s := m.active
	if s == nil {
		return
	}
	m.active = nil
	m.logger.Warning("SWEEP %s invalidé: retracement à %.2f contre %.2f (départ), %d ordres placés",
		s.Direction, price, s.StartPrice, s.OrdersPlaced)
}

// AdaptiveTPSL ties exit distances to the realized ladder amplitude.
// Narrow ladders take profit early, wide ones give the move room. Both
// distances are floored and the reward/risk ratio is kept at 1.5 or
// better. With no usable ladder the fixed fallback (20, 10) applies.
func (m *Manager) AdaptiveTPSL(currentPrice float64) (tp, sl float64) {
	s := m.active
	if s == nil || len(s.Levels) == 0 {
		if s != nil {
			m.logger.Error("Sweep actif sans niveaux: distances TP/SL par défaut")
		}
		return 20, 10
	}

	sweepRange := math.Abs(s.Levels[len(s.Levels)-1].Price - s.Levels[0].Price)
	var tpRatio, slRatio float64
	switch {
	case sweepRange < 10:
		tpRatio, slRatio = 0.6, 0.3
	case sweepRange < 25:
		tpRatio, slRatio = 0.7, 0.35
	default:
		tpRatio, slRatio = 0.8, 0.4
	}

	tp = sweepRange * tpRatio
	sl = sweepRange * slRatio
	if tp < 5 {
		tp = 5
	}
	if sl < 3 {
		sl = 3
	}
	if tp/sl < 1.5 {
		tp = sl * 1.5
	}
	return tp, sl
}

// Snapshot returns the read-only view for the status endpoint.
func (m *Manager) Snapshot() models.SweepSnapshot {
	s := m.active
	if s == nil {
		return models.SweepSnapshot{}
	}
	progress := 0.0
	if s.MaxOrders > 0 {
		progress = float64(s.OrdersPlaced) / float64(s.MaxOrders) * 100
	}
	return models.SweepSnapshot{
		Active:       true,
		Direction:    s.Direction,
		Phase:        s.Phase,
		Speed:        s.Speed,
		StartPrice:   s.StartPrice,
		OrdersPlaced: s.OrdersPlaced,
		MaxOrders:    s.MaxOrders,
		ProgressPct:  progress,
	}
}

func pushBounded(hist []float64, v float64, limit int) []float64 {
	hist = append(hist, v)
	if len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	return hist
}

func maxOf(vs []float64) float64 {
	out := vs[0]
	for _, v := range vs[1:] {
		if v > out {
			out = v
		}
	}
	return out
}

func minOf(vs []float64) float64 {
	out := vs[0]
	for _, v := range vs[1:] {
		if v < out {
			out = v
		}
	}
	return out
}
