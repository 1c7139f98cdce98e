package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/HCTech2/GOLD-HFT/config"
	"github.com/HCTech2/GOLD-HFT/interfaces"
	"github.com/HCTech2/GOLD-HFT/internal/constants"
	"github.com/HCTech2/GOLD-HFT/logging"
	"github.com/HCTech2/GOLD-HFT/models"
)

// Manager is the admission gate every entry must pass. It owns the
// circuit breaker latch, the daily counters and the loss-streak
// cooldown. All rule evaluation is fail-closed: when equity or the deal
// ledger cannot be fetched, the trade is denied, never silently allowed.
type Manager struct {
	cfg    *config.Config
	broker interfaces.Broker
	logger logging.LoggerInterface

	mu sync.Mutex

	breakerActive bool
	breakerReason string
	breakerSince  time.Time

	dailyPnL    float64
	dailyTrades int
	resetDay    time.Time

	consecutiveLosses int
	cooldownUntil     time.Time

	peakEquity float64

	// now is swapped in tests to drive day boundaries and cooldowns.
	now func() time.Time
}

// NewManager builds a risk manager bound to the broker used for equity
// and closed-deal queries.
func NewManager(cfg *config.Config, broker interfaces.Broker, logger logging.LoggerInterface) *Manager {
	return &Manager{
		cfg:      cfg,
		broker:   broker,
		logger:   logger,
		resetDay: dateOnly(time.Now()),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// CheckCanTrade evaluates all enabled rules in order and short-circuits
// on the first violation. Only the daily-loss and drawdown rules trip
// the circuit breaker; the remaining rules deny just the current
// request. Rule one is absolute: with the breaker globally disabled the
// gate always allows.
func (m *Manager) CheckCanTrade(direction string, openPositions []models.BrokerPosition) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.CircuitBreakerEnabled {
		return true, "circuit breaker désactivé"
	}

	now := m.now()
	m.resetDailyCountersLocked(now)

	if m.breakerActive {
		return false, m.breakerReason
	}

	if !m.cooldownUntil.IsZero() {
		if now.Before(m.cooldownUntil) {
			remaining := m.cooldownUntil.Sub(now).Minutes()
			return false, fmt.Sprintf("COOLDOWN ACTIF: %.0f min restantes", math.Ceil(remaining))
		}
		m.cooldownUntil = time.Time{}
		m.logger.Info("Cooldown expiré, trading réactivé")
	}

	if m.cfg.DailyLossRuleEnabled {
		pnl, err := m.broker.GetClosedProfitSince(dateOnly(now), constants.MagicNumber)
		if err != nil {
			m.logger.Error("Impossible de vérifier le P&L journalier: %v", err)
			return false, "VÉRIFICATION P&L IMPOSSIBLE"
		}
		m.dailyPnL = pnl
		if m.dailyPnL <= -m.cfg.MaxDailyLoss {
			m.tripLocked(fmt.Sprintf("PERTE JOURNALIÈRE MAX ATTEINTE: %.2f$ (limite %.2f$)", m.dailyPnL, m.cfg.MaxDailyLoss), now)
			return false, m.breakerReason
		}
	}

	if m.cfg.DailyTradesRuleEnabled && m.dailyTrades >= m.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("LIMITE DE TRADES JOURNALIERS ATTEINTE: %d", m.dailyTrades)
	}

	var equity float64
	if m.cfg.DrawdownRuleEnabled || m.cfg.PortfolioRuleEnabled {
		acc, err := m.broker.GetAccountInfo()
		if err != nil || acc.Equity <= 0 {
			m.logger.Error("Impossible de vérifier l'equity du compte: %v", err)
			return false, "VÉRIFICATION EQUITY IMPOSSIBLE"
		}
		equity = acc.Equity
	}

	if m.cfg.DrawdownRuleEnabled {
		if m.peakEquity > 0 {
			drawdown := (m.peakEquity - equity) / m.peakEquity * 100
			if drawdown > m.cfg.MaxDrawdownPct {
				m.tripLocked(fmt.Sprintf("DRAWDOWN MAX ATTEINT: %.1f%% (limite %.1f%%)", drawdown, m.cfg.MaxDrawdownPct), now)
				return false, m.breakerReason
			}
		}
		if equity > m.peakEquity {
			m.peakEquity = equity
		}
	}

	if m.cfg.CorrelationRuleEnabled {
		sameDirection := 0
		for _, p := range openPositions {
			if p.Direction == direction {
				sameDirection++
			}
		}
		if sameDirection >= m.cfg.MaxCorrelatedPositions {
			return false, fmt.Sprintf("TROP DE POSITIONS CORRÉLÉES: %d %s", sameDirection, direction)
		}
	}

	if m.cfg.PortfolioRuleEnabled {
		atRisk := 0.0
		for _, p := range openPositions {
			atRisk += math.Abs(p.EntryPrice-p.StopLoss) * p.Volume * constants.ContractMultiplier
		}
		riskPct := atRisk / equity * 100
		if riskPct > m.cfg.MaxPortfolioRiskPct {
			return false, fmt.Sprintf("RISQUE PORTEFEUILLE TROP ÉLEVÉ: %.1f%% (limite %.1f%%)", riskPct, m.cfg.MaxPortfolioRiskPct)
		}
	}

	return true, "OK"
}

// resetDailyCountersLocked zeroes the daily accumulators when the local
// day has advanced. The breaker latch and the loss streak deliberately
// survive the boundary.
func (m *Manager) resetDailyCountersLocked(now time.Time) {
	today := dateOnly(now)
	if today.After(m.resetDay) {
		m.logger.Info("Nouveau jour de trading %s: compteurs journaliers remis à zéro", today.Format("2006-01-02"))
		m.dailyPnL = 0
		m.dailyTrades = 0
		m.resetDay = today
	}
}

func (m *Manager) tripLocked(reason string, now time.Time) {
	m.breakerActive = true
	m.breakerReason = reason
	m.breakerSince = now
	m.logger.Error("CIRCUIT BREAKER DÉCLENCHÉ: %s", reason)
}

// RecordTradeOpened bumps the daily trade counter.
func (m *Manager) RecordTradeOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDailyCountersLocked(m.now())
	m.dailyTrades++
}

// RecordTradeClosed folds a realized result into the daily P&L and
// drives the loss-streak cooldown. A losing close increments the streak
// and arms the cooldown at the configured maximum; any non-negative
// close resets the streak unconditionally. The breaker latch is never
// cleared here.
func (m *Manager) RecordTradeClosed(profit float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.resetDailyCountersLocked(now)
	m.dailyPnL += profit

	if !m.cfg.LossStreakRuleEnabled {
		return
	}
	if profit < 0 {
		m.consecutiveLosses++
		m.logger.Warning("Perte enregistrée (%.2f$), série de pertes: %d/%d", profit, m.consecutiveLosses, m.cfg.MaxConsecutiveLosses)
		if m.consecutiveLosses >= m.cfg.MaxConsecutiveLosses {
			m.cooldownUntil = now.Add(time.Duration(m.cfg.CooldownMinutes) * time.Minute)
			m.logger.Error("Série de %d pertes: cooldown jusqu'à %s", m.consecutiveLosses, m.cooldownUntil.Format("15:04:05"))
		}
	} else {
		m.consecutiveLosses = 0
	}
}

// Deactivate explicitly clears the circuit breaker. This is the only
// way out of a tripped latch.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerActive {
		m.logger.Warning("Circuit breaker désactivé manuellement (raison précédente: %s)", m.breakerReason)
	}
	m.breakerActive = false
	m.breakerReason = ""
	m.breakerSince = time.Time{}
}

// BreakerActive reports whether the latch is currently tripped.
func (m *Manager) BreakerActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakerActive
}

// Unrestricted reports whether sweep detection may use the relaxed
// thresholds, which the strategy ties to the breaker being globally
// disabled.
func (m *Manager) Unrestricted() bool {
	return !m.cfg.CircuitBreakerEnabled
}

// Snapshot returns a read-only copy of the runtime state for the status
// endpoint.
func (m *Manager) Snapshot() models.RiskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.RiskSnapshot{
		CircuitBreakerActive: m.breakerActive,
		CircuitBreakerReason: m.breakerReason,
		CircuitBreakerSince:  m.breakerSince,
		DailyPnL:             m.dailyPnL,
		DailyTrades:          m.dailyTrades,
		ConsecutiveLosses:    m.consecutiveLosses,
		CooldownUntil:        m.cooldownUntil,
		PeakEquity:           m.peakEquity,
	}
}

func dateOnly(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}
