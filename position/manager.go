package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HCTech2/GOLD-HFT/config"
	"github.com/HCTech2/GOLD-HFT/interfaces"
	"github.com/HCTech2/GOLD-HFT/internal/constants"
	"github.com/HCTech2/GOLD-HFT/internal/utils"
	"github.com/HCTech2/GOLD-HFT/logging"
	"github.com/HCTech2/GOLD-HFT/models"
)

// CloseCallback is notified exactly once per closed ticket.
type CloseCallback func(*TradeRecord)

// OpenRequest carries everything needed to open and register a trade.
type OpenRequest struct {
	Direction  string
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Comment    string

	Trailing TrailingPlan

	SweepPhase    string
	HTFConfidence float64
	STCPrimary    float64
	STCConfirm    float64
	MLFeatures    []float64
}

// Manager owns the open-trade map and the trailing state machine.
//
// Locking: the manager shares one per-symbol mutex with the analysis
// loop. All exported methods except Run assume the caller already holds
// that mutex; Run (the reconciliation poller) takes it itself, so the
// two tasks are mutually exclusive on the trade map.
type Manager struct {
	mu     *sync.Mutex
	cfg    *config.Config
	broker interfaces.Broker
	logger logging.LoggerInterface

	instr     models.InstrumentInfo
	open      map[int64]*TradeRecord
	history   []*TradeRecord
	callbacks []CloseCallback

	markPrice float64
	now       func() time.Time
}

// NewManager builds a lifecycle manager sharing the per-symbol mutex mu.
func NewManager(cfg *config.Config, broker interfaces.Broker, mu *sync.Mutex, logger logging.LoggerInterface) *Manager {
	return &Manager{
		mu:     mu,
		cfg:    cfg,
		broker: broker,
		logger: logger,
		open:   make(map[int64]*TradeRecord),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetInstrument installs the broker volume/price constraints.
func (m *Manager) SetInstrument(info models.InstrumentInfo) { m.instr = info }

// SetMarkPrice stores the latest observed price, used to value trades
// discovered closed by the reconciler when no exit price is available.
func (m *Manager) SetMarkPrice(price float64) { m.markPrice = price }

// OnClose registers a callback run once per closed ticket.
func (m *Manager) OnClose(cb CloseCallback) { m.callbacks = append(m.callbacks, cb) }

// OpenTrades returns the live trade records. Callers must not retain
// the slice across unlock boundaries.
func (m *Manager) OpenTrades() []*TradeRecord {
	out := make([]*TradeRecord, 0, len(m.open))
	for _, t := range m.open {
		out = append(out, t)
	}
	return out
}

// OpenCount returns the number of open trades.
func (m *Manager) OpenCount() int { return len(m.open) }

// ClosedCount returns the number of finalized trades.
func (m *Manager) ClosedCount() int { return len(m.history) }

// History returns the append-only closed-trade list.
func (m *Manager) History() []*TradeRecord { return m.history }

// BrokerView maps the open records into the broker-position shape the
// risk gate consumes.
func (m *Manager) BrokerView() []models.BrokerPosition {
	out := make([]models.BrokerPosition, 0, len(m.open))
	for _, t := range m.open {
		out = append(out, models.BrokerPosition{
			Ticket:     t.Ticket,
			Symbol:     m.cfg.Symbol,
			Direction:  t.Direction,
			Volume:     t.Volume,
			EntryPrice: t.EntryPrice,
			StopLoss:   t.StopLoss,
			TakeProfit: t.TakeProfit,
			OpenTime:   t.EntryTime,
			Magic:      constants.MagicNumber,
		})
	}
	return out
}

// OpenTrade submits the order and registers the record only after the
// broker accepted it. A rejection is terminal for this attempt: no
// retry, no state change.
func (m *Manager) OpenTrade(req OpenRequest) (*TradeRecord, error) {
	ticket, err := m.broker.OpenPosition(req.Direction, req.Volume, req.Price, req.StopLoss, req.TakeProfit, req.Comment, constants.MagicNumber)
	if err != nil {
		m.logger.Error("Ordre %s %.2f @ %.2f rejeté: %v", req.Direction, req.Volume, req.Price, err)
		return nil, fmt.Errorf("open %s %.2f: %w", req.Direction, req.Volume, err)
	}

	t := &TradeRecord{
		Ticket:        ticket,
		Direction:     req.Direction,
		Volume:        req.Volume,
		EntryPrice:    req.Price,
		EntryTime:     m.now(),
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		State:         StateOpen,
		Trailing:      req.Trailing,
		SweepPhase:    req.SweepPhase,
		HTFConfidence: req.HTFConfidence,
		STCPrimary:    req.STCPrimary,
		STCConfirm:    req.STCConfirm,
		MLFeatures:    req.MLFeatures,
	}
	m.open[ticket] = t
	m.logger.Trade("Position ouverte: %s %.2f lots @ %.2f | SL %.2f | TP %.2f | ticket %d",
		req.Direction, req.Volume, req.Price, req.StopLoss, req.TakeProfit, ticket)
	return t, nil
}

// CloseTrade asks the broker to close the ticket and finalizes the
// record on success.
func (m *Manager) CloseTrade(ticket int64, exitPrice float64) error {
	t, ok := m.open[ticket]
	if !ok {
		m.logger.Error("Clôture demandée pour un ticket inconnu: %d", ticket)
		return fmt.Errorf("unknown ticket %d", ticket)
	}
	if err := m.broker.ClosePosition(ticket); err != nil {
		m.logger.Error("Clôture du ticket %d refusée: %v", ticket, err)
		return err
	}
	m.finalize(t, exitPrice)
	return nil
}

// ApplyTrailingAll runs the trailing state machine for every open trade
// at the current price. Called at the top of each analysis cycle,
// before any new entry is evaluated.
func (m *Manager) ApplyTrailingAll(price float64) {
	for _, t := range m.open {
		m.applyTrailing(t, price)
	}
}

// applyTrailing advances one trade through the two-stage machine.
//
// Stage 0 -> 1: when floating profit reaches the secure threshold, the
// stop moves to lock in that profit and the target is pushed out to the
// extension trigger. Stage 1 -> 2 and stage 2 maintenance: once profit
// reaches the extension trigger, the stop trails the price at the
// trailing distance, never retreating past the secured level, and a
// candidate is applied only when it improves the stop by more than half
// a point. The record mutates only after the broker confirmed the
// modification.
func (m *Manager) applyTrailing(t *TradeRecord, price float64) {
	profit := t.UnrealizedProfit(price)
	t.updateHighWater(profit)

	sign := utils.DirectionSign(t.Direction)
	if sign == 0 {
		m.logger.Error("Direction invalide %q sur le ticket %d", t.Direction, t.Ticket)
		return
	}
	plan := &t.Trailing

	if plan.Stage == StageArmed {
		if profit < plan.SecureProfit {
			return
		}
		newSL := t.EntryPrice + sign*t.priceOffset(plan.SecureProfit)
		newTP := t.EntryPrice + sign*t.priceOffset(plan.ExtensionTrigger)
		if err := m.broker.ModifyPosition(t.Ticket, newSL, newTP); err != nil {
			m.logger.Warning("Sécurisation du ticket %d refusée: %v", t.Ticket, err)
			return
		}
		t.StopLoss, t.TakeProfit = newSL, newTP
		plan.Stage = StageSecured
		m.logger.Trade("Ticket %d sécurisé: SL %.2f | TP %.2f (profit %.2f$)", t.Ticket, newSL, newTP, profit)
		return
	}

	if profit < plan.ExtensionTrigger {
		return
	}

	trailOffset := t.priceOffset(plan.TrailingDistance)
	securedSL := t.EntryPrice + sign*t.priceOffset(plan.SecureProfit)
	candidate := price - sign*trailOffset
	if sign > 0 {
		if candidate < securedSL {
			candidate = securedSL
		}
	} else {
		if candidate > securedSL {
			candidate = securedSL
		}
	}
	newTP := price + sign*trailOffset

	improvement := (candidate - t.StopLoss) * sign
	if plan.Stage >= StageTrailing && improvement <= m.minStep() {
		return
	}
	if err := m.broker.ModifyPosition(t.Ticket, candidate, newTP); err != nil {
		m.logger.Warning("Trailing du ticket %d refusé: %v", t.Ticket, err)
		return
	}
	t.StopLoss, t.TakeProfit = candidate, newTP
	plan.Stage = StageTrailing
	m.logger.Trade("Ticket %d en trailing: SL %.2f | TP %.2f (profit %.2f$)", t.Ticket, candidate, newTP, profit)
}

// minStep is the anti-chatter guard on stop improvements.
func (m *Manager) minStep() float64 {
	point := m.instr.Point
	if point <= 0 {
		point = constants.PipValue
	}
	return point * 0.5
}

// NextVolume sizes the next entry: the configured ladder indexed by the
// current open count, scaled by the combined multiplier, throttled
// under high volatility and boosted above 0.8 ML confidence, then
// snapped to the broker volume grid.
func (m *Manager) NextVolume(atr, mlConfidence, combinedMultiplier float64) float64 {
	idx := len(m.open)
	if idx >= len(m.cfg.PositionSizes) {
		idx = len(m.cfg.PositionSizes) - 1
	}
	volume := m.cfg.PositionSizes[idx] * combinedMultiplier

	if m.cfg.MaxATRThreshold > 0 {
		severity := atr / m.cfg.MaxATRThreshold
		if severity > 1 {
			severity = 1
		}
		factor := utils.Clamp(1-severity*(1-m.cfg.VolumeMinMultiplier), m.cfg.VolumeMinMultiplier, 1)
		volume *= factor
	}

	if mlConfidence > 0.8 {
		boost := 1 + ((mlConfidence-0.8)/0.2)*(m.cfg.VolumeMaxMultiplier-1)
		if boost > m.cfg.VolumeMaxMultiplier {
			boost = m.cfg.VolumeMaxMultiplier
		}
		volume *= boost
	}

	return utils.NormalizeVolume(volume, m.instr.MinVolume, m.instr.MaxVolume, m.instr.VolumeStep)
}

// Run is the background reconciliation poller. It periodically compares
// broker-side open positions against the local map to catch externally
// closed trades (stop-outs, human intervention) and adopts positions
// carrying our magic that the map does not know.
func (m *Manager) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.ReconcileIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcile()
		}
	}
}

// reconcile performs one poll under the shared mutex.
func (m *Manager) reconcile() {
	brokerSide, err := m.broker.GetOpenPositions(m.cfg.Symbol)
	if err != nil {
		m.logger.Warning("Réconciliation impossible: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	alive := make(map[int64]models.BrokerPosition, len(brokerSide))
	for _, p := range brokerSide {
		if p.Magic != constants.MagicNumber {
			continue
		}
		alive[p.Ticket] = p
		if _, known := m.open[p.Ticket]; !known {
			m.adopt(p)
		}
	}

	for ticket, t := range m.open {
		if _, still := alive[ticket]; still {
			continue
		}
		exit := m.markPrice
		if exit == 0 {
			m.logger.Error("Ticket %d fermé côté broker sans prix de référence, P&L estimé à l'entrée", ticket)
			exit = t.EntryPrice
		}
		m.logger.Info("Ticket %d fermé côté broker, finalisation", ticket)
		m.finalize(t, exit)
	}
}

// adopt registers a broker position carrying our magic that was opened
// outside the current process (restart, manual order with our tag).
func (m *Manager) adopt(p models.BrokerPosition) {
	t := &TradeRecord{
		Ticket:     p.Ticket,
		Direction:  utils.NormalizeDirection(p.Direction),
		Volume:     p.Volume,
		EntryPrice: p.EntryPrice,
		EntryTime:  p.OpenTime,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		State:      StateOpen,
		Trailing: TrailingPlan{
			SecureProfit:     m.cfg.TrailingSecureProfit,
			ExtensionTrigger: m.cfg.TrailingExtensionTrigger,
			TrailingDistance: m.cfg.TrailingDistance,
		},
	}
	m.open[p.Ticket] = t
	m.logger.Warning("Position inconnue adoptée: ticket %d %s %.2f @ %.2f", p.Ticket, t.Direction, p.Volume, p.EntryPrice)
}

// finalize moves a trade to the closed history and fans out the close
// callbacks. Removal from the map before notification makes the fan-out
// exactly-once per ticket.
func (m *Manager) finalize(t *TradeRecord, exitPrice float64) {
	if _, ok := m.open[t.Ticket]; !ok {
		return
	}
	delete(m.open, t.Ticket)

	t.ExitPrice = exitPrice
	t.ExitTime = m.now()
	t.Profit = t.realizedProfit()
	t.State = StateClosed
	m.history = append(m.history, t)

	m.logger.Trade("Position clôturée: ticket %d %s %.2f lots | %.2f -> %.2f | P&L %.2f$",
		t.Ticket, t.Direction, t.Volume, t.EntryPrice, t.ExitPrice, t.Profit)

	for _, cb := range m.callbacks {
		cb(t)
	}
}
