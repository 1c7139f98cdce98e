package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HCTech2/GOLD-HFT/config"
	"github.com/HCTech2/GOLD-HFT/indicators"
	"github.com/HCTech2/GOLD-HFT/interfaces"
	"github.com/HCTech2/GOLD-HFT/internal/constants"
	"github.com/HCTech2/GOLD-HFT/internal/utils"
	"github.com/HCTech2/GOLD-HFT/logging"
	"github.com/HCTech2/GOLD-HFT/marketctx"
	"github.com/HCTech2/GOLD-HFT/ml"
	"github.com/HCTech2/GOLD-HFT/models"
	"github.com/HCTech2/GOLD-HFT/position"
	"github.com/HCTech2/GOLD-HFT/risk"
	"github.com/HCTech2/GOLD-HFT/sweep"
)

// maxBrokerErrors is the failure streak after which the trader flips to
// the observable paused state instead of busy-looping errors.
const maxBrokerErrors = 50

// Trader fuses the multi-timeframe STC trend, the Ichimoku crossover
// trigger and the sweep engine into entries, gated by the risk manager.
// One Trader per symbol. The analysis loop and the position reconciler
// are the only goroutines mutating shared trade state, serialized by mu.
type Trader struct {
	Config *config.Config
	Broker interfaces.Broker
	Logger logging.LoggerInterface

	Risk        *risk.Manager
	Sweep       *sweep.Manager
	Positions   *position.Manager
	Recommender interfaces.Recommender
	Journal     interfaces.TradeJournal

	mu sync.Mutex

	ticks <-chan models.Tick

	startTime    time.Time
	lastTick     models.Tick
	lastSTC      float64
	trendBias    string
	htfConf      float64
	cyclesRun    int64
	paused       bool
	brokerErrors int
}

// NewTrader wires the decision core together. The position manager is
// created here so it shares the trader's per-symbol mutex, and the
// close fan-out (risk statistics, journal, ML feedback) is registered
// exactly once.
func NewTrader(cfg *config.Config, broker interfaces.Broker, riskMgr *risk.Manager, rec interfaces.Recommender, jrnl interfaces.TradeJournal, logger logging.LoggerInterface) *Trader {
	t := &Trader{
		Config:      cfg,
		Broker:      broker,
		Logger:      logger,
		Risk:        riskMgr,
		Sweep:       sweep.NewManager(cfg, logger),
		Recommender: rec,
		Journal:     jrnl,
		lastSTC:     50,
		startTime:   time.Now(),
	}
	t.Positions = position.NewManager(cfg, broker, &t.mu, logger)
	t.Positions.OnClose(t.onTradeClosed)
	return t
}

// SetTickStream installs the optional websocket tick source. When set,
// the analysis loop consumes streamed ticks instead of polling.
func (t *Trader) SetTickStream(ticks <-chan models.Tick) { t.ticks = ticks }

// onTradeClosed runs under the shared mutex, once per ticket.
func (t *Trader) onTradeClosed(tr *position.TradeRecord) {
	t.Risk.RecordTradeClosed(tr.Profit)

	if t.Journal != nil {
		rec := interfaces.JournalRecord{
			Ticket:        tr.Ticket,
			Symbol:        t.Config.Symbol,
			Direction:     tr.Direction,
			Volume:        tr.Volume,
			EntryPrice:    tr.EntryPrice,
			ExitPrice:     tr.ExitPrice,
			Profit:        tr.Profit,
			OpenTime:      tr.EntryTime,
			CloseTime:     tr.ExitTime,
			DurationSec:   tr.ExitTime.Sub(tr.EntryTime).Seconds(),
			SweepPhase:    tr.SweepPhase,
			HTFConfidence: tr.HTFConfidence,
			STCPrimary:    tr.STCPrimary,
			STCConfirm:    tr.STCConfirm,
			TrailingStage: tr.Trailing.Stage,
		}
		if err := t.Journal.Record(rec); err != nil {
			t.Logger.Error("Journalisation du ticket %d impossible: %v", tr.Ticket, err)
		}
	}

	if t.Recommender != nil && len(tr.MLFeatures) > 0 {
		t.Recommender.Update(interfaces.Experience{
			Direction:     tr.Direction,
			Profit:        tr.Profit,
			Features:      tr.MLFeatures,
			HoldingTime:   tr.ExitTime.Sub(tr.EntryTime),
			SweepAssisted: tr.SweepPhase != "",
		})
	}
}

// Run drives the analysis loop at the configured interval until ctx is
// cancelled. Every cycle is wrapped so a single bad iteration is logged
// and the loop continues on the next tick.
func (t *Trader) Run(ctx context.Context) {
	interval := time.Duration(t.Config.AnalysisIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.Logger.Info("Boucle d'analyse démarrée: %s toutes les %s", t.Config.Symbol, interval)
	for {
		select {
		case <-ctx.Done():
			t.Logger.Info("Boucle d'analyse arrêtée")
			return
		case tick := <-t.tickStream():
			t.safeCycle(tick)
		case <-ticker.C:
			tick, err := t.Broker.GetTick()
			if err != nil {
				t.noteBrokerError(err)
				continue
			}
			t.noteBrokerOK()
			t.safeCycle(tick)
		}
	}
}

// tickStream returns the streamed tick channel, or a nil channel (never
// ready) when streaming is disabled.
func (t *Trader) tickStream() <-chan models.Tick {
	if t.Config.UseTickStream {
		return t.ticks
	}
	return nil
}

func (t *Trader) noteBrokerError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.brokerErrors++
	if t.brokerErrors == maxBrokerErrors {
		t.paused = true
		t.Logger.Error("Liaison bridge dégradée (%d échecs consécutifs), trading en pause: %v", t.brokerErrors, err)
	} else if t.brokerErrors < maxBrokerErrors {
		t.Logger.Debug("Tick indisponible: %v", err)
	}
}

func (t *Trader) noteBrokerOK() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		t.Logger.Info("Liaison bridge rétablie, trading repris")
	}
	t.brokerErrors = 0
	t.paused = false
}

// safeCycle isolates one iteration: an invariant violation somewhere in
// the pipeline must never take the loop down.
func (t *Trader) safeCycle(tick models.Tick) {
	defer func() {
		if r := recover(); r != nil {
			t.Logger.Error("Cycle d'analyse interrompu par une erreur interne: %v", r)
		}
	}()
	t.cycle(tick)
}

// cycle is one full pass of the decision pipeline, entirely under the
// per-symbol mutex: reactive close, trailing, indicators, trend fusion,
// risk gate, sweep, entry.
func (t *Trader) cycle(tick models.Tick) {
	if !tick.Fresh {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cyclesRun++
	t.lastTick = tick
	price := tick.Mid()
	t.Positions.SetMarkPrice(price)

	// exits always run, even when entries end up gated
	t.reactiveProfitClose(price)
	t.Positions.ApplyTrailingAll(price)

	// sweep health check runs every cycle, before the candle fetch, so
	// timeouts and invalidation fire even during a feed outage; the
	// last known STC stands in until fresh candles arrive
	t.Sweep.Update(price, t.lastSTC)

	candles, err := t.Broker.GetCandles(constants.M1, t.Config.CandleCount)
	if err != nil {
		t.Logger.Debug("Bougies M1 indisponibles: %v", err)
		return
	}
	if len(candles) < t.Config.MinCandles {
		return
	}
	closes, highs, lows := splitOHLC(candles)

	stc1, ok := indicators.STC(closes, t.Config.STCFast, t.Config.STCSlow, t.Config.STCCycle)
	if !ok {
		return
	}
	t.lastSTC = stc1
	stc5 := 50.0
	if m5, err := t.Broker.GetCandles(constants.M5, t.Config.CandleCount); err == nil {
		if v, ok := indicators.STC(closesOf(m5), t.Config.STCFast, t.Config.STCSlow, t.Config.STCCycle); ok {
			stc5 = v
		}
	}

	atr, _ := indicators.ATR(highs, lows, closes, t.Config.ATRPeriod)
	t.Sweep.SetATR(atr)

	votes, stcPerTF := t.higherTimeframeVotes()
	trend, confidence := t.decideTrend(stc1, stc5, votes)
	t.trendBias = trend
	t.htfConf = confidence

	if trend == "" {
		return
	}

	cross, crossSignal := t.ichimokuSignal(closes, trend, stc1)

	mctx, ok := marketctx.Build(marketctx.Inputs{
		Candles:       candles,
		TrendBias:     trend,
		STCPerTF:      stcPerTF,
		IchimokuCross: cross,
		Now:           tick.Time,
	})
	if !ok {
		return
	}

	if t.Config.HTFConfidenceEnabled && confidence < t.Config.MinConfidenceToTrade {
		t.Logger.Debug("Confiance HTF insuffisante: %.0f%% < %.0f%%", confidence, t.Config.MinConfidenceToTrade)
		return
	}
	if t.Positions.OpenCount() >= t.Config.MaxPositions {
		return
	}

	allowed, reason := t.Risk.CheckCanTrade(trend, t.Positions.BrokerView())
	if !allowed {
		t.Logger.Info("Entrée %s refusée par le risk manager: %s", trend, reason)
		return
	}

	recCtx := interfaces.RecommendContext{
		Direction:      trend,
		IchimokuCross:  cross,
		Volatility:     mctx.Volatility,
		VolumePressure: mctx.VolumePressure,
		SessionScore:   mctx.SessionScore,
		STCPrimary:     stc1,
		STCConfirm:     stc5,
		Favorable:      mctx.Favorable,
	}
	rec := t.recommend(recCtx, trend)
	if rec.AvoidTrade {
		t.Logger.Info("Entrée %s déconseillée par le modèle (confiance %.2f)", trend, rec.Confidence)
		return
	}

	if t.Config.SweepEnabled {
		t.Sweep.DetectSweepStart(price, trend, stc1, stc5, confidence, t.Risk.Unrestricted())
		if lvl, fire := t.Sweep.ShouldPlaceOrder(price); fire {
			t.executeSweepLevel(lvl, tick, trend, stc1, stc5, confidence, rec, recCtx)
			return
		}
		if t.Sweep.Active() != nil {
			// ladder in progress, no direct entries alongside it
			return
		}
	}

	if crossSignal {
		t.executeDirectEntry(tick, trend, stc1, stc5, confidence, atr, rec, recCtx)
	}
}

// recommend returns the model's advice, or the neutral recommendation
// when the model is disabled.
func (t *Trader) recommend(ctx interfaces.RecommendContext, direction string) interfaces.Recommendation {
	if !t.Config.MLEnabled || t.Recommender == nil {
		return interfaces.Recommendation{
			RiskMultiplier:   1,
			SLMultiplier:     1,
			TPMultiplier:     1,
			SecureProfit:     t.Config.TrailingSecureProfit,
			ExtensionTrigger: t.Config.TrailingExtensionTrigger,
			TrailingDistance: t.Config.TrailingDistance,
		}
	}
	return t.Recommender.Recommend(ctx, direction)
}

// reactiveProfitClose liquidates everything once one position carries
// enough profit and the book as a whole is comfortably ahead.
func (t *Trader) reactiveProfitClose(price float64) {
	trades := t.Positions.OpenTrades()
	if len(trades) == 0 {
		return
	}
	total := 0.0
	anyAboveThreshold := false
	for _, tr := range trades {
		p := tr.UnrealizedProfit(price)
		total += p
		if p >= t.Config.ReactiveProfitPerPosition {
			anyAboveThreshold = true
		}
	}
	if !anyAboveThreshold || total < t.Config.ReactiveProfitTotal {
		return
	}
	t.Logger.Trade("Prise de profit réactive: %.2f$ flottants sur %d positions, clôture générale", total, len(trades))
	for _, tr := range trades {
		if err := t.Positions.CloseTrade(tr.Ticket, price); err != nil {
			t.Logger.Error("Clôture réactive du ticket %d impossible: %v", tr.Ticket, err)
		}
	}
}

// higherTimeframeVotes computes one BUY/SELL vote per configured higher
// timeframe from its STC reading. The widened thresholds classify clear
// zones first; inside the neutral band the 50 midline decides, an exact
// 50 abstains.
func (t *Trader) higherTimeframeVotes() (map[string]string, map[string]float64) {
	votes := make(map[string]string, len(t.Config.HigherTimeframes))
	stcPerTF := make(map[string]float64, len(t.Config.HigherTimeframes))
	for _, tf := range t.Config.HigherTimeframes {
		candles, err := t.Broker.GetCandles(tf, t.Config.CandleCount)
		if err != nil {
			continue
		}
		v, ok := indicators.STC(closesOf(candles), t.Config.STCFast, t.Config.STCSlow, t.Config.STCCycle)
		if !ok {
			continue
		}
		stcPerTF[tf] = v
		switch {
		case v < t.Config.STCBuyThreshold+15:
			votes[tf] = constants.Buy
		case v > t.Config.STCSellThreshold-15:
			votes[tf] = constants.Sell
		case v < 50:
			votes[tf] = constants.Buy
		case v > 50:
			votes[tf] = constants.Sell
		}
	}
	return votes, stcPerTF
}

// decideTrend fuses the fast-timeframe STC with the higher-timeframe
// votes. In tick-priority mode M1 decides the direction on its own and
// the votes only grade conviction; otherwise the vote majority decides,
// subject to the alignment requirement.
func (t *Trader) decideTrend(stc1, stc5 float64, votes map[string]string) (string, float64) {
	var trend string
	if t.Config.TickPriorityMode {
		switch {
		case stc1 < t.Config.STCBuyThreshold || (stc1 < 50 && stc5 < 50):
			trend = constants.Buy
		case stc1 > t.Config.STCSellThreshold || (stc1 > 50 && stc5 > 50):
			trend = constants.Sell
		}
	} else {
		buys, sells := 0, 0
		for _, v := range votes {
			if v == constants.Buy {
				buys++
			} else {
				sells++
			}
		}
		switch {
		case buys > sells && (buys >= t.Config.MTFAlignmentRequired || t.Config.MTFAlignmentBypass):
			trend = constants.Buy
		case sells > buys && (sells >= t.Config.MTFAlignmentRequired || t.Config.MTFAlignmentBypass):
			trend = constants.Sell
		}
	}
	if trend == "" {
		return "", 0
	}

	if len(votes) == 0 {
		return trend, 0
	}
	aligned := 0
	for _, v := range votes {
		if v == trend {
			aligned++
		}
	}
	return trend, float64(aligned) / float64(len(votes)) * 100
}

// ichimokuSignal reports the current Tenkan/Kijun spread and whether
// the crossover trigger fired for the trend direction. A crossover is
// the previous candle on one side and the current on the other. At
// extreme STC readings the crossover may be bypassed as long as the
// lines already sit on the trend's side.
func (t *Trader) ichimokuSignal(closes []float64, trend string, stc1 float64) (float64, bool) {
	cur, ok := indicators.ComputeIchimoku(closes, t.Config.TenkanPeriod, t.Config.KijunPeriod, t.Config.SenkouBPeriod)
	if !ok {
		return 0, false
	}
	prev, ok := indicators.ComputeIchimoku(closes[:len(closes)-1], t.Config.TenkanPeriod, t.Config.KijunPeriod, t.Config.SenkouBPeriod)
	if !ok {
		return cur.Tenkan - cur.Kijun, false
	}

	spread := cur.Tenkan - cur.Kijun
	var crossed bool
	switch trend {
	case constants.Buy:
		crossed = prev.Tenkan <= prev.Kijun && cur.Tenkan > cur.Kijun
		if !crossed && t.Config.AllowNoCrossover && stc1 < t.Config.ExtremeSTCThreshold && cur.Tenkan > cur.Kijun {
			t.Logger.Info("STC extrême (%.1f) avec lignes alignées: croisement Ichimoku contourné", stc1)
			crossed = true
		}
	case constants.Sell:
		crossed = prev.Tenkan >= prev.Kijun && cur.Tenkan < cur.Kijun
		if !crossed && t.Config.AllowNoCrossover && stc1 > 100-t.Config.ExtremeSTCThreshold && cur.Tenkan < cur.Kijun {
			t.Logger.Info("STC extrême (%.1f) avec lignes alignées: croisement Ichimoku contourné", stc1)
			crossed = true
		}
	}
	return spread, crossed
}

// confidenceTiers maps HTF conviction onto TP/SL multipliers: high
// conviction stretches the target and tightens the stop, low conviction
// does the opposite.
func confidenceTiers(confidence float64) (tpMult, slMult float64) {
	switch {
	case confidence >= 75:
		return 1.5, 0.7
	case confidence >= 40:
		return 1.0, 1.0
	default:
		return 0.6, 1.3
	}
}

// htfVolumeMultiplier converts conviction into a sizing factor around
// neutral 50% confidence.
func htfVolumeMultiplier(confidence float64) float64 {
	return utils.Clamp(1+(confidence-50)/100, 0.5, 1.5)
}

// executeDirectEntry opens a single position off the crossover trigger
// with base pip distances scaled by the confidence tier and the model.
func (t *Trader) executeDirectEntry(tick models.Tick, trend string, stc1, stc5, confidence, atr float64, rec interfaces.Recommendation, recCtx interfaces.RecommendContext) {
	combined := t.Config.ManualRiskMultiplier * rec.RiskMultiplier * htfVolumeMultiplier(confidence)
	volume := t.Positions.NextVolume(atr, rec.Confidence, combined)
	if volume <= 0 {
		t.Logger.Error("Volume calculé nul, entrée %s abandonnée", trend)
		return
	}

	tpMult, slMult := confidenceTiers(confidence)
	slPips := t.Config.BaseStopLossPips*slMult*rec.SLMultiplier + t.Config.SpreadCompensation
	tpPips := t.Config.BaseTakeProfitPips * tpMult * rec.TPMultiplier

	var entry, sl, tp float64
	if trend == constants.Buy {
		entry = tick.Ask
		sl = entry - slPips*constants.PipValue
		tp = entry + tpPips*constants.PipValue
	} else {
		entry = tick.Bid
		sl = entry + slPips*constants.PipValue
		tp = entry - tpPips*constants.PipValue
	}

	_, err := t.Positions.OpenTrade(position.OpenRequest{
		Direction:  trend,
		Volume:     volume,
		Price:      entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Comment:    fmt.Sprintf("ichimoku-%s", trend),
		Trailing: position.TrailingPlan{
			SecureProfit:     rec.SecureProfit,
			ExtensionTrigger: rec.ExtensionTrigger,
			TrailingDistance: rec.TrailingDistance,
		},
		HTFConfidence: confidence,
		STCPrimary:    stc1,
		STCConfirm:    stc5,
		MLFeatures:    ml.Features(recCtx),
	})
	if err != nil {
		return
	}
	t.Risk.RecordTradeOpened()
}

// executeSweepLevel fills the next rung of the active ladder using the
// sweep's adaptive exit distances instead of the fixed base pips.
func (t *Trader) executeSweepLevel(lvl *sweep.Level, tick models.Tick, trend string, stc1, stc5, confidence float64, rec interfaces.Recommendation, recCtx interfaces.RecommendContext) {
	price := tick.Mid()
	tpDist, slDist := t.Sweep.AdaptiveTPSL(price)

	state := t.Sweep.Active()
	if state == nil {
		t.Logger.Error("Niveau de sweep à exécuter sans sweep actif")
		return
	}

	var entry, sl, tp float64
	if state.Direction == constants.Buy {
		entry = tick.Ask
		sl = entry - slDist
		tp = entry + tpDist
	} else {
		entry = tick.Bid
		sl = entry + slDist
		tp = entry - tpDist
	}

	tr, err := t.Positions.OpenTrade(position.OpenRequest{
		Direction:  state.Direction,
		Volume:     lvl.Volume,
		Price:      entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Comment:    fmt.Sprintf("sweep-%s-n%d", state.Direction, lvl.OrderNumber),
		Trailing: position.TrailingPlan{
			SecureProfit:     rec.SecureProfit,
			ExtensionTrigger: rec.ExtensionTrigger,
			TrailingDistance: rec.TrailingDistance,
		},
		SweepPhase:    lvl.Wave,
		HTFConfidence: confidence,
		STCPrimary:    stc1,
		STCConfirm:    stc5,
		MLFeatures:    ml.Features(recCtx),
	})
	if err != nil {
		t.Sweep.MarkAttemptFailed(lvl)
		return
	}
	t.Sweep.MarkLevelExecuted(lvl, tr.Ticket)
	t.Risk.RecordTradeOpened()
}

// DeactivateBreaker clears a tripped circuit breaker. Exposed to the
// status server's manual override.
func (t *Trader) DeactivateBreaker() {
	t.Risk.Deactivate()
}

// Snapshot assembles the read-only status view for the HTTP endpoint
// and the dashboard push.
func (t *Trader) Snapshot() models.StatusSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.StatusSnapshot{
		Symbol:        t.Config.Symbol,
		Uptime:        time.Since(t.startTime).Round(time.Second).String(),
		LastTick:      t.lastTick,
		TrendBias:     t.trendBias,
		HTFConfidence: t.htfConf,
		OpenPositions: t.Positions.OpenCount(),
		ClosedTrades:  t.Positions.ClosedCount(),
		Risk:          t.Risk.Snapshot(),
		Sweep:         t.Sweep.Snapshot(),
		Paused:        t.paused,
		CyclesRun:     t.cyclesRun,
	}
}

func splitOHLC(candles []models.Candle) (closes, highs, lows []float64) {
	closes = make([]float64, len(candles))
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	return closes, highs, lows
}

func closesOf(candles []models.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}
