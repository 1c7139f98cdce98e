package strategy

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/HCTech2/GOLD-HFT/config"
	"github.com/HCTech2/GOLD-HFT/interfaces"
	"github.com/HCTech2/GOLD-HFT/logging"
	"github.com/HCTech2/GOLD-HFT/models"
	"github.com/HCTech2/GOLD-HFT/position"
	"github.com/HCTech2/GOLD-HFT/risk"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})   {}
func (nopLogger) Info(string, ...interface{})    {}
func (nopLogger) Warning(string, ...interface{}) {}
func (nopLogger) Error(string, ...interface{})   {}
func (nopLogger) Trade(string, ...interface{})   {}
func (nopLogger) Fatal(string, ...interface{})   {}
func (nopLogger) Sync() error                    { return nil }
func (nopLogger) ChangeLogLevel(logging.LogLevel) {}

type mockBroker struct {
	candlesFn func(timeframe string, count int) ([]models.Candle, error)
	openFn    func(direction string, volume, price, sl, tp float64, comment string, magic int) (int64, error)

	nextTicket int64
	opened     []openCall
}

type openCall struct {
	Direction string
	Volume    float64
	Price     float64
	SL        float64
	TP        float64
	Comment   string
}

func (m *mockBroker) GetTick() (models.Tick, error) { return models.Tick{}, nil }
func (m *mockBroker) GetCandles(timeframe string, count int) ([]models.Candle, error) {
	if m.candlesFn != nil {
		return m.candlesFn(timeframe, count)
	}
	return nil, errors.New("no candles")
}
func (m *mockBroker) OpenPosition(direction string, volume, price, sl, tp float64, comment string, magic int) (int64, error) {
	if m.openFn != nil {
		return m.openFn(direction, volume, price, sl, tp, comment, magic)
	}
	m.opened = append(m.opened, openCall{direction, volume, price, sl, tp, comment})
	m.nextTicket++
	return m.nextTicket, nil
}
func (m *mockBroker) ModifyPosition(int64, float64, float64) error { return nil }
func (m *mockBroker) ClosePosition(int64) error                    { return nil }
func (m *mockBroker) GetOpenPositions(string) ([]models.BrokerPosition, error) {
	return nil, nil
}
func (m *mockBroker) GetAccountInfo() (models.AccountInfo, error) {
	return models.AccountInfo{Equity: 10000}, nil
}
func (m *mockBroker) GetInstrumentInfo(string) (models.InstrumentInfo, error) {
	return models.InstrumentInfo{}, nil
}
func (m *mockBroker) GetClosedProfitSince(time.Time, int) (float64, error) { return 0, nil }

func testConfig() *config.Config {
	return &config.Config{
		Symbol:        "XAUUSD-m",
		PositionSizes: []float64{0.05, 0.15, 0.25},
		MaxPositions:  4,

		STCFast:          10,
		STCSlow:          23,
		STCCycle:         50,
		STCBuyThreshold:  25,
		STCSellThreshold: 75,
		TenkanPeriod:     9,
		KijunPeriod:      26,
		SenkouBPeriod:    52,
		ATRPeriod:        14,
		CandleCount:      100,
		MinCandles:       60,

		BaseStopLossPips:   10,
		BaseTakeProfitPips: 20,
		SpreadCompensation: 1.5,

		TrailingSecureProfit:     5,
		TrailingExtensionTrigger: 12,
		TrailingDistance:         4,

		ReactiveProfitPerPosition: 5,
		ReactiveProfitTotal:       15,

		HigherTimeframes:     []string{"M15", "M30", "H1", "H4"},
		MTFAlignmentRequired: 1,
		HTFConfidenceEnabled: true,
		TickPriorityMode:     true,
		MinConfidenceToTrade: 40,
		ExtremeSTCThreshold:  5,
		AllowNoCrossover:     true,
		ManualRiskMultiplier: 1,

		SweepEnabled:    true,
		SweepBaseVolume: 0.01,

		MaxATRThreshold:     15,
		VolumeMinMultiplier: 0.5,
		VolumeMaxMultiplier: 2,

		CircuitBreakerEnabled:  true,
		DailyLossRuleEnabled:   true,
		MaxDailyLoss:           500,
		DailyTradesRuleEnabled: true,
		MaxDailyTrades:         500,
		LossStreakRuleEnabled:  true,
		MaxConsecutiveLosses:   9,
		CooldownMinutes:        30,

		AnalysisIntervalMs:  1,
		ReconcileIntervalMs: 1000,
	}
}

func newTestTrader(b *mockBroker) *Trader {
	cfg := testConfig()
	riskMgr := risk.NewManager(cfg, b, nopLogger{})
	tr := NewTrader(cfg, b, riskMgr, nil, nil, nopLogger{})
	tr.Positions.SetInstrument(models.InstrumentInfo{Point: 0.01, MinVolume: 0.01, MaxVolume: 100, VolumeStep: 0.01})
	return tr
}

func TestDecideTrendTickPriority(t *testing.T) {
	tr := newTestTrader(&mockBroker{})

	cases := []struct {
		stc1, stc5 float64
		want       string
	}{
		{20, 60, "BUY"},  // oversold M1 decides alone
		{40, 45, "BUY"},  // both below midline
		{80, 40, "SELL"}, // overbought M1 decides alone
		{55, 60, "SELL"}, // both above midline
		{40, 60, ""},     // disagreement, no signal
		{60, 40, ""},
	}
	for _, tc := range cases {
		got, _ := tr.decideTrend(tc.stc1, tc.stc5, nil)
		if got != tc.want {
			t.Errorf("decideTrend(%v, %v) = %q, want %q", tc.stc1, tc.stc5, got, tc.want)
		}
	}
}

func TestDecideTrendConfidence(t *testing.T) {
	tr := newTestTrader(&mockBroker{})

	votes := map[string]string{"M15": "BUY", "M30": "BUY", "H1": "SELL", "H4": "BUY"}
	trend, conf := tr.decideTrend(20, 40, votes)
	if trend != "BUY" || conf != 75 {
		t.Fatalf("trend/conf = %s/%v, want BUY/75", trend, conf)
	}

	// no votes grades as zero conviction, direction still holds
	trend, conf = tr.decideTrend(20, 40, nil)
	if trend != "BUY" || conf != 0 {
		t.Fatalf("trend/conf = %s/%v, want BUY/0", trend, conf)
	}
}

func TestDecideTrendVoteMajority(t *testing.T) {
	tr := newTestTrader(&mockBroker{})
	tr.Config.TickPriorityMode = false
	tr.Config.MTFAlignmentRequired = 3

	votes := map[string]string{"M15": "BUY", "M30": "BUY", "H1": "SELL"}
	if trend, _ := tr.decideTrend(50, 50, votes); trend != "" {
		t.Fatalf("2 of 3 aligned with requirement 3 must abstain, got %q", trend)
	}

	votes["H4"] = "BUY"
	trend, conf := tr.decideTrend(50, 50, votes)
	if trend != "BUY" || conf != 75 {
		t.Fatalf("trend/conf = %s/%v, want BUY/75", trend, conf)
	}

	tr.Config.MTFAlignmentBypass = true
	delete(votes, "H4")
	if trend, _ := tr.decideTrend(50, 50, votes); trend != "BUY" {
		t.Fatalf("bypass should accept the bare majority, got %q", trend)
	}
}

func TestConfidenceTiers(t *testing.T) {
	cases := []struct {
		conf           float64
		wantTP, wantSL float64
	}{
		{90, 1.5, 0.7},
		{75, 1.5, 0.7},
		{74.9, 1.0, 1.0},
		{40, 1.0, 1.0},
		{39, 0.6, 1.3},
		{0, 0.6, 1.3},
	}
	for _, tc := range cases {
		tp, sl := confidenceTiers(tc.conf)
		if tp != tc.wantTP || sl != tc.wantSL {
			t.Errorf("confidenceTiers(%v) = %v/%v, want %v/%v", tc.conf, tp, sl, tc.wantTP, tc.wantSL)
		}
	}
}

func TestHTFVolumeMultiplier(t *testing.T) {
	cases := []struct{ conf, want float64 }{
		{50, 1.0},
		{100, 1.5},
		{0, 0.5},
		{80, 1.3},
		{200, 1.5}, // clamp
	}
	for _, tc := range cases {
		if got := htfVolumeMultiplier(tc.conf); !approx(got, tc.want) {
			t.Errorf("htfVolumeMultiplier(%v) = %v, want %v", tc.conf, got, tc.want)
		}
	}
}

// declineRallyCloses is a series that falls, bases, then turns up over
// the last nine bars so the Tenkan crosses above the Kijun on the final
// close.
func declineRallyCloses() []float64 {
	var closes []float64
	for i := 0; i < 30; i++ {
		closes = append(closes, 2010-0.5*float64(i))
	}
	for i := 0; i < 17; i++ {
		closes = append(closes, 1995)
	}
	for i := 0; i < 9; i++ {
		closes = append(closes, 1996+float64(i))
	}
	return closes
}

func TestIchimokuSignalCrossover(t *testing.T) {
	tr := newTestTrader(&mockBroker{})

	spread, crossed := tr.ichimokuSignal(declineRallyCloses(), "BUY", 30)
	if !crossed {
		t.Fatalf("expected bullish crossover on the final bar")
	}
	if spread <= 0 {
		t.Fatalf("spread = %v, want positive after the cross", spread)
	}
}

func TestIchimokuSignalNoCrossOnEstablishedTrend(t *testing.T) {
	tr := newTestTrader(&mockBroker{})

	// steadily rising: the lines were already aligned, no fresh cross
	var closes []float64
	for i := 0; i < 60; i++ {
		closes = append(closes, 2000+0.5*float64(i))
	}
	if _, crossed := tr.ichimokuSignal(closes, "BUY", 30); crossed {
		t.Fatalf("established trend must not report a crossover")
	}

	// at an extreme STC reading the aligned lines are enough
	if _, crossed := tr.ichimokuSignal(closes, "BUY", 3); !crossed {
		t.Fatalf("extreme STC with aligned lines should bypass the crossover")
	}

	tr.Config.AllowNoCrossover = false
	if _, crossed := tr.ichimokuSignal(closes, "BUY", 3); crossed {
		t.Fatalf("bypass disabled must require a real crossover")
	}
}

func TestReactiveProfitClose(t *testing.T) {
	b := &mockBroker{}
	tr := newTestTrader(b)

	openAt := func(volume float64) {
		t.Helper()
		if _, err := tr.Positions.OpenTrade(position.OpenRequest{Direction: "BUY", Volume: volume, Price: 2000}); err != nil {
			t.Fatalf("open: %v", err)
		}
	}

	// one strong position and an aggregate comfortably ahead
	openAt(0.1)  // +10$ at 2001
	openAt(0.05) // +5$ at 2001
	tr.reactiveProfitClose(2001)
	if tr.Positions.OpenCount() != 0 {
		t.Fatalf("both positions should close at 15$ total")
	}

	// aggregate too small
	openAt(0.1)
	openAt(0.05)
	tr.reactiveProfitClose(2000.6) // 6$ + 3$
	if tr.Positions.OpenCount() != 2 {
		t.Fatalf("9$ total must not trigger the close")
	}
	for _, rec := range tr.Positions.OpenTrades() {
		tr.Positions.CloseTrade(rec.Ticket, 2000.6)
	}

	// aggregate large enough but no single position above the threshold
	for i := 0; i < 4; i++ {
		openAt(0.06)
	}
	tr.reactiveProfitClose(2000.7) // 4 x 4.20$ = 16.80$
	if tr.Positions.OpenCount() != 4 {
		t.Fatalf("no position at 5$ yet, the book must stay open")
	}
}

func TestCycleIgnoresStaleTick(t *testing.T) {
	tr := newTestTrader(&mockBroker{})
	tr.cycle(models.Tick{Bid: 2000, Ask: 2000.2, Fresh: false})
	if tr.Snapshot().CyclesRun != 0 {
		t.Fatalf("stale tick must not count as a cycle")
	}
}

func TestCycleRunsExitsEvenWithoutCandles(t *testing.T) {
	b := &mockBroker{} // GetCandles always errors
	tr := newTestTrader(b)

	if _, err := tr.Positions.OpenTrade(position.OpenRequest{Direction: "BUY", Volume: 0.2, Price: 2000}); err != nil {
		t.Fatalf("open: %v", err)
	}

	// +20$ floating: the reactive close fires before the indicator stage
	tr.cycle(models.Tick{Bid: 2001, Ask: 2001, Time: time.Now(), Fresh: true})
	if tr.Positions.OpenCount() != 0 {
		t.Fatalf("exit management must run even when analysis is starved")
	}
	if tr.Snapshot().CyclesRun != 1 {
		t.Fatalf("fresh tick should count as a cycle")
	}
}

func TestSweepTimeoutFiresDuringCandleOutage(t *testing.T) {
	b := &mockBroker{} // GetCandles always errors
	tr := newTestTrader(b)

	base := time.Date(2026, 12, 10, 12, 0, 0, 0, time.UTC)
	tr.Sweep.SetClock(func() time.Time { return base })
	if !tr.Sweep.DetectSweepStart(2000, "BUY", 20, 28, 65, false) {
		t.Fatalf("sweep should start")
	}

	tr.Sweep.SetClock(func() time.Time { return base.Add(5*time.Minute + time.Second) })
	tr.cycle(models.Tick{Bid: 2000, Ask: 2000, Time: base, Fresh: true})

	if tr.Sweep.Active() != nil {
		t.Fatalf("timeout must retire the sweep even when candles are unavailable")
	}
}

func TestExecuteDirectEntry(t *testing.T) {
	b := &mockBroker{}
	tr := newTestTrader(b)

	tick := models.Tick{Bid: 2000.00, Ask: 2000.25, Fresh: true}
	rec := interfaces.Recommendation{RiskMultiplier: 1, SLMultiplier: 1, TPMultiplier: 1, SecureProfit: 5, ExtensionTrigger: 12, TrailingDistance: 4}
	tr.executeDirectEntry(tick, "BUY", 20, 30, 50, 0, rec, interfaces.RecommendContext{Direction: "BUY"})

	if len(b.opened) != 1 {
		t.Fatalf("orders = %d, want 1", len(b.opened))
	}
	call := b.opened[0]
	if call.Direction != "BUY" || call.Price != 2000.25 {
		t.Fatalf("entry = %+v, want BUY at the ask", call)
	}
	if call.Volume != 0.05 {
		t.Fatalf("volume = %v, want ladder base at neutral multipliers", call.Volume)
	}
	// 10 pips * 1.0 tier * 1.0 model + 1.5 spread compensation = 11.5 pips
	if !approx(call.SL, 2000.25-0.115) {
		t.Fatalf("sl = %v, want 2000.135", call.SL)
	}
	if !approx(call.TP, 2000.25+0.20) {
		t.Fatalf("tp = %v, want 2000.45", call.TP)
	}
	if !strings.HasPrefix(call.Comment, "ichimoku-") {
		t.Fatalf("comment = %q", call.Comment)
	}
	if tr.Risk.Snapshot().DailyTrades != 1 {
		t.Fatalf("accepted entry must count toward the daily total")
	}
}

func TestExecuteSweepLevel(t *testing.T) {
	b := &mockBroker{}
	tr := newTestTrader(b)

	if !tr.Sweep.DetectSweepStart(2000, "BUY", 20, 28, 65, false) {
		t.Fatalf("sweep should start")
	}
	lvl, fire := tr.Sweep.ShouldPlaceOrder(2000)
	if !fire {
		t.Fatalf("first BUY level sits above the start price and should trigger")
	}

	tick := models.Tick{Bid: 2000.00, Ask: 2000.25, Fresh: true}
	rec := interfaces.Recommendation{RiskMultiplier: 1, SLMultiplier: 1, TPMultiplier: 1, SecureProfit: 5, ExtensionTrigger: 12, TrailingDistance: 4}
	tr.executeSweepLevel(lvl, tick, "BUY", 20, 28, 65, rec, interfaces.RecommendContext{Direction: "BUY"})

	if len(b.opened) != 1 {
		t.Fatalf("orders = %d, want 1", len(b.opened))
	}
	call := b.opened[0]
	if call.Volume != lvl.Volume || !strings.HasPrefix(call.Comment, "sweep-BUY-n1") {
		t.Fatalf("call = %+v", call)
	}
	if !lvl.Executed || tr.Sweep.Active().OrdersPlaced != 1 {
		t.Fatalf("accepted level must be marked executed")
	}
	if tr.Risk.Snapshot().DailyTrades != 1 {
		t.Fatalf("sweep entry must count toward the daily total")
	}
}

func TestExecuteSweepLevelBrokerRejection(t *testing.T) {
	b := &mockBroker{openFn: func(string, float64, float64, float64, float64, string, int) (int64, error) {
		return 0, errors.New("not enough money")
	}}
	tr := newTestTrader(b)

	tr.Sweep.DetectSweepStart(2000, "BUY", 20, 28, 65, false)
	lvl, _ := tr.Sweep.ShouldPlaceOrder(2000)

	tick := models.Tick{Bid: 2000, Ask: 2000.25, Fresh: true}
	tr.executeSweepLevel(lvl, tick, "BUY", 20, 28, 65, interfaces.Recommendation{RiskMultiplier: 1, SLMultiplier: 1, TPMultiplier: 1}, interfaces.RecommendContext{})

	if lvl.Executed {
		t.Fatalf("rejected level must stay eligible")
	}
	if tr.Sweep.Active().OrdersPlaced != 0 {
		t.Fatalf("rejected level must not count as placed")
	}
	if tr.Positions.OpenCount() != 0 {
		t.Fatalf("rejected order must not be registered")
	}
}

func TestHigherTimeframeVotes(t *testing.T) {
	falling := make([]models.Candle, 100)
	for i := range falling {
		falling[i] = models.Candle{Close: 2100 - float64(i)}
	}
	b := &mockBroker{candlesFn: func(tf string, count int) ([]models.Candle, error) {
		if tf == "H4" {
			return nil, errors.New("timeframe unavailable")
		}
		return falling, nil
	}}
	tr := newTestTrader(b)

	votes, stcPerTF := tr.higherTimeframeVotes()
	if len(votes) != 3 {
		t.Fatalf("votes = %v, want 3 with H4 unavailable", votes)
	}
	for tf, v := range votes {
		if v != "BUY" {
			t.Fatalf("%s voted %s on a falling series", tf, v)
		}
	}
	if _, ok := stcPerTF["M15"]; !ok {
		t.Fatalf("stc readings missing: %v", stcPerTF)
	}
}

func approx(got, want float64) bool {
	return got > want-1e-9 && got < want+1e-9
}
