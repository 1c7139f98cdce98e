package risk

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/HCTech2/GOLD-HFT/config"
	"github.com/HCTech2/GOLD-HFT/logging"
	"github.com/HCTech2/GOLD-HFT/models"
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
	closedProfit float64
	closedErr    error
	account      models.AccountInfo
	accountErr   error
}

func (m *mockBroker) GetTick() (models.Tick, error)                  { return models.Tick{}, nil }
func (m *mockBroker) GetCandles(string, int) ([]models.Candle, error) { return nil, nil }
func (m *mockBroker) OpenPosition(string, float64, float64, float64, float64, string, int) (int64, error) {
	return 0, nil
}
func (m *mockBroker) ModifyPosition(int64, float64, float64) error { return nil }
func (m *mockBroker) ClosePosition(int64) error                    { return nil }
func (m *mockBroker) GetOpenPositions(string) ([]models.BrokerPosition, error) {
	return nil, nil
}
func (m *mockBroker) GetAccountInfo() (models.AccountInfo, error) {
	return m.account, m.accountErr
}
func (m *mockBroker) GetInstrumentInfo(string) (models.InstrumentInfo, error) {
	return models.InstrumentInfo{}, nil
}
func (m *mockBroker) GetClosedProfitSince(time.Time, int) (float64, error) {
	return m.closedProfit, m.closedErr
}

func testConfig() *config.Config {
	return &config.Config{
		CircuitBreakerEnabled:  true,
		DailyLossRuleEnabled:   true,
		MaxDailyLoss:           500,
		DailyTradesRuleEnabled: true,
		MaxDailyTrades:         500,
		LossStreakRuleEnabled:  true,
		MaxConsecutiveLosses:   5,
		CooldownMinutes:        30,
		DrawdownRuleEnabled:    true,
		MaxDrawdownPct:         50,
		CorrelationRuleEnabled: true,
		MaxCorrelatedPositions: 7,
		PortfolioRuleEnabled:   true,
		MaxPortfolioRiskPct:    65,
	}
}

func newTestManager(cfg *config.Config, b *mockBroker) *Manager {
	return NewManager(cfg, b, nopLogger{})
}

func TestDisabledBreakerAllowsEverything(t *testing.T) {
	cfg := testConfig()
	cfg.CircuitBreakerEnabled = false
	b := &mockBroker{closedErr: errors.New("down"), accountErr: errors.New("down")}
	m := newTestManager(cfg, b)

	allowed, _ := m.CheckCanTrade("BUY", nil)
	if !allowed {
		t.Fatalf("disabled breaker must allow unconditionally")
	}
}

func TestDailyLossTripsAndLatches(t *testing.T) {
	b := &mockBroker{closedProfit: -500.01, account: models.AccountInfo{Equity: 10000}}
	m := newTestManager(testConfig(), b)

	allowed, reason := m.CheckCanTrade("BUY", nil)
	if allowed {
		t.Fatalf("expected denial at -500.01 daily loss")
	}
	if !strings.Contains(reason, "PERTE JOURNALIÈRE") {
		t.Fatalf("reason = %q, want daily loss reason", reason)
	}

	// a profitable close does not clear the latch
	m.RecordTradeClosed(250)
	b.closedProfit = 100
	for _, dir := range []string{"BUY", "SELL"} {
		if allowed, _ := m.CheckCanTrade(dir, nil); allowed {
			t.Fatalf("breaker must stay tripped for %s until explicit deactivation", dir)
		}
	}

	m.Deactivate()
	if allowed, reason := m.CheckCanTrade("BUY", nil); !allowed {
		t.Fatalf("after deactivation trading should resume, got %q", reason)
	}
}

func TestBreakerSurvivesDailyReset(t *testing.T) {
	b := &mockBroker{closedProfit: -600, account: models.AccountInfo{Equity: 10000}}
	m := newTestManager(testConfig(), b)

	base := time.Date(2026, 12, 10, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return base })
	if allowed, _ := m.CheckCanTrade("BUY", nil); allowed {
		t.Fatalf("expected trip")
	}
	m.RecordTradeOpened()

	// next day: daily counters reset, latch does not
	b.closedProfit = 0
	m.SetClock(func() time.Time { return base.Add(24 * time.Hour) })
	allowed, reason := m.CheckCanTrade("BUY", nil)
	if allowed {
		t.Fatalf("latch must survive the day boundary")
	}
	if !strings.Contains(reason, "PERTE JOURNALIÈRE") {
		t.Fatalf("stored trip reason expected, got %q", reason)
	}
	if snap := m.Snapshot(); snap.DailyTrades != 0 {
		t.Fatalf("daily trade counter should reset, got %d", snap.DailyTrades)
	}
}

func TestLossStreakCooldown(t *testing.T) {
	b := &mockBroker{closedProfit: -100, account: models.AccountInfo{Equity: 10000}}
	m := newTestManager(testConfig(), b)

	base := time.Date(2026, 12, 10, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return base })

	for i := 0; i < 5; i++ {
		m.RecordTradeClosed(-20)
	}

	m.SetClock(func() time.Time { return base.Add(1 * time.Minute) })
	allowed, reason := m.CheckCanTrade("BUY", nil)
	if allowed {
		t.Fatalf("expected cooldown denial")
	}
	if !strings.Contains(reason, "COOLDOWN") || !strings.Contains(reason, "29") {
		t.Fatalf("reason = %q, want cooldown with 29 min remaining", reason)
	}

	// after expiry trading resumes without a winning trade
	m.SetClock(func() time.Time { return base.Add(31 * time.Minute) })
	if allowed, reason := m.CheckCanTrade("BUY", nil); !allowed {
		t.Fatalf("cooldown expired, expected allow, got %q", reason)
	}
}

func TestStreakSurvivesCooldownExpiry(t *testing.T) {
	b := &mockBroker{closedProfit: -100, account: models.AccountInfo{Equity: 10000}}
	m := newTestManager(testConfig(), b)

	base := time.Date(2026, 12, 10, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return base })

	for i := 0; i < 5; i++ {
		m.RecordTradeClosed(-20)
	}

	// serve the cooldown: expiry clears the flag but not the streak
	m.SetClock(func() time.Time { return base.Add(31 * time.Minute) })
	if allowed, reason := m.CheckCanTrade("BUY", nil); !allowed {
		t.Fatalf("cooldown expired, expected allow, got %q", reason)
	}
	if snap := m.Snapshot(); snap.ConsecutiveLosses != 5 {
		t.Fatalf("streak = %d, want 5 after expiry", snap.ConsecutiveLosses)
	}

	// one more loss re-arms the cooldown immediately
	m.RecordTradeClosed(-20)
	m.SetClock(func() time.Time { return base.Add(32 * time.Minute) })
	allowed, reason := m.CheckCanTrade("BUY", nil)
	if allowed {
		t.Fatalf("single loss after a served cooldown must re-arm it")
	}
	if !strings.Contains(reason, "COOLDOWN") {
		t.Fatalf("reason = %q, want cooldown", reason)
	}
}

func TestWinResetsStreak(t *testing.T) {
	b := &mockBroker{account: models.AccountInfo{Equity: 10000}}
	m := newTestManager(testConfig(), b)

	m.RecordTradeClosed(-20)
	m.RecordTradeClosed(-20)
	m.RecordTradeClosed(0) // break-even counts as non-loss
	if snap := m.Snapshot(); snap.ConsecutiveLosses != 0 {
		t.Fatalf("streak = %d, want 0 after non-negative close", snap.ConsecutiveLosses)
	}
}

func TestDrawdownTripAndPeakRatchet(t *testing.T) {
	b := &mockBroker{account: models.AccountInfo{Equity: 1000}}
	m := newTestManager(testConfig(), b)

	if allowed, _ := m.CheckCanTrade("BUY", nil); !allowed {
		t.Fatalf("first check establishes the peak and allows")
	}
	if snap := m.Snapshot(); snap.PeakEquity != 1000 {
		t.Fatalf("peak = %v, want 1000", snap.PeakEquity)
	}

	// equity dips but stays inside the limit: peak must not decrease
	b.account.Equity = 800
	if allowed, _ := m.CheckCanTrade("BUY", nil); !allowed {
		t.Fatalf("20%% drawdown is inside the 50%% limit")
	}
	if snap := m.Snapshot(); snap.PeakEquity != 1000 {
		t.Fatalf("peak ratchet broken: %v", snap.PeakEquity)
	}

	b.account.Equity = 400
	allowed, reason := m.CheckCanTrade("BUY", nil)
	if allowed || !strings.Contains(reason, "DRAWDOWN") {
		t.Fatalf("60%% drawdown must trip, got allowed=%v reason=%q", allowed, reason)
	}
}

func TestFailClosedOnMissingData(t *testing.T) {
	b := &mockBroker{closedErr: errors.New("bridge down")}
	m := newTestManager(testConfig(), b)
	if allowed, _ := m.CheckCanTrade("BUY", nil); allowed {
		t.Fatalf("unverifiable P&L must deny")
	}

	b2 := &mockBroker{accountErr: errors.New("bridge down")}
	m2 := newTestManager(testConfig(), b2)
	if allowed, _ := m2.CheckCanTrade("BUY", nil); allowed {
		t.Fatalf("unverifiable equity must deny")
	}
}

func TestCorrelationDeniesWithoutTripping(t *testing.T) {
	b := &mockBroker{account: models.AccountInfo{Equity: 100000}}
	m := newTestManager(testConfig(), b)

	positions := make([]models.BrokerPosition, 7)
	for i := range positions {
		positions[i] = models.BrokerPosition{Direction: "SELL", EntryPrice: 2000, StopLoss: 1999, Volume: 0.1}
	}
	allowed, reason := m.CheckCanTrade("SELL", positions)
	if allowed || !strings.Contains(reason, "CORRÉLÉES") {
		t.Fatalf("7 correlated SELLs must deny, got allowed=%v reason=%q", allowed, reason)
	}
	if m.BreakerActive() {
		t.Fatalf("correlation rule must not trip the breaker")
	}
	// opposite direction is unaffected
	if allowed, _ := m.CheckCanTrade("BUY", positions); !allowed {
		t.Fatalf("BUY should pass with only SELL exposure")
	}
}

func TestPortfolioRiskCap(t *testing.T) {
	b := &mockBroker{account: models.AccountInfo{Equity: 1000}}
	m := newTestManager(testConfig(), b)

	// |2000-1990| * 1.0 lot * 100 = 1000$ at risk = 100% of equity
	positions := []models.BrokerPosition{
		{Direction: "BUY", EntryPrice: 2000, StopLoss: 1990, Volume: 1.0},
	}
	allowed, reason := m.CheckCanTrade("SELL", positions)
	if allowed || !strings.Contains(reason, "PORTEFEUILLE") {
		t.Fatalf("expected portfolio risk denial, got allowed=%v reason=%q", allowed, reason)
	}
	if m.BreakerActive() {
		t.Fatalf("portfolio rule must not trip the breaker")
	}
}

func TestDailyTradeCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDailyTrades = 2
	b := &mockBroker{account: models.AccountInfo{Equity: 10000}}
	m := newTestManager(cfg, b)

	m.RecordTradeOpened()
	m.RecordTradeOpened()
	allowed, reason := m.CheckCanTrade("BUY", nil)
	if allowed || !strings.Contains(reason, "TRADES JOURNALIERS") {
		t.Fatalf("expected daily trade cap denial, got allowed=%v reason=%q", allowed, reason)
	}
}
