package marketctx

import (
	"math"
	"testing"
	"time"

	"github.com/HCTech2/GOLD-HFT/models"
)

func makeCandles(n int, closeStep float64, volume int64) []models.Candle {
	out := make([]models.Candle, n)
	price := 2000.0
	for i := range out {
		price += closeStep
		out[i] = models.Candle{Close: price, Volume: volume}
	}
	return out
}

func TestBuildRequiresHistory(t *testing.T) {
	if _, ok := Build(Inputs{Candles: makeCandles(19, 0.1, 100)}); ok {
		t.Fatalf("expected no context with fewer than 20 candles")
	}
}

func TestSessionAt(t *testing.T) {
	cases := []struct {
		hour  int
		name  string
		score float64
	}{
		{0, SessionLondon, 0.8},
		{6, SessionLondon, 0.8},
		{9, SessionNewYork, 1.0},
		{16, SessionNewYork, 1.0},
		{7, SessionAsia, 0.4},
		{20, SessionAsia, 0.4},
	}
	for _, c := range cases {
		at := time.Date(2026, 1, 5, c.hour, 30, 0, 0, time.UTC)
		name, score := SessionAt(at)
		if name != c.name || score != c.score {
			t.Errorf("hour %d: got %s/%.1f, want %s/%.1f", c.hour, name, score, c.name, c.score)
		}
	}
}

func TestVolatilityOfSteadySteps(t *testing.T) {
	ctx, ok := Build(Inputs{
		Candles: makeCandles(80, 0.5, 100),
		Now:     time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	})
	if !ok {
		t.Fatalf("expected a context")
	}
	// constant close-to-close diffs have zero deviation
	if math.Abs(ctx.Volatility) > 1e-9 {
		t.Fatalf("volatility = %v, want 0", ctx.Volatility)
	}
}

func TestVolumePressure(t *testing.T) {
	candles := makeCandles(80, 0.1, 100)
	for i := len(candles) - 5; i < len(candles); i++ {
		candles[i].Volume = 200
	}
	ctx, ok := Build(Inputs{Candles: candles, Now: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)})
	if !ok {
		t.Fatalf("expected a context")
	}
	if ctx.VolumeRatio <= 1 || ctx.VolumePressure <= 0 {
		t.Fatalf("rising volume should read positive pressure, got ratio=%v pressure=%v", ctx.VolumeRatio, ctx.VolumePressure)
	}
}

func TestFavorableWindow(t *testing.T) {
	candles := makeCandles(80, 0.1, 100)
	for i := len(candles) - 5; i < len(candles); i++ {
		candles[i].Volume = 300
	}
	newYork := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)

	ctx, _ := Build(Inputs{Candles: candles, TrendBias: "BUY", IchimokuCross: 0.5, Now: newYork})
	if !ctx.Favorable {
		t.Fatalf("bias + pressure + NY session + positive cross should be favorable")
	}

	ctx, _ = Build(Inputs{Candles: candles, TrendBias: "", IchimokuCross: 0.5, Now: newYork})
	if ctx.Favorable {
		t.Fatalf("no bias must never be favorable")
	}

	asia := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)
	ctx, _ = Build(Inputs{Candles: candles, TrendBias: "BUY", IchimokuCross: 0.5, Now: asia})
	if ctx.Favorable {
		t.Fatalf("asia session score 0.4 must not be favorable")
	}

	ctx, _ = Build(Inputs{Candles: candles, TrendBias: "SELL", IchimokuCross: -0.5, Now: newYork})
	if ctx.Favorable {
		t.Fatalf("negative cross must not be favorable")
	}
}
