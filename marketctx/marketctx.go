package marketctx

import (
	"time"

	"github.com/HCTech2/GOLD-HFT/indicators"
	"github.com/HCTech2/GOLD-HFT/models"
)

// Trading sessions and their activity weight. Hours are UTC server time.
const (
	SessionLondon  = "LONDON"
	SessionNewYork = "NEW_YORK"
	SessionAsia    = "ASIA"
)

const (
	volatilityWindow = 60
	volumeFastWindow = 5
	minCandles       = 20
)

// Context is an immutable point-in-time market snapshot, built once per
// analysis cycle and consumed by sizing and the ML recommender.
type Context struct {
	Time           time.Time
	TrendBias      string
	STCPerTF       map[string]float64
	IchimokuCross  float64
	Volatility     float64
	VolumeRatio    float64
	VolumePressure float64
	Session        string
	SessionScore   float64
	Favorable      bool
}

// Inputs carries the per-cycle observations the builder aggregates.
type Inputs struct {
	Candles       []models.Candle
	TrendBias     string
	STCPerTF      map[string]float64
	IchimokuCross float64
	Now           time.Time
}

// Build aggregates the inputs into a Context. ok is false when there is
// not enough candle history to measure volatility, in which case the
// caller should treat the cycle as no-signal.
func Build(in Inputs) (Context, bool) {
	if len(in.Candles) < minCandles {
		return Context{}, false
	}

	session, score := SessionAt(in.Now)
	ratio := volumeRatio(in.Candles)
	c := Context{
		Time:           in.Now,
		TrendBias:      in.TrendBias,
		STCPerTF:       in.STCPerTF,
		IchimokuCross:  in.IchimokuCross,
		Volatility:     volatility(in.Candles),
		VolumeRatio:    ratio,
		VolumePressure: ratio - 1,
		Session:        session,
		SessionScore:   score,
	}
	c.Favorable = c.TrendBias != "" && c.VolumePressure > 0 && c.SessionScore > 0.5 && c.IchimokuCross >= 0
	return c, true
}

// volatility is the standard deviation of close-to-close differences
// over the most recent window.
func volatility(candles []models.Candle) float64 {
	start := 0
	if len(candles) > volatilityWindow {
		start = len(candles) - volatilityWindow
	}
	diffs := make([]float64, 0, len(candles)-start-1)
	for i := start + 1; i < len(candles); i++ {
		diffs = append(diffs, candles[i].Close-candles[i-1].Close)
	}
	return indicators.StdDev(diffs)
}

// volumeRatio compares short-horizon volume against the long baseline.
func volumeRatio(candles []models.Candle) float64 {
	long := candles
	if len(candles) > volatilityWindow {
		long = candles[len(candles)-volatilityWindow:]
	}
	short := long
	if len(long) > volumeFastWindow {
		short = long[len(long)-volumeFastWindow:]
	}
	longMean := meanVolume(long)
	if longMean == 0 {
		return 1
	}
	return meanVolume(short) / longMean
}

func meanVolume(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += float64(c.Volume)
	}
	return sum / float64(len(candles))
}

// SessionAt labels the trading session for a timestamp and returns its
// activity score used by sizing and the favorable-window check.
func SessionAt(t time.Time) (string, float64) {
	h := t.UTC().Hour()
	switch {
	case h >= 0 && h < 7:
		return SessionLondon, 0.8
	case h >= 9 && h < 17:
		return SessionNewYork, 1.0
	default:
		return SessionAsia, 0.4
	}
}
