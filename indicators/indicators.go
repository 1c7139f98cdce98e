package indicators

import "math"

// EMA returns the exponential moving average series of values with the
// given period, seeded from the first value. Returns nil when values is
// empty or period is not positive.
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	k := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// STC computes the Schaff Trend Cycle value for the most recent close:
// the MACD line (EMA fast minus EMA slow) normalized as a stochastic
// over the last cycle observations, scaled 0..100. A flat MACD window
// yields the neutral 50. ok is false when history is insufficient.
func STC(closes []float64, fast, slow, cycle int) (float64, bool) {
	if fast <= 0 || slow <= 0 || cycle <= 0 || len(closes) < slow {
		return 0, false
	}
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = emaFast[i] - emaSlow[i]
	}

	window := macd
	if len(macd) > cycle {
		window = macd[len(macd)-cycle:]
	}
	lo, hi := window[0], window[0]
	for _, v := range window {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi-lo == 0 {
		return 50, true
	}
	last := macd[len(macd)-1]
	return 100 * (last - lo) / (hi - lo), true
}

// Ichimoku holds the line values computed for the latest observation.
type Ichimoku struct {
	Tenkan  float64
	Kijun   float64
	SenkouA float64
	SenkouB float64
}

// ComputeIchimoku derives the Ichimoku midpoint lines from closes.
// Tenkan/Kijun/SenkouB are (highest+lowest)/2 over their respective
// windows; SenkouA is the Tenkan/Kijun midpoint. ok is false when there
// is not enough history for the widest window.
func ComputeIchimoku(closes []float64, tenkanPeriod, kijunPeriod, senkouBPeriod int) (Ichimoku, bool) {
	if tenkanPeriod <= 0 || kijunPeriod <= 0 || senkouBPeriod <= 0 {
		return Ichimoku{}, false
	}
	if len(closes) < senkouBPeriod {
		return Ichimoku{}, false
	}
	ich := Ichimoku{
		Tenkan:  midpoint(closes, tenkanPeriod),
		Kijun:   midpoint(closes, kijunPeriod),
		SenkouB: midpoint(closes, senkouBPeriod),
	}
	ich.SenkouA = (ich.Tenkan + ich.Kijun) / 2
	return ich, true
}

func midpoint(values []float64, period int) float64 {
	window := values
	if len(values) > period {
		window = values[len(values)-period:]
	}
	lo, hi := window[0], window[0]
	for _, v := range window {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return (hi + lo) / 2
}

// ATR is the simple average of true ranges over the last period bars.
// ok is false with fewer than period+1 bars.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0, false
	}
	sum := 0.0
	for i := n - period; i < n; i++ {
		tr := highs[i] - lows[i]
		if hc := math.Abs(highs[i] - closes[i-1]); hc > tr {
			tr = hc
		}
		if lc := math.Abs(lows[i] - closes[i-1]); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(period), true
}

// StdDev is the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}
