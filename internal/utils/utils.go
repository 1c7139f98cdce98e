package utils

import "math"

// Clamp bounds v into [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round2 rounds to two decimal places, the lot precision of the bridge.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// NormalizeVolume snaps a lot size onto the broker's min/max/step grid.
func NormalizeVolume(volume, minVol, maxVol, step float64) float64 {
	if step > 0 {
		volume = math.Round(volume/step) * step
	}
	if minVol > 0 && volume < minVol {
		volume = minVol
	}
	if maxVol > 0 && volume > maxVol {
		volume = maxVol
	}
	return Round2(volume)
}

// NormalizeDirection maps broker side strings onto BUY/SELL.
func NormalizeDirection(side string) string {
	switch side {
	case "BUY", "LONG", "Buy", "buy", "0":
		return "BUY"
	case "SELL", "SHORT", "Sell", "sell", "1":
		return "SELL"
	default:
		return ""
	}
}

// DirectionSign returns +1 for BUY, -1 for SELL, 0 otherwise.
func DirectionSign(direction string) float64 {
	switch direction {
	case "BUY":
		return 1
	case "SELL":
		return -1
	default:
		return 0
	}
}
