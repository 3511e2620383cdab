package detection

import "github.com/shockfeed/broker-bridge/internal/contract"

// ShockIndicator is the default Indicator: a shock requires both an
// abnormal price move (relative to a simple 10-bar average true range)
// and abnormal volume (relative to a 20-bar simple moving average),
// matching the config knobs' naming (priceMultiplier, volumeMultiplier)
// against the more sophisticated indicator math the original system
// delegates to an external library.
type ShockIndicator struct{}

// IsShock reports whether snapshot represents a price move beyond
// priceMultiplier times the 10-bar ATR of bars, combined with the last
// bar's volume exceeding volumeMultiplier times the 20-bar SMA of
// volume. Returns false if there are too few bars to compute either
// measure.
func (ShockIndicator) IsShock(bars []contract.Bar, snapshot, priceMultiplier, volumeMultiplier float64) bool {
	if len(bars) < 2 {
		return false
	}

	atr := averageTrueRange(bars, 10)
	if atr <= 0 {
		return false
	}

	last := bars[len(bars)-1]
	priceMove := absFloat(snapshot - last.Close)
	if priceMove < priceMultiplier*atr {
		return false
	}

	volumeSMA := simpleMovingAverageVolume(bars, 20)
	if volumeSMA <= 0 {
		return false
	}
	if float64(last.Volume) < volumeMultiplier*volumeSMA {
		return false
	}

	return true
}

// averageTrueRange computes a simple average true range over the last
// up to n bars (using the prior bar's close for the true-range
// calculation), a stand-in for the original's indicator-library call.
func averageTrueRange(bars []contract.Bar, n int) float64 {
	start := 1
	if len(bars)-n > start {
		start = len(bars) - n
	}

	var sum float64
	count := 0
	for i := start; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		bar := bars[i]
		highLow := bar.High - bar.Low
		highClose := absFloat(bar.High - prevClose)
		lowClose := absFloat(bar.Low - prevClose)
		tr := highLow
		if highClose > tr {
			tr = highClose
		}
		if lowClose > tr {
			tr = lowClose
		}
		sum += tr
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// simpleMovingAverageVolume averages the last up to n bars' volume.
func simpleMovingAverageVolume(bars []contract.Bar, n int) float64 {
	start := 0
	if len(bars)-n > start {
		start = len(bars) - n
	}

	var sum float64
	count := 0
	for i := start; i < len(bars); i++ {
		sum += float64(bars[i].Volume)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
