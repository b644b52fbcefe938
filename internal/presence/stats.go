package presence

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Quality tiers derived from the newest signal value.
const (
	QualityExcellent = "EXCELLENT"
	QualityStable    = "STABLE"
	QualityWeak      = "WEAK"
)

// PathLoss holds the log-distance path-loss calibration. Reference is the
// expected RSSI at one metre; Exponent characterises the environment (2.0
// open air, 3.0 indoors). These are configuration, not physics: the derived
// distance is a smoothed heuristic.
type PathLoss struct {
	Reference float64
	Exponent  float64
	// Window is the number of most-recent samples averaged before applying
	// the model, to damp jitter.
	Window int
}

// DefaultPathLoss returns the stock calibration.
func DefaultPathLoss() PathLoss {
	return PathLoss{Reference: -45.0, Exponent: 2.5, Window: 10}
}

// Stats are the derived signal metrics for one device.
type Stats struct {
	Current  int
	Average  float64
	Peak     int
	Distance float64
	Quality  string
}

// ComputeStats derives the signal metrics from a device's sample history.
// Returns ok=false when there are no samples ("no result", per contract).
func ComputeStats(samples []Sample, pl PathLoss) (Stats, bool) {
	if len(samples) == 0 {
		return Stats{}, false
	}

	values := make([]float64, len(samples))
	peak := samples[0].RSSI
	for i, s := range samples {
		values[i] = float64(s.RSSI)
		if s.RSSI > peak {
			peak = s.RSSI
		}
	}

	current := samples[len(samples)-1].RSSI

	window := pl.Window
	if window <= 0 {
		window = 10
	}
	if window > len(values) {
		window = len(values)
	}
	recentAvg := stat.Mean(values[len(values)-window:], nil)

	return Stats{
		Current:  current,
		Average:  stat.Mean(values, nil),
		Peak:     peak,
		Distance: estimateDistance(current, recentAvg, pl),
		Quality:  QualityTier(current),
	}, true
}

// estimateDistance applies the log-distance path-loss model to the smoothed
// signal. A current raw reading of exactly 0 is the firmware's "no reading"
// sentinel and maps to distance 0 instead of the formula.
func estimateDistance(current int, recentAvg float64, pl PathLoss) float64 {
	if current == 0 {
		return 0
	}
	exponent := (pl.Reference - recentAvg) / (10 * pl.Exponent)
	return math.Pow(10, exponent)
}

// QualityTier classifies the newest signal value into a link-quality label.
func QualityTier(current int) string {
	switch {
	case current > -50:
		return QualityExcellent
	case current > -75:
		return QualityStable
	default:
		return QualityWeak
	}
}
