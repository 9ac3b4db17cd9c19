package ingest

import "math"

// Confidence maps a peak RSSI reading in dB to a 0-100 directional
// confidence score. The UHF scanner is directional (~60-70 degree beam),
// so a stronger peak means the operator was pointed more squarely at the
// tag. The usable range of -70 dB (edge of beam) to -30 dB (direct hit)
// maps linearly onto 0-100, clamped at both ends. A reading of exactly 0
// is the firmware's "no signal" sentinel and scores 0.
func Confidence(rssiPeak int) int {
	if rssiPeak == 0 {
		return 0
	}
	scaled := (float64(rssiPeak) + 70) * 2.5
	if scaled < 0 {
		return 0
	}
	if scaled > 100 {
		return 100
	}
	return int(math.Round(scaled))
}
