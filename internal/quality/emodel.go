package quality

// Simplified ITU-T G.107 E-model for window-based estimation.
const (
	codecDelayMs   = 10.0
	baseRFactor    = 93.2
	lossPenalty    = 2.5
	delayKneeMs    = 160.0
	delayOffsetMs  = 120.0
	jitterWeight   = 2.0
	lowDelaySlope  = 40.0
	highDelaySlope = 10.0
)

// Label is the perceptual quality class of a MOS value.
type Label string

const (
	Excellent  Label = "Excellent"
	Good       Label = "Good"
	Acceptable Label = "Acceptable"
	Poor       Label = "Poor"
	Bad        Label = "Bad"
)

// EffectiveLatency adds jitter and fixed codec delay to the mean latency.
func EffectiveLatency(avgMs, jitterMs float64) float64 {
	return avgMs + jitterWeight*jitterMs + codecDelayMs
}

// RFactor computes the transmission rating, clamped to [0, 100].
func RFactor(effectiveMs, lossPercent float64) float64 {
	var r float64
	if effectiveMs < delayKneeMs {
		r = baseRFactor - effectiveMs/lowDelaySlope
	} else {
		r = baseRFactor - (effectiveMs-delayOffsetMs)/highDelaySlope
	}
	r -= lossPenalty * lossPercent
	return clamp(r, 0, 100)
}

// MOS maps an R-factor to a mean opinion score in [1, 5].
func MOS(r float64) float64 {
	mos := 1 + 0.035*r + 0.000007*r*(r-60)*(100-r)
	return clamp(mos, 1.0, 5.0)
}

// Classify buckets a MOS value.
func Classify(mos float64) Label {
	switch {
	case mos >= 4.3:
		return Excellent
	case mos >= 4.0:
		return Good
	case mos >= 3.6:
		return Acceptable
	case mos >= 3.1:
		return Poor
	default:
		return Bad
	}
}

// Jitter is the mean absolute difference between consecutive latencies.
func Jitter(latencies []float64) float64 {
	if len(latencies) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(latencies); i++ {
		diff := latencies[i] - latencies[i-1]
		if diff < 0 {
			diff = -diff
		}
		sum += diff
	}
	return sum / float64(len(latencies)-1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
