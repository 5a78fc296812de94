package interrupt

import "math"

// Band edges as half-open bin ranges of byte frequency data.
const (
	lowStart, lowEnd         = 2, 8
	lowMidStart, lowMidEnd   = 8, 15
	midStart, midEnd         = 15, 20
	midHighStart, midHighEnd = 20, 30
	highStart, highEnd       = 30, 50
	statsStart, statsEnd     = 1, 50
)

// Peak is a bin louder than both of its neighbours.
type Peak struct {
	Bin       int
	Magnitude float64
	// Prominence is Magnitude divided by the louder neighbour.
	Prominence float64
}

// Bands summarises one spectrum.
type Bands struct {
	Low, LowMid, Mid, MidHigh, High float64

	// Mean and StdDev are taken over bins [1, 50).
	Mean   float64
	StdDev float64

	Peaks []Peak
}

// Analyze computes band energies (mean magnitude per band), spread
// statistics and local peaks of a spectrum. Bins beyond the end of a short
// spectrum are treated as absent, not zero.
func Analyze(spectrum []float64) Bands {
	b := Bands{
		Low:     bandMean(spectrum, lowStart, lowEnd),
		LowMid:  bandMean(spectrum, lowMidStart, lowMidEnd),
		Mid:     bandMean(spectrum, midStart, midEnd),
		MidHigh: bandMean(spectrum, midHighStart, midHighEnd),
		High:    bandMean(spectrum, highStart, highEnd),
	}

	end := min(statsEnd, len(spectrum))
	if n := end - statsStart; n > 0 {
		b.Mean = bandMean(spectrum, statsStart, end)
		var ss float64
		for _, v := range spectrum[statsStart:end] {
			d := v - b.Mean
			ss += d * d
		}
		b.StdDev = math.Sqrt(ss / float64(n))
	}

	for i := statsStart; i < end && i+1 < len(spectrum); i++ {
		v := spectrum[i]
		neighbour := max(spectrum[i-1], spectrum[i+1])
		if v <= spectrum[i-1] || v <= spectrum[i+1] {
			continue
		}
		prom := math.Inf(1)
		if neighbour > 0 {
			prom = v / neighbour
		}
		b.Peaks = append(b.Peaks, Peak{Bin: i, Magnitude: v, Prominence: prom})
	}
	return b
}

func bandMean(spectrum []float64, start, end int) float64 {
	end = min(end, len(spectrum))
	if end <= start {
		return 0
	}
	var sum float64
	for _, v := range spectrum[start:end] {
		sum += v
	}
	return sum / float64(end-start)
}
