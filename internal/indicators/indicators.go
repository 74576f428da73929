package indicators

import "math"

// Value is an indicator output that may be absent while the lookback window
// is not yet satisfied.
type Value struct {
	V  float64
	OK bool
}

// Snapshot holds every indicator computed for one candle index.
type Snapshot struct {
	RSI            Value
	EMA            Value
	BollingerUpper Value
	BollingerLower Value
	VolumeZScore   Value
}

// Config is the lookback configuration for a full snapshot.
type Config struct {
	RSIPeriod           int
	EMAPeriod           int
	BollingerPeriod     int
	BollingerMultiplier float64
	VolumeZPeriod       int
}

// RSI computes the relative strength index with Wilder smoothing: the first
// averages are simple means of the first period gains/losses, every later
// sample uses avg = (avg*(period-1) + sample) / period. Needs more than
// period closes. A zero average loss maps to 100.
func RSI(closes []float64, period int) Value {
	if period <= 0 || len(closes) <= period {
		return Value{}
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return Value{V: 100, OK: true}
	}
	rs := avgGain / avgLoss
	return Value{V: 100 - 100/(1+rs), OK: true}
}

// EMA computes an exponential moving average with smoothing 2/(period+1),
// seeded by the first close of the series rather than a simple-average
// seed. The seed choice shifts warm-up values against a textbook EMA;
// detection thresholds were tuned against this variant.
func EMA(closes []float64, period int) Value {
	if period <= 0 || len(closes) < period {
		return Value{}
	}

	k := 2.0 / float64(period+1)
	ema := closes[0]
	for i := 1; i < len(closes); i++ {
		ema = closes[i]*k + ema*(1-k)
	}
	return Value{V: ema, OK: true}
}

// BollingerBands returns upper and lower bands around the trailing simple
// mean, using the population standard deviation (divide by period).
func BollingerBands(closes []float64, period int, multiplier float64) (upper, lower Value) {
	if period <= 0 || len(closes) < period {
		return Value{}, Value{}
	}

	window := closes[len(closes)-period:]
	var sum float64
	for _, c := range window {
		sum += c
	}
	basis := sum / float64(period)

	var variance float64
	for _, c := range window {
		d := c - basis
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))

	return Value{V: basis + multiplier*sd, OK: true},
		Value{V: basis - multiplier*sd, OK: true}
}

// VolumeZScore scores the latest volume against the mean and population
// standard deviation of the preceding period samples; the current sample is
// excluded from its own baseline. Absent when the baseline deviation is
// zero; callers must treat that as "filter not satisfied", not as zero.
func VolumeZScore(volumes []float64, period int) Value {
	if period <= 0 || len(volumes) < period+1 {
		return Value{}
	}

	baseline := volumes[len(volumes)-period-1 : len(volumes)-1]
	var sum float64
	for _, v := range baseline {
		sum += v
	}
	mean := sum / float64(period)

	var variance float64
	for _, v := range baseline {
		d := v - mean
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))
	if sd == 0 {
		return Value{}
	}

	return Value{V: (volumes[len(volumes)-1] - mean) / sd, OK: true}
}

// Compute builds a Snapshot from parallel close and volume series.
func Compute(closes, volumes []float64, cfg Config) Snapshot {
	upper, lower := BollingerBands(closes, cfg.BollingerPeriod, cfg.BollingerMultiplier)
	return Snapshot{
		RSI:            RSI(closes, cfg.RSIPeriod),
		EMA:            EMA(closes, cfg.EMAPeriod),
		BollingerUpper: upper,
		BollingerLower: lower,
		VolumeZScore:   VolumeZScore(volumes, cfg.VolumeZPeriod),
	}
}

// MaxLookback reports the longest warm-up any indicator in the snapshot
// needs; series shorter than this yield at least one absent value.
func (c Config) MaxLookback() int {
	max := c.RSIPeriod + 1
	if c.EMAPeriod > max {
		max = c.EMAPeriod
	}
	if c.BollingerPeriod > max {
		max = c.BollingerPeriod
	}
	if c.VolumeZPeriod+1 > max {
		max = c.VolumeZPeriod + 1
	}
	return max
}
