package peers

// EWMA is an exponentially-weighted moving average of a stage's duration,
// in milliseconds. The first sample initializes the value directly
// (there is nothing to smooth against yet); every sample after that is
// blended in at the fixed smoothing factor alpha.
type EWMA struct {
	alpha       float64
	valueMS     float64
	initialized bool
}

// NewEWMA returns an EWMA with the given smoothing factor.
func NewEWMA(alpha float64) *EWMA {
	return &EWMA{alpha: alpha}
}

// Update folds sampleMS into the running average and returns the new
// value. Negative samples are clamped to zero — a duration can't be
// negative, and a caller passing one almost certainly made an arithmetic
// mistake upstream that shouldn't be allowed to poison the average.
func (e *EWMA) Update(sampleMS float64) float64 {
	if sampleMS < 0 {
		sampleMS = 0
	}
	if !e.initialized {
		e.valueMS = sampleMS
		e.initialized = true
	} else {
		e.valueMS = e.alpha*sampleMS + (1-e.alpha)*e.valueMS
	}
	return e.valueMS
}

// Value returns the current running average without updating it.
func (e *EWMA) Value() float64 {
	return e.valueMS
}
