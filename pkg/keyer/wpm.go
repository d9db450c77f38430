package keyer

// WPMEstimator estimates words-per-minute from the stream of key-down
// durations, per §3/§4.6: "effective WPM (derived from dit length
// inferred from edge pattern)". It follows the standard PARIS timing
// convention, dit length in ms = 1200 / WPM, and treats the shortest
// recurring down-duration as the dit length.
type WPMEstimator struct {
	alpha float64
	ditMS float64
}

// NewWPMEstimator returns an estimator with the given EMA smoothing
// factor (§4.5 uses α≈0.1 for its clock-offset filter; the same order of
// magnitude works well here since dit length also drifts slowly with
// operator speed).
func NewWPMEstimator(alpha float64) *WPMEstimator {
	return &WPMEstimator{alpha: alpha}
}

// Observe records one completed key-down duration in milliseconds. Only
// durations at or below 1.5x the current dit estimate are treated as dit
// candidates (a dah is nominally 3x a dit, word/character spaces are
// longer still), so the estimator tracks the shortest recurring element
// instead of drifting toward the average of dits and dahs.
func (w *WPMEstimator) Observe(downDurationMS float64) {
	if downDurationMS <= 0 {
		return
	}
	if w.ditMS == 0 {
		w.ditMS = downDurationMS
		return
	}
	if downDurationMS <= w.ditMS*1.5 {
		w.ditMS = w.alpha*downDurationMS + (1-w.alpha)*w.ditMS
	}
}

// WPM returns the current effective words-per-minute estimate, or 0 if no
// dit-length estimate is available yet.
func (w *WPMEstimator) WPM() float64 {
	if w.ditMS <= 0 {
		return 0
	}
	return 1200 / w.ditMS
}
