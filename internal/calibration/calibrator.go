// File: internal/calibration/calibrator.go

// Package calibration converts raw model probabilities into intervals with
// known coverage using split-conformal prediction. The quantile table is
// learned offline on a held-out calibration set; at runtime the calibrator is
// a pure lookup plus widening arithmetic.
package calibration

import (
	"fmt"
	"math"

	"github.com/elara-sec/verdict/internal/config"
)

// defaultQuantiles are nonconformity quantiles (|p - y| on the calibration
// set) shipped as built-ins, keyed by alpha. Config values override per key.
var defaultQuantiles = map[string]float64{
	"0.10": 0.18,
	"0.05": 0.24,
	"0.01": 0.34,
}

// Stage2SkipWidening is the extra interval widening applied when the deep
// analysis stage did not contribute.
const stage2SkipWidening = 0.25

// Features describes the evidence conditions the interval must account for.
type Features struct {
	// Completeness is the fraction of collectors that finished cleanly.
	Completeness float64
	// Stage2Ran is false when deep analysis was skipped or failed entirely.
	Stage2Ran bool
}

// Calibrated is a probability with its conformal interval.
type Calibrated struct {
	Probability float64
	Lower       float64
	Upper       float64
}

// Calibrator applies the conformal quantile table.
type Calibrator struct {
	alpha     float64
	quantiles map[string]float64
}

// New builds a calibrator from config, overlaying configured quantiles on the
// built-in table.
func New(cfg config.CalibrationConfig) (*Calibrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	quantiles := make(map[string]float64, len(defaultQuantiles))
	for k, v := range defaultQuantiles {
		quantiles[k] = v
	}
	for k, v := range cfg.Quantiles {
		if v <= 0 || v >= 1 {
			return nil, fmt.Errorf("calibration quantile %q = %f outside (0, 1)", k, v)
		}
		quantiles[k] = v
	}

	key := alphaKey(cfg.Alpha)
	if _, ok := quantiles[key]; !ok {
		return nil, fmt.Errorf("no calibration quantile available for alpha %s", key)
	}

	return &Calibrator{alpha: cfg.Alpha, quantiles: quantiles}, nil
}

func alphaKey(alpha float64) string {
	return fmt.Sprintf("%.2f", alpha)
}

// Calibrate maps a raw probability to its interval. The base quantile widens
// under evidence scarcity: q' = q * (1 + scarcity), with extra widening when
// Stage-2 never ran. The result always satisfies lower <= p <= upper within
// [0, 1]; a violation is a programming defect and fails the scan.
func (c *Calibrator) Calibrate(raw float64, feat Features) (Calibrated, error) {
	if raw < 0 || raw > 1 {
		return Calibrated{}, fmt.Errorf("raw probability %f outside [0, 1]", raw)
	}

	q := c.quantiles[alphaKey(c.alpha)]

	scarcity := 1 - clamp01(feat.Completeness)
	q *= 1 + scarcity
	if !feat.Stage2Ran {
		q *= 1 + stage2SkipWidening
	}

	cal := Calibrated{
		Probability: raw,
		Lower:       clamp01(raw - q),
		Upper:       clamp01(raw + q),
	}
	if cal.Lower > cal.Probability || cal.Probability > cal.Upper {
		return Calibrated{}, fmt.Errorf("calibration invariant violated: %f outside [%f, %f]",
			cal.Probability, cal.Lower, cal.Upper)
	}
	return cal, nil
}

// Alpha returns the configured miscoverage rate.
func (c *Calibrator) Alpha() float64 { return c.alpha }

// Coverage returns the nominal coverage of the produced intervals.
func (c *Calibrator) Coverage() float64 { return 1 - c.alpha }

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
