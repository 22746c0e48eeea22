package vitals

import (
	"math"
	"time"
)

// Snapshot is the set of measurements captured during one consultation.
// A nil field means the measurement was not taken.
type Snapshot struct {
	TakenAt     time.Time `json:"takenAt,omitempty"`
	Systolic    *float64  `json:"systolic,omitempty"`    // mmHg
	Diastolic   *float64  `json:"diastolic,omitempty"`   // mmHg
	HeartRate   *float64  `json:"heartRate,omitempty"`   // bpm
	Temperature *float64  `json:"temperature,omitempty"` // °C
	Weight      *float64  `json:"weight,omitempty"`      // kg
	Height      *float64  `json:"height,omitempty"`      // cm
	Glucose     *float64  `json:"glucose,omitempty"`     // mmol/L, fasting
}

// IsEmpty reports whether no measurement at all was recorded.
func (s Snapshot) IsEmpty() bool {
	return s.Systolic == nil && s.Diastolic == nil && s.HeartRate == nil &&
		s.Temperature == nil && s.Weight == nil && s.Height == nil && s.Glucose == nil
}

// BMI derives the body mass index from weight and height. It returns nil when
// either is missing or height is not positive.
func (s Snapshot) BMI() *float64 {
	if s.Weight == nil || s.Height == nil || *s.Height <= 0 {
		return nil
	}
	m := *s.Height / 100
	bmi := round(*s.Weight/(m*m), 1)
	return &bmi
}

// Value returns a pointer to v. Handy when building snapshots in code.
func Value(v float64) *float64 { return &v }

type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Delta is the raw numeric difference between two readings.
type Delta struct {
	Previous      float64  `json:"previous"`
	Current       float64  `json:"current"`
	Change        float64  `json:"change"`
	ChangePercent *float64 `json:"changePercent,omitempty"`
}

// MetricComparison is the comparison of a single scalar metric.
type MetricComparison struct {
	Delta
	Trend            Trend  `json:"trend"`
	IsImprovement    *bool  `json:"isImprovement,omitempty"`
	PreviousCategory string `json:"previousCategory,omitempty"`
	CurrentCategory  string `json:"currentCategory,omitempty"`
	Interpretation   string `json:"interpretation"`
}

// BloodPressureComparison compares systolic and diastolic readings together,
// classified by their combined category.
type BloodPressureComparison struct {
	Systolic         Delta  `json:"systolic"`
	Diastolic        Delta  `json:"diastolic"`
	PreviousCategory string `json:"previousCategory"`
	CurrentCategory  string `json:"currentCategory"`
	Trend            Trend  `json:"trend"`
	IsImprovement    *bool  `json:"isImprovement,omitempty"`
	Interpretation   string `json:"interpretation"`
}

// Comparison holds an entry per metric for which both snapshots had data.
type Comparison struct {
	BloodPressure *BloodPressureComparison `json:"bloodPressure,omitempty"`
	Weight        *MetricComparison        `json:"weight,omitempty"`
	BMI           *MetricComparison        `json:"bmi,omitempty"`
	Glucose       *MetricComparison        `json:"glucose,omitempty"`
}

// IsEmpty reports whether no metric could be compared.
func (c Comparison) IsEmpty() bool {
	return c.BloodPressure == nil && c.Weight == nil && c.BMI == nil && c.Glucose == nil
}

// Interpretations lists the per-metric interpretation lines in a fixed order.
func (c Comparison) Interpretations() []string {
	var out []string
	if c.BloodPressure != nil {
		out = append(out, "Blood pressure: "+c.BloodPressure.Interpretation)
	}
	if c.Weight != nil {
		out = append(out, c.Weight.Interpretation)
	}
	if c.Glucose != nil {
		out = append(out, "Glucose: "+c.Glucose.Interpretation)
	}
	return out
}

func newDelta(previous, current float64) Delta {
	d := Delta{
		Previous: previous,
		Current:  current,
		Change:   round(current-previous, 2),
	}
	if previous != 0 {
		pct := round((current-previous)/previous*100, 2)
		d.ChangePercent = &pct
	}
	return d
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
