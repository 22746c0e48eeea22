package vitals

import (
	"fmt"
	"math"
)

// Band is one clinical category of a metric. Severity 0 is the normal range,
// positive values lie above it and negative values below it. Min is inclusive,
// Max exclusive.
type Band struct {
	Name     string
	Min      float64
	Max      float64
	Severity int
}

// Scale is an ordered, non-overlapping list of bands.
type Scale []Band

// Classify returns the band containing v.
func (s Scale) Classify(v float64) (Band, bool) {
	for _, b := range s {
		if v >= b.Min && v < b.Max {
			return b, true
		}
	}
	return Band{}, false
}

// MetricRules configure a scalar metric.
type MetricRules struct {
	Label string
	Unit  string
	Scale Scale
	// Noise is the smallest absolute change reported as up or down.
	Noise float64
}

// BloodPressureRules classify systolic and diastolic separately; the combined
// category is the component farthest from normal, with readings above normal
// taking precedence over hypotension.
type BloodPressureRules struct {
	Systolic   Scale
	Diastolic  Scale
	Categories map[int]string
	// WithinCategory is the systolic change needed to report a trend when the
	// combined category did not move.
	WithinCategory float64
}

// Rules is the complete clinical direction table used by the comparator.
type Rules struct {
	BloodPressure BloodPressureRules
	BMI           MetricRules
	Glucose       MetricRules
	WeightNoise   float64
}

var inf = math.Inf(1)

// DefaultRules uses AHA 2017 blood pressure categories, WHO BMI classes and
// ADA fasting glucose thresholds.
func DefaultRules() Rules {
	return Rules{
		BloodPressure: BloodPressureRules{
			Systolic: Scale{
				{Name: "hypotension", Min: -inf, Max: 90, Severity: -1},
				{Name: "normal", Min: 90, Max: 120, Severity: 0},
				{Name: "elevated", Min: 120, Max: 130, Severity: 1},
				{Name: "stage 1", Min: 130, Max: 140, Severity: 2},
				{Name: "stage 2", Min: 140, Max: 180, Severity: 3},
				{Name: "crisis", Min: 180, Max: inf, Severity: 4},
			},
			Diastolic: Scale{
				{Name: "hypotension", Min: -inf, Max: 60, Severity: -1},
				{Name: "normal", Min: 60, Max: 80, Severity: 0},
				{Name: "stage 1", Min: 80, Max: 90, Severity: 2},
				{Name: "stage 2", Min: 90, Max: 120, Severity: 3},
				{Name: "crisis", Min: 120, Max: inf, Severity: 4},
			},
			Categories: map[int]string{
				-1: "Hypotension",
				0:  "Normal blood pressure",
				1:  "Elevated blood pressure",
				2:  "Stage 1 hypertension",
				3:  "Stage 2 hypertension",
				4:  "Hypertensive crisis",
			},
			WithinCategory: 10,
		},
		BMI: MetricRules{
			Label: "BMI",
			Unit:  "kg/m²",
			Scale: Scale{
				{Name: "Underweight", Min: -inf, Max: 18.5, Severity: -1},
				{Name: "Normal weight", Min: 18.5, Max: 25, Severity: 0},
				{Name: "Overweight", Min: 25, Max: 30, Severity: 1},
				{Name: "Obesity class I", Min: 30, Max: 35, Severity: 2},
				{Name: "Obesity class II", Min: 35, Max: 40, Severity: 3},
				{Name: "Obesity class III", Min: 40, Max: inf, Severity: 4},
			},
			Noise: 0.3,
		},
		Glucose: MetricRules{
			Label: "Glucose",
			Unit:  "mmol/L",
			Scale: Scale{
				{Name: "Hypoglycaemia", Min: -inf, Max: 3.9, Severity: -1},
				{Name: "Normal fasting glucose", Min: 3.9, Max: 5.6, Severity: 0},
				{Name: "Impaired fasting glucose", Min: 5.6, Max: 7.0, Severity: 1},
				{Name: "Diabetic range glucose", Min: 7.0, Max: inf, Severity: 2},
			},
			Noise: 0.3,
		},
		WeightNoise: 0.5,
	}
}

// Validate checks that every scale covers its range without gaps.
func (r Rules) Validate() error {
	scales := map[string]Scale{
		"systolic":  r.BloodPressure.Systolic,
		"diastolic": r.BloodPressure.Diastolic,
		"bmi":       r.BMI.Scale,
		"glucose":   r.Glucose.Scale,
	}
	for name, s := range scales {
		if len(s) == 0 {
			return fmt.Errorf("%s scale is empty", name)
		}
		for i := 1; i < len(s); i++ {
			if s[i].Min != s[i-1].Max {
				return fmt.Errorf("%s scale has a gap between %q and %q", name, s[i-1].Name, s[i].Name)
			}
		}
	}
	for _, s := range []Scale{r.BloodPressure.Systolic, r.BloodPressure.Diastolic} {
		for _, b := range s {
			if _, ok := r.BloodPressure.Categories[b.Severity]; !ok {
				return fmt.Errorf("no blood pressure category for severity %d", b.Severity)
			}
		}
	}
	return nil
}

type verdict int

const (
	noClaim verdict = iota
	improved
	worsened
)

func (v verdict) bool() *bool {
	switch v {
	case improved:
		t := true
		return &t
	case worsened:
		f := false
		return &f
	}
	return nil
}

// judge is the single place where clinical direction is decided. Both the
// isImprovement flag and the interpretation text derive from its result.
func judge(prev, cur int, trend Trend) verdict {
	switch {
	case prev == 0 && cur == 0:
		return noClaim
	case prev == 0:
		return worsened
	case cur == 0:
		return improved
	case (prev > 0) != (cur > 0):
		return worsened
	case abs(cur) < abs(prev):
		return improved
	case abs(cur) > abs(prev):
		return worsened
	}
	// Same band outside the normal range: direction toward normal decides.
	switch {
	case trend == TrendStable:
		return noClaim
	case (prev > 0) == (trend == TrendDown):
		return improved
	default:
		return worsened
	}
}

func interpret(prevName, curName string, v verdict) string {
	if prevName == curName {
		switch v {
		case improved:
			return fmt.Sprintf("%s, improving within category", curName)
		case worsened:
			return fmt.Sprintf("%s, worsening within category", curName)
		}
		return fmt.Sprintf("%s, unchanged", curName)
	}
	switch v {
	case improved:
		return fmt.Sprintf("%s, improved from %s", curName, prevName)
	case worsened:
		return fmt.Sprintf("%s, worsened from %s", curName, prevName)
	}
	return fmt.Sprintf("%s, changed from %s", curName, prevName)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
