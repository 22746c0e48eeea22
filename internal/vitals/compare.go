// Package vitals computes clinical deltas between two vital-sign snapshots.
package vitals

import "fmt"

// Comparator compares snapshots using a fixed rule table.
type Comparator struct {
	rules Rules
}

func NewComparator(rules Rules) *Comparator {
	return &Comparator{rules: rules}
}

var defaultComparator = NewComparator(DefaultRules())

// Compare uses DefaultRules.
func Compare(previous, current Snapshot) Comparison {
	return defaultComparator.Compare(previous, current)
}

// Compare returns an entry for every metric both snapshots supplied. Metrics
// missing on either side are left out rather than reported as unchanged.
func (c *Comparator) Compare(previous, current Snapshot) Comparison {
	var out Comparison
	out.BloodPressure = c.bloodPressure(previous, current)
	out.BMI = c.scalar(c.rules.BMI, previous.BMI(), current.BMI())
	out.Glucose = c.scalar(c.rules.Glucose, previous.Glucose, current.Glucose)
	out.Weight = c.weight(previous, current, out.BMI)
	return out
}

func (c *Comparator) bloodPressure(previous, current Snapshot) *BloodPressureComparison {
	if previous.Systolic == nil || previous.Diastolic == nil || current.Systolic == nil || current.Diastolic == nil {
		return nil
	}
	rules := c.rules.BloodPressure
	prevSev := combinedSeverity(rules, *previous.Systolic, *previous.Diastolic)
	curSev := combinedSeverity(rules, *current.Systolic, *current.Diastolic)

	sys := newDelta(*previous.Systolic, *current.Systolic)
	dia := newDelta(*previous.Diastolic, *current.Diastolic)

	var trend Trend
	switch {
	case curSev > prevSev:
		trend = TrendUp
	case curSev < prevSev:
		trend = TrendDown
	case sys.Change >= rules.WithinCategory:
		trend = TrendUp
	case sys.Change <= -rules.WithinCategory:
		trend = TrendDown
	default:
		trend = TrendStable
	}

	v := judge(prevSev, curSev, trend)
	prevName, curName := rules.Categories[prevSev], rules.Categories[curSev]
	return &BloodPressureComparison{
		Systolic:         sys,
		Diastolic:        dia,
		PreviousCategory: prevName,
		CurrentCategory:  curName,
		Trend:            trend,
		IsImprovement:    v.bool(),
		Interpretation:   interpret(prevName, curName, v),
	}
}

func combinedSeverity(rules BloodPressureRules, systolic, diastolic float64) int {
	s, _ := rules.Systolic.Classify(systolic)
	d, _ := rules.Diastolic.Classify(diastolic)
	hi, lo := s.Severity, d.Severity
	if lo > hi {
		hi, lo = lo, hi
	}
	if hi > 0 {
		return hi
	}
	return lo
}

func (c *Comparator) scalar(rules MetricRules, previous, current *float64) *MetricComparison {
	if previous == nil || current == nil {
		return nil
	}
	d := newDelta(*previous, *current)
	trend := trendOf(d.Change, rules.Noise)
	prevBand, _ := rules.Scale.Classify(*previous)
	curBand, _ := rules.Scale.Classify(*current)
	v := judge(prevBand.Severity, curBand.Severity, trend)
	return &MetricComparison{
		Delta:            d,
		Trend:            trend,
		IsImprovement:    v.bool(),
		PreviousCategory: prevBand.Name,
		CurrentCategory:  curBand.Name,
		Interpretation:   interpret(prevBand.Name, curBand.Name, v),
	}
}

// weight carries no bands of its own: its clinical direction is the BMI's.
func (c *Comparator) weight(previous, current Snapshot, bmi *MetricComparison) *MetricComparison {
	if previous.Weight == nil || current.Weight == nil {
		return nil
	}
	d := newDelta(*previous.Weight, *current.Weight)
	m := &MetricComparison{
		Delta: d,
		Trend: trendOf(d.Change, c.rules.WeightNoise),
	}
	switch m.Trend {
	case TrendStable:
		m.Interpretation = "Weight stable"
	default:
		m.Interpretation = fmt.Sprintf("Weight %s %.1f kg", m.Trend, absf(d.Change))
	}
	if bmi != nil {
		m.IsImprovement = bmi.IsImprovement
		m.PreviousCategory = bmi.PreviousCategory
		m.CurrentCategory = bmi.CurrentCategory
		m.Interpretation += "; " + bmi.Interpretation
	}
	return m
}

func trendOf(change, noise float64) Trend {
	switch {
	case absf(change) < noise:
		return TrendStable
	case change > 0:
		return TrendUp
	default:
		return TrendDown
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
