package vitals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bp(sys, dia float64) Snapshot {
	return Snapshot{Systolic: Value(sys), Diastolic: Value(dia)}
}

func TestCompare_BloodPressureDowngradeIsImprovement(t *testing.T) {
	got := Compare(bp(165, 95), bp(138, 88))

	require.NotNil(t, got.BloodPressure)
	assert.Equal(t, TrendDown, got.BloodPressure.Trend)
	require.NotNil(t, got.BloodPressure.IsImprovement)
	assert.True(t, *got.BloodPressure.IsImprovement)
	assert.Equal(t, "Stage 2 hypertension", got.BloodPressure.PreviousCategory)
	assert.Equal(t, "Stage 1 hypertension", got.BloodPressure.CurrentCategory)
	assert.Contains(t, got.BloodPressure.Interpretation, "Stage 1")
	assert.Contains(t, got.BloodPressure.Interpretation, "improved from Stage 2")
	assert.Equal(t, -27.0, got.BloodPressure.Systolic.Change)
	assert.Equal(t, -7.0, got.BloodPressure.Diastolic.Change)

	assert.Nil(t, got.Weight)
	assert.Nil(t, got.BMI)
	assert.Nil(t, got.Glucose)
}

func TestCompare_SwappedSnapshotsFlipTrendAndChange(t *testing.T) {
	forward := Compare(bp(165, 95), bp(138, 88))
	backward := Compare(bp(138, 88), bp(165, 95))

	require.NotNil(t, backward.BloodPressure)
	assert.Equal(t, TrendUp, backward.BloodPressure.Trend)
	assert.Equal(t, -forward.BloodPressure.Systolic.Change, backward.BloodPressure.Systolic.Change)
	require.NotNil(t, backward.BloodPressure.IsImprovement)
	assert.False(t, *backward.BloodPressure.IsImprovement)
}

func TestCompare_ImprovementIsNotSymmetric(t *testing.T) {
	overweight := Snapshot{Weight: Value(78), Height: Value(170)}
	underweight := Snapshot{Weight: Value(52), Height: Value(170)}

	forward := Compare(overweight, underweight)
	backward := Compare(underweight, overweight)

	require.NotNil(t, forward.BMI)
	require.NotNil(t, backward.BMI)
	assert.Equal(t, TrendDown, forward.BMI.Trend)
	assert.Equal(t, TrendUp, backward.BMI.Trend)
	// Overshooting past the normal range is a concern in both directions.
	require.NotNil(t, forward.BMI.IsImprovement)
	require.NotNil(t, backward.BMI.IsImprovement)
	assert.False(t, *forward.BMI.IsImprovement)
	assert.False(t, *backward.BMI.IsImprovement)
}

func TestCompare_StableWeightMakesNoClaim(t *testing.T) {
	s := Snapshot{Weight: Value(70), Height: Value(170)}
	got := Compare(s, s)

	require.NotNil(t, got.Weight)
	assert.Equal(t, 0.0, got.Weight.Change)
	assert.Equal(t, TrendStable, got.Weight.Trend)
	assert.Nil(t, got.Weight.IsImprovement)

	require.NotNil(t, got.BMI)
	assert.InDelta(t, 24.2, got.BMI.Previous, 0.05)
	assert.InDelta(t, 24.2, got.BMI.Current, 0.05)
	assert.Nil(t, got.BMI.IsImprovement)
	assert.Equal(t, "Normal weight, unchanged", got.BMI.Interpretation)
}

func TestCompare_OmitsMetricsMissingOnEitherSide(t *testing.T) {
	tests := []struct {
		name     string
		previous Snapshot
		current  Snapshot
		check    func(t *testing.T, c Comparison)
	}{
		{
			name:     "systolic only",
			previous: Snapshot{Systolic: Value(140)},
			current:  bp(130, 85),
			check:    func(t *testing.T, c Comparison) { assert.Nil(t, c.BloodPressure) },
		},
		{
			name:     "glucose only current",
			previous: Snapshot{},
			current:  Snapshot{Glucose: Value(6.1)},
			check:    func(t *testing.T, c Comparison) { assert.Nil(t, c.Glucose) },
		},
		{
			name:     "height missing",
			previous: Snapshot{Weight: Value(80), Height: Value(180)},
			current:  Snapshot{Weight: Value(78)},
			check: func(t *testing.T, c Comparison) {
				assert.Nil(t, c.BMI)
				require.NotNil(t, c.Weight)
				assert.Nil(t, c.Weight.IsImprovement)
				assert.Equal(t, TrendDown, c.Weight.Trend)
			},
		},
		{
			name:     "nothing recorded",
			previous: Snapshot{},
			current:  Snapshot{},
			check:    func(t *testing.T, c Comparison) { assert.True(t, c.IsEmpty()) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Compare(tt.previous, tt.current))
		})
	}
}

func TestCompare_ZeroPreviousOmitsPercent(t *testing.T) {
	got := Compare(Snapshot{Glucose: Value(0)}, Snapshot{Glucose: Value(5)})

	require.NotNil(t, got.Glucose)
	assert.Nil(t, got.Glucose.ChangePercent)
	assert.Equal(t, 5.0, got.Glucose.Change)

	got = Compare(Snapshot{Glucose: Value(8)}, Snapshot{Glucose: Value(6)})
	require.NotNil(t, got.Glucose.ChangePercent)
	assert.Equal(t, -25.0, *got.Glucose.ChangePercent)
}

func TestCompare_ClinicalDirection(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name     string
		previous Snapshot
		current  Snapshot
		trend    Trend
		want     *bool
		interp   string
	}{
		{
			name:     "normal stays normal",
			previous: bp(118, 76),
			current:  bp(112, 72),
			trend:    TrendStable,
			want:     nil,
			interp:   "Normal blood pressure, unchanged",
		},
		{
			name:     "stage 2 falling within category",
			previous: bp(170, 100),
			current:  bp(150, 95),
			trend:    TrendDown,
			want:     &yes,
			interp:   "Stage 2 hypertension, improving within category",
		},
		{
			name:     "normal to hypotension",
			previous: bp(110, 70),
			current:  bp(85, 55),
			trend:    TrendDown,
			want:     &no,
			interp:   "Hypotension, worsened from Normal blood pressure",
		},
		{
			name:     "elevated back to normal",
			previous: bp(125, 75),
			current:  bp(115, 75),
			trend:    TrendDown,
			want:     &yes,
			interp:   "Normal blood pressure, improved from Elevated blood pressure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.previous, tt.current).BloodPressure
			require.NotNil(t, got)
			assert.Equal(t, tt.trend, got.Trend)
			assert.Equal(t, tt.want, got.IsImprovement)
			assert.Equal(t, tt.interp, got.Interpretation)
		})
	}
}

func TestCompare_GlucoseLeavingNormalIsConcernEitherWay(t *testing.T) {
	down := Compare(Snapshot{Glucose: Value(5.0)}, Snapshot{Glucose: Value(3.5)}).Glucose
	up := Compare(Snapshot{Glucose: Value(5.0)}, Snapshot{Glucose: Value(6.2)}).Glucose

	require.NotNil(t, down.IsImprovement)
	require.NotNil(t, up.IsImprovement)
	assert.False(t, *down.IsImprovement)
	assert.False(t, *up.IsImprovement)

	toward := Compare(Snapshot{Glucose: Value(8.4)}, Snapshot{Glucose: Value(7.6)}).Glucose
	require.NotNil(t, toward.IsImprovement)
	assert.True(t, *toward.IsImprovement)
}

func TestCompare_WeightFollowsBMIDirection(t *testing.T) {
	got := Compare(
		Snapshot{Weight: Value(95), Height: Value(175)},
		Snapshot{Weight: Value(88), Height: Value(175)},
	)

	require.NotNil(t, got.Weight)
	require.NotNil(t, got.BMI)
	assert.Equal(t, TrendDown, got.Weight.Trend)
	assert.Equal(t, got.BMI.IsImprovement, got.Weight.IsImprovement)
	require.NotNil(t, got.Weight.IsImprovement)
	assert.True(t, *got.Weight.IsImprovement)
	assert.Contains(t, got.Weight.Interpretation, "Weight down 7.0 kg")
}

func TestCompare_Deterministic(t *testing.T) {
	prev := Snapshot{Systolic: Value(150), Diastolic: Value(92), Weight: Value(90), Height: Value(180), Glucose: Value(7.2)}
	cur := Snapshot{Systolic: Value(142), Diastolic: Value(90), Weight: Value(88.5), Height: Value(180), Glucose: Value(6.8)}

	assert.Equal(t, Compare(prev, cur), Compare(prev, cur))
}

func TestComparator_CustomRules(t *testing.T) {
	rules := DefaultRules()
	rules.Glucose.Noise = 1.0
	c := NewComparator(rules)

	got := c.Compare(Snapshot{Glucose: Value(8.0)}, Snapshot{Glucose: Value(7.5)})
	require.NotNil(t, got.Glucose)
	assert.Equal(t, TrendStable, got.Glucose.Trend)
	assert.Nil(t, got.Glucose.IsImprovement)
}

func TestDefaultRules_Validate(t *testing.T) {
	require.NoError(t, DefaultRules().Validate())

	broken := DefaultRules()
	broken.BMI.Scale = Scale{{Name: "a", Min: 0, Max: 10}, {Name: "b", Min: 11, Max: 20}}
	assert.Error(t, broken.Validate())
}
