package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shootsafe-server/internal/models"
	"shootsafe-server/internal/refdata"
	"shootsafe-server/internal/scoring"
)

func newScorer(t *testing.T) *scoring.Scorer {
	t.Helper()
	tables, err := refdata.Load()
	require.NoError(t, err)
	return scoring.NewScorer(tables, nil)
}

func TestScore(t *testing.T) {
	scorer := newScorer(t)

	t.Run("Night water stunt combination amplifies at 1.4 and caps at 150", func(t *testing.T) {
		tokens := []models.Token{
			{Name: "stunt_heavy", Confidence: 0.85},
			{Name: "night_shoot", Confidence: 0.95},
			{Name: "water_complex", Confidence: 0.85},
		}

		result := scorer.Score(tokens)

		// safety 20+10 -> 30 (cap), logistics 10+8+15 -> 30 (cap),
		// schedule 8+12+10 = 30, budget 25+5 -> 30 (cap), compliance 6+5+8 = 19
		assert.Equal(t, 30, result.SafetyScore)
		assert.Equal(t, 30, result.LogisticsScore)
		assert.Equal(t, 30, result.ScheduleScore)
		assert.Equal(t, 30, result.BudgetScore)
		assert.Equal(t, 19, result.ComplianceScore)
		assert.Equal(t, 149, result.BaseScore)

		assert.Equal(t, 1.4, result.AmplificationFactor)
		assert.Equal(t, "Risk interaction: night_shoot + water + stunt", result.AmplificationReason)
		// round(149*1.4)=209 ограничивается шкалой
		assert.Equal(t, 150, result.FinalScore)
	})

	t.Run("Pillar scores never exceed the cap", func(t *testing.T) {
		tokens := []models.Token{
			{Name: "stunt_heavy"}, {Name: "water_complex"}, {Name: "crowd_large"},
			{Name: "vehicle_heavy"}, {Name: "night_shoot"}, {Name: "animal_large"},
			{Name: "weather_dependent"}, {Name: "permit_tier_4"},
		}

		result := scorer.Score(tokens)
		for pillar, score := range map[string]int{
			"safety":     result.SafetyScore,
			"logistics":  result.LogisticsScore,
			"schedule":   result.ScheduleScore,
			"budget":     result.BudgetScore,
			"compliance": result.ComplianceScore,
		} {
			assert.GreaterOrEqual(t, score, 0, pillar)
			assert.LessOrEqual(t, score, scoring.PillarCap, pillar)
		}
		assert.LessOrEqual(t, result.FinalScore, scoring.RiskScaleMax)
	})

	t.Run("Empty token list yields zero score and factor 1.0", func(t *testing.T) {
		result := scorer.Score(nil)
		assert.Equal(t, 0, result.BaseScore)
		assert.Equal(t, 0, result.FinalScore)
		assert.Equal(t, 1.0, result.AmplificationFactor)
		assert.Empty(t, result.AmplificationReason)
		assert.Empty(t, result.RiskDrivers)
	})

	t.Run("Unknown tokens contribute no points", func(t *testing.T) {
		result := scorer.Score([]models.Token{{Name: "teleportation", Confidence: 0.9}})
		assert.Equal(t, 0, result.BaseScore)
		assert.Equal(t, 0, result.FinalScore)
	})

	t.Run("Completing an amplifier rule never decreases the score", func(t *testing.T) {
		base := []models.Token{
			{Name: "stunt_heavy"}, {Name: "water_complex"},
		}
		amplified := append(append([]models.Token{}, base...), models.Token{Name: "night_shoot"})

		withoutRule := scorer.Score(base)
		withRule := scorer.Score(amplified)
		assert.GreaterOrEqual(t, withRule.FinalScore, withoutRule.FinalScore)
		assert.GreaterOrEqual(t, withRule.AmplificationFactor, 1.0)
	})

	t.Run("Highest single multiplier wins over compounding", func(t *testing.T) {
		// Совпадают и {night_shoot, water, stunt} (1.4), и {stunt, vehicle, crowd} (1.35)
		tokens := []models.Token{
			{Name: "stunt_heavy"}, {Name: "night_shoot"}, {Name: "water_complex"},
			{Name: "vehicle_heavy"}, {Name: "crowd_large"},
		}
		result := scorer.Score(tokens)
		assert.Equal(t, 1.4, result.AmplificationFactor)
	})

	t.Run("Extra tokens do not disqualify a rule", func(t *testing.T) {
		tokens := []models.Token{
			{Name: "weather_dependent"}, {Name: "tight_schedule"},
			{Name: "crowd_small"}, {Name: "permit_tier_2"},
		}
		result := scorer.Score(tokens)
		assert.Equal(t, 1.25, result.AmplificationFactor)
	})

	t.Run("Drivers exclude uninteresting defaults and include hot pillars", func(t *testing.T) {
		tokens := []models.Token{
			{Name: "day_shoot"},
			{Name: "stunt_heavy"},
		}
		result := scorer.Score(tokens)

		assert.NotContains(t, result.RiskDrivers, "day_shoot")
		assert.Contains(t, result.RiskDrivers, "stunt_heavy")
		// stunt_heavy: safety 20, budget 25 — оба столпа выше порога
		assert.Contains(t, result.RiskDrivers, "High safety risk (20 pts)")
		assert.Contains(t, result.RiskDrivers, "High budget risk (25 pts)")
	})

	t.Run("Drivers are deduplicated", func(t *testing.T) {
		tokens := []models.Token{
			{Name: "stunt_heavy"}, {Name: "stunt_heavy"},
		}
		result := scorer.Score(tokens)

		seen := map[string]int{}
		for _, d := range result.RiskDrivers {
			seen[d]++
		}
		for driver, count := range seen {
			assert.Equal(t, 1, count, driver)
		}
	})
}
