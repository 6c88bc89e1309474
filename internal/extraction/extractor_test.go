package extraction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shootsafe-server/internal/extraction"
	"shootsafe-server/internal/models"
)

func TestExtract(t *testing.T) {
	t.Run("Tokens follow category declaration order", func(t *testing.T) {
		attrs := models.SceneAttributes{
			"water_complexity": {Value: "complex", Confidence: 0.85},
			"stunt_level":      {Value: "heavy", Confidence: 0.9},
			"time_of_day":      {Value: "night", Confidence: 0.95},
		}

		tokens := extraction.Extract(attrs)
		require.Len(t, tokens, 3)
		// Порядок задаётся объявлением категорий, не порядком входной карты
		assert.Equal(t, "stunt_heavy", tokens[0].Name)
		assert.Equal(t, "night_shoot", tokens[1].Name)
		assert.Equal(t, "water_complex", tokens[2].Name)
	})

	t.Run("Token inherits field confidence", func(t *testing.T) {
		tokens := extraction.Extract(models.SceneAttributes{
			"stunt_level": {Value: "medium", Confidence: 0.42},
		})
		require.Len(t, tokens, 1)
		assert.Equal(t, 0.42, tokens[0].Confidence)
	})

	t.Run("Lookup is case-insensitive and trims spaces", func(t *testing.T) {
		tokens := extraction.Extract(models.SceneAttributes{
			"crowd_size": {Value: "  LARGE ", Confidence: 0.8},
		})
		require.Len(t, tokens, 1)
		assert.Equal(t, "crowd_large", tokens[0].Name)
	})

	t.Run("Unknown values contribute no tokens", func(t *testing.T) {
		tokens := extraction.Extract(models.SceneAttributes{
			"stunt_level": {Value: "catastrophic", Confidence: 0.9},
			"crowd_size":  {Value: "medium", Confidence: 0.8},
		})
		require.Len(t, tokens, 1)
		assert.Equal(t, "crowd_medium", tokens[0].Name)
	})

	t.Run("None values map to zero tokens", func(t *testing.T) {
		tokens := extraction.Extract(models.SceneAttributes{
			"water_complexity": {Value: "none", Confidence: 0.9},
			"animals":          {Value: "no", Confidence: 0.9},
		})
		assert.Empty(t, tokens)
	})

	t.Run("Permit tiers expand to tier tokens", func(t *testing.T) {
		tokens := extraction.Extract(models.SceneAttributes{
			"permit_tier": {Value: "3", Confidence: 0.7},
		})
		require.Len(t, tokens, 1)
		assert.Equal(t, "permit_tier_3", tokens[0].Name)
	})

	t.Run("Empty attribute map yields nil", func(t *testing.T) {
		assert.Nil(t, extraction.Extract(models.SceneAttributes{}))
		assert.Nil(t, extraction.Extract(nil))
	})

	t.Run("Unrecognized categories are ignored", func(t *testing.T) {
		tokens := extraction.Extract(models.SceneAttributes{
			"location":     {Value: "Beach", Confidence: 0.9},
			"talent_count": {Value: "5", Confidence: 0.6},
		})
		assert.Empty(t, tokens)
	})
}

func TestNames(t *testing.T) {
	names := extraction.Names([]models.Token{
		{Name: "stunt_heavy", Confidence: 0.9},
		{Name: "night_shoot", Confidence: 0.95},
	})
	assert.Equal(t, []string{"stunt_heavy", "night_shoot"}, names)
	assert.Empty(t, extraction.Names(nil))
}
