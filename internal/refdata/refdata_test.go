package refdata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shootsafe-server/internal/refdata"
)

func TestLoad(t *testing.T) {
	tables, err := refdata.Load()
	require.NoError(t, err)

	t.Run("Complexity table has canonical features", func(t *testing.T) {
		row, ok := tables.Complexity("stunt_heavy")
		require.True(t, ok)
		assert.Equal(t, 3.0, row.CostMultiplier)
		assert.Equal(t, 20, row.Points.Safety)
		assert.Equal(t, 25, row.Points.Budget)

		_, ok = tables.Complexity("unknown_feature")
		assert.False(t, ok)
	})

	t.Run("CostMultiplier defaults to 1.0 for unknown feature", func(t *testing.T) {
		assert.Equal(t, 1.0, tables.CostMultiplier("unknown_feature"))
		assert.Equal(t, 2.5, tables.CostMultiplier("water_complex"))
	})

	t.Run("City lookup is case-insensitive", func(t *testing.T) {
		row, ok := tables.City("mumbai")
		require.True(t, ok)
		assert.Equal(t, "Mumbai", row.City)
		assert.InDelta(t, 1.0, row.Multiplier(), 1e-9)

		row, ok = tables.City("GOA")
		require.True(t, ok)
		// Среднее пяти частных множителей: (1.2+1.3+1.4+1.3+1.5)/5
		assert.InDelta(t, 1.34, row.Multiplier(), 1e-9)
	})

	t.Run("Unknown city is not an error", func(t *testing.T) {
		_, ok := tables.City("Atlantis")
		assert.False(t, ok)
	})

	t.Run("BaseCosts averages min and max per department", func(t *testing.T) {
		costs := tables.BaseCosts("indie")
		require.NotEmpty(t, costs)
		assert.Equal(t, 60000, costs["Stunt Coordinator"])
		assert.Equal(t, 37500, costs["Water Safety Diver"])
	})

	t.Run("BaseCosts for unknown scale is empty", func(t *testing.T) {
		assert.Empty(t, tables.BaseCosts("blockbuster"))
	})

	t.Run("Location lookup normalizes spaces and case", func(t *testing.T) {
		row, ok := tables.Location("public road")
		require.True(t, ok)
		assert.Equal(t, 3, row.PermitTier)

		_, ok = tables.Location("nonexistent place")
		assert.False(t, ok)
	})
}
