package audit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shootsafe-server/internal/audit"
	"shootsafe-server/internal/models"
)

func scene(number int, location string, finalScore, costLikely int) models.SceneAnalysis {
	return models.SceneAnalysis{
		SceneNumber: number,
		Location:    location,
		Risk:        models.RiskResult{FinalScore: finalScore},
		Budget:      models.BudgetResult{CostLikely: costLikely},
	}
}

func insightsOfType(insights []models.Insight, insightType string) []models.Insight {
	var matched []models.Insight
	for _, in := range insights {
		if in.Type == insightType {
			matched = append(matched, in)
		}
	}
	return matched
}

func TestAudit(t *testing.T) {
	auditor := audit.NewAuditor(nil)

	t.Run("Two high-risk scenes trigger risk concentration", func(t *testing.T) {
		scenes := []models.SceneAnalysis{
			scene(1, "Beach", 80, 100000),
			scene(2, "Hotel", 20, 50000),
			scene(3, "Highway", 95, 200000),
		}

		insights := auditor.Audit(scenes)
		concentration := insightsOfType(insights, models.InsightRiskConcentration)
		require.Len(t, concentration, 1)
		assert.Equal(t, []int{1, 3}, concentration[0].SceneIDs)
		assert.Equal(t, "2 high-risk scenes require coordinated planning", concentration[0].Problem)
		assert.Equal(t, 0.80, concentration[0].Confidence)
	})

	t.Run("Single high-risk scene is not a concentration", func(t *testing.T) {
		scenes := []models.SceneAnalysis{
			scene(1, "Beach", 80, 100000),
			scene(2, "Hotel", 20, 50000),
		}
		insights := auditor.Audit(scenes)
		assert.Empty(t, insightsOfType(insights, models.InsightRiskConcentration))
	})

	t.Run("Score exactly at the threshold does not count as high risk", func(t *testing.T) {
		scenes := []models.SceneAnalysis{
			scene(1, "Beach", 50, 0),
			scene(2, "Hotel", 50, 0),
		}
		insights := auditor.Audit(scenes)
		assert.Empty(t, insightsOfType(insights, models.InsightRiskConcentration))
	})

	t.Run("Three scenes at one location form a cluster", func(t *testing.T) {
		scenes := []models.SceneAnalysis{
			scene(1, "Marine Drive", 10, 0),
			scene(2, "Hotel", 10, 0),
			scene(3, "Marine Drive", 10, 0),
			scene(4, "Marine Drive", 10, 0),
		}

		insights := auditor.Audit(scenes)
		clusters := insightsOfType(insights, models.InsightLocationCluster)
		require.Len(t, clusters, 1)
		assert.Equal(t, []int{1, 3, 4}, clusters[0].SceneIDs)
		assert.Equal(t, "3 scenes at Marine Drive", clusters[0].Problem)
		assert.Equal(t, 0.75, clusters[0].Confidence)
	})

	t.Run("Two scenes at one location is not a cluster", func(t *testing.T) {
		scenes := []models.SceneAnalysis{
			scene(1, "Marine Drive", 10, 0),
			scene(2, "Marine Drive", 10, 0),
		}
		insights := auditor.Audit(scenes)
		assert.Empty(t, insightsOfType(insights, models.InsightLocationCluster))
	})

	t.Run("Location matching is exact, not fuzzy", func(t *testing.T) {
		scenes := []models.SceneAnalysis{
			scene(1, "Marine Drive", 10, 0),
			scene(2, "marine drive", 10, 0),
			scene(3, "Marine Drive ", 10, 0),
		}
		insights := auditor.Audit(scenes)
		assert.Empty(t, insightsOfType(insights, models.InsightLocationCluster))
	})

	t.Run("Top three scenes holding the budget trigger concentration", func(t *testing.T) {
		scenes := []models.SceneAnalysis{
			scene(1, "A", 0, 500000),
			scene(2, "B", 0, 300000),
			scene(3, "C", 0, 200000),
			scene(4, "D", 0, 50000),
			scene(5, "E", 0, 50000),
		}

		insights := auditor.Audit(scenes)
		concentration := insightsOfType(insights, models.InsightBudgetConcentration)
		require.Len(t, concentration, 1)
		assert.Equal(t, []int{1, 2, 3}, concentration[0].SceneIDs)
		// 1000000 из 1100000 -> 91%
		assert.Equal(t, "Top 3 scenes hold 91% of the likely budget", concentration[0].Problem)
	})

	t.Run("Evenly spread budget is not a concentration", func(t *testing.T) {
		scenes := make([]models.SceneAnalysis, 0, 10)
		for i := 1; i <= 10; i++ {
			scenes = append(scenes, scene(i, "X", 0, 100000))
		}
		insights := auditor.Audit(scenes)
		// Топ-3 держат ровно 30% — ниже порога
		assert.Empty(t, insightsOfType(insights, models.InsightBudgetConcentration))
	})

	t.Run("Zero total budget produces no budget insight", func(t *testing.T) {
		scenes := []models.SceneAnalysis{
			scene(1, "A", 0, 0),
			scene(2, "B", 0, 0),
		}
		insights := auditor.Audit(scenes)
		assert.Empty(t, insightsOfType(insights, models.InsightBudgetConcentration))
	})

	t.Run("Empty scene list yields no insights", func(t *testing.T) {
		assert.Empty(t, auditor.Audit(nil))
	})

	t.Run("Missing location groups under Unknown", func(t *testing.T) {
		scenes := []models.SceneAnalysis{
			scene(1, "", 10, 0),
			scene(2, "", 10, 0),
			scene(3, "", 10, 0),
		}
		insights := auditor.Audit(scenes)
		clusters := insightsOfType(insights, models.InsightLocationCluster)
		require.Len(t, clusters, 1)
		assert.Equal(t, "3 scenes at Unknown", clusters[0].Problem)
	})
}

func TestMergeWithAI(t *testing.T) {
	auditor := audit.NewAuditor(nil)

	scenes := []models.SceneAnalysis{
		scene(1, "Beach", 80, 100000),
		scene(2, "Beach", 70, 100000),
		scene(3, "Hotel", 10, 50000),
	}

	t.Run("AI insight wins on identical scene sets", func(t *testing.T) {
		rules := []models.Insight{{
			Type:     models.InsightRiskConcentration,
			SceneIDs: []int{1, 2},
			Problem:  "rule version",
		}}
		ai := []models.Insight{{
			Type:     "scheduling_conflict",
			SceneIDs: []int{2, 1},
			Problem:  "ai version",
		}}

		merged := auditor.MergeWithAI(rules, ai, scenes)
		require.Len(t, merged, 1)
		assert.Equal(t, "ai version", merged[0].Problem)
	})

	t.Run("Distinct scene sets are both kept, AI first", func(t *testing.T) {
		rules := []models.Insight{{
			Type:     models.InsightLocationCluster,
			SceneIDs: []int{1, 2},
			Problem:  "rule version",
		}}
		ai := []models.Insight{{
			Type:     "scheduling_conflict",
			SceneIDs: []int{2, 3},
			Problem:  "ai version",
		}}

		merged := auditor.MergeWithAI(rules, ai, scenes)
		require.Len(t, merged, 2)
		assert.Equal(t, "ai version", merged[0].Problem)
		assert.Equal(t, "rule version", merged[1].Problem)
	})

	t.Run("Dangling scene references are dropped", func(t *testing.T) {
		ai := []models.Insight{{
			Type:     "scheduling_conflict",
			SceneIDs: []int{1, 99},
			Problem:  "references a scene outside the batch",
		}}
		merged := auditor.MergeWithAI(nil, ai, scenes)
		assert.Empty(t, merged)
	})

	t.Run("Insights without scene ids are dropped", func(t *testing.T) {
		ai := []models.Insight{{
			Type:    "scheduling_conflict",
			Problem: "no scenes at all",
		}}
		merged := auditor.MergeWithAI(nil, ai, scenes)
		assert.Empty(t, merged)
	})
}
