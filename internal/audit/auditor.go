// Package audit — межсценовый аудит: детерминированные правила поверх уже
// посчитанных сцен. LLM-паттерны (если есть) объединяются с правилами, а не
// заменяют их; ссылки на несуществующие сцены отфильтровываются перед выдачей.
package audit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"shootsafe-server/internal/models"
	"shootsafe-server/internal/scoring"
)

const (
	// LocationClusterMin — минимум сцен на одной локации для кластера.
	LocationClusterMin = 3
	// TopExpensiveCount — сколько самых дорогих сцен смотрим на концентрацию бюджета.
	TopExpensiveCount = 3
	// BudgetConcentrationShare — доля бюджета, после которой топ сцен считается концентрацией.
	BudgetConcentrationShare = 0.35
)

// Auditor прогоняет набор правил по всем сценам прогона. Состояния нет.
type Auditor struct {
	logger *zap.Logger
}

// NewAuditor создает Auditor.
func NewAuditor(logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{logger: logger.Named("CrossSceneAuditor")}
}

// Audit возвращает инсайты по правилам. Правила независимы, инсайты могут
// пересекаться по сценам. Ссылочная валидность гарантируется на выходе.
func (a *Auditor) Audit(scenes []models.SceneAnalysis) []models.Insight {
	var insights []models.Insight

	if in, ok := a.riskConcentration(scenes); ok {
		insights = append(insights, in)
	}
	insights = append(insights, a.locationClusters(scenes)...)
	if in, ok := a.budgetConcentration(scenes); ok {
		insights = append(insights, in)
	}

	return filterValidSceneRefs(insights, scenes, a.logger)
}

// MergeWithAI объединяет инсайты правил с паттернами LLM: дубликаты по
// идентичному набору scene_ids отбрасываются (приоритет у LLM-версии),
// висящие ссылки на сцены вне батча выфильтровываются.
func (a *Auditor) MergeWithAI(ruleInsights, aiInsights []models.Insight, scenes []models.SceneAnalysis) []models.Insight {
	merged := make([]models.Insight, 0, len(aiInsights)+len(ruleInsights))
	seen := make(map[string]bool)

	for _, in := range aiInsights {
		key := sceneIDsKey(in.SceneIDs)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, in)
	}
	for _, in := range ruleInsights {
		key := sceneIDsKey(in.SceneIDs)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, in)
	}

	return filterValidSceneRefs(merged, scenes, a.logger)
}

// riskConcentration — две и более высокорисковых сцены требуют общего планирования.
func (a *Auditor) riskConcentration(scenes []models.SceneAnalysis) (models.Insight, bool) {
	var ids []int
	for _, scene := range scenes {
		if scene.Risk.FinalScore > scoring.HighRiskThreshold {
			ids = append(ids, scene.SceneNumber)
		}
	}
	if len(ids) < 2 {
		return models.Insight{}, false
	}
	return models.Insight{
		Type:           models.InsightRiskConcentration,
		SceneIDs:       ids,
		Problem:        fmt.Sprintf("%d high-risk scenes require coordinated planning", len(ids)),
		Impact:         "Safety incidents in one scene can cascade into schedule slips across the block",
		Recommendation: "Consolidate high-risk scenes into same production block",
		Confidence:     0.80,
	}, true
}

// locationClusters группирует сцены по сырой строке локации (точное совпадение).
func (a *Auditor) locationClusters(scenes []models.SceneAnalysis) []models.Insight {
	groups := make(map[string][]int)
	var order []string
	for _, scene := range scenes {
		loc := scene.Location
		if loc == "" {
			loc = "Unknown"
		}
		if _, ok := groups[loc]; !ok {
			order = append(order, loc)
		}
		groups[loc] = append(groups[loc], scene.SceneNumber)
	}

	var insights []models.Insight
	for _, loc := range order {
		ids := groups[loc]
		if len(ids) < LocationClusterMin {
			continue
		}
		insights = append(insights, models.Insight{
			Type:           models.InsightLocationCluster,
			SceneIDs:       ids,
			Problem:        fmt.Sprintf("%d scenes at %s", len(ids), loc),
			Impact:         "Repeated company moves to the same location multiply transport and setup costs",
			Recommendation: "Shoot all scenes at this location consecutively",
			Confidence:     0.75,
		})
	}
	return insights
}

// budgetConcentration — топ дорогих сцен против общего бюджета прогона.
func (a *Auditor) budgetConcentration(scenes []models.SceneAnalysis) (models.Insight, bool) {
	if len(scenes) == 0 {
		return models.Insight{}, false
	}

	type costed struct {
		id   int
		cost int
	}
	ranked := make([]costed, 0, len(scenes))
	total := 0
	for _, scene := range scenes {
		ranked = append(ranked, costed{id: scene.SceneNumber, cost: scene.Budget.CostLikely})
		total += scene.Budget.CostLikely
	}
	if total == 0 {
		return models.Insight{}, false
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].cost > ranked[j].cost })

	top := ranked
	if len(top) > TopExpensiveCount {
		top = top[:TopExpensiveCount]
	}
	topCost := 0
	ids := make([]int, 0, len(top))
	for _, c := range top {
		topCost += c.cost
		ids = append(ids, c.id)
	}

	share := float64(topCost) / float64(total)
	if share <= BudgetConcentrationShare {
		return models.Insight{}, false
	}
	return models.Insight{
		Type:           models.InsightBudgetConcentration,
		SceneIDs:       ids,
		Problem:        fmt.Sprintf("Top %d scenes hold %.0f%% of the likely budget", len(ids), share*100),
		Impact:         "Cost overruns in these scenes dominate the total budget variance",
		Recommendation: "Lock vendor quotes and contingency for the most expensive scenes first",
		Confidence:     0.75,
	}, true
}

// filterValidSceneRefs отбрасывает инсайты, ссылающиеся на сцены вне батча.
// Инвариант выдачи: каждый scene_id существует во входном наборе.
func filterValidSceneRefs(insights []models.Insight, scenes []models.SceneAnalysis, logger *zap.Logger) []models.Insight {
	known := make(map[int]bool, len(scenes))
	for _, scene := range scenes {
		known[scene.SceneNumber] = true
	}

	valid := insights[:0:0]
	for _, in := range insights {
		ok := len(in.SceneIDs) > 0
		for _, id := range in.SceneIDs {
			if !known[id] {
				ok = false
				break
			}
		}
		if !ok {
			logger.Warn("Dropping insight with dangling scene reference",
				zap.String("type", in.Type),
				zap.Ints("scene_ids", in.SceneIDs))
			continue
		}
		valid = append(valid, in)
	}
	return valid
}

// sceneIDsKey — канонический ключ набора scene_ids (порядок не важен).
func sceneIDsKey(ids []int) string {
	sorted := make([]int, len(ids))
	copy(sorted, ids)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
