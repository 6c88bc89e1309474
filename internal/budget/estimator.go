// Package budget — детерминированная оценка бюджета сцены с диапазоном
// неопределённости. Неуверенность извлечения (confidence полей) напрямую
// расширяет диапазон min/max вокруг вероятной стоимости.
package budget

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"shootsafe-server/internal/extraction"
	"shootsafe-server/internal/models"
	"shootsafe-server/internal/refdata"
)

const (
	// ConfidenceThresholdLow — поля с confidence ниже порога считаются волатильными.
	ConfidenceThresholdLow = 0.8
	// VolatilityPerField — вклад волатильности одного слабого поля: (1-conf)*0.15.
	VolatilityPerField = 0.15
	// UncertaintyCap — потолок суммарной неопределённости диапазона.
	UncertaintyCap = 0.5
	// DefaultConfidence — средняя уверенность при полном отсутствии полей.
	DefaultConfidence = 0.5
)

// deptMapping — "ключевое слово в имени токена -> департамент". Совпадение по
// подстроке, выигрывает первое в порядке объявления.
type deptMapping struct {
	keyword    string
	department string
}

var featureDepartments = []deptMapping{
	{keyword: "stunt", department: "Stunt Coordinator"},
	{keyword: "water", department: "Water Safety Diver"},
	{keyword: "crowd", department: "Art Department"},
	{keyword: "vehicle", department: "Transportation"},
	{keyword: "night_shoot", department: "Lighting Head"},
}

// Estimator считает бюджет сцены по статическим таблицам. Состояния нет.
type Estimator struct {
	tables *refdata.Tables
	logger *zap.Logger
}

// NewEstimator создает Estimator.
func NewEstimator(tables *refdata.Tables, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{tables: tables, logger: logger.Named("BudgetEstimator")}
}

// Estimate вычисляет BudgetResult сцены.
// tokens — признаки сцены, attrs — исходные поля (для неопределённости),
// baseCity и scale приходят из проекта. Ноль строк сметы — легитимный
// вырожденный случай (cost_likely = 0), не ошибка.
func (e *Estimator) Estimate(tokens []models.Token, attrs models.SceneAttributes, baseCity, scale string) models.BudgetResult {
	cityMultiplier := e.cityMultiplier(baseCity)
	baseCosts := e.tables.BaseCosts(scale)

	lineItems, totalLikely := e.lineItems(tokens, baseCosts, cityMultiplier)

	uncertainty := calculateUncertainty(attrs)
	costMin := int(math.Round(float64(totalLikely) * (1 - uncertainty)))
	costMax := int(math.Round(float64(totalLikely) * (1 + uncertainty)))

	return models.BudgetResult{
		CostMin:           costMin,
		CostLikely:        totalLikely,
		CostMax:           costMax,
		LineItems:         lineItems,
		VolatilityDrivers: volatilityDrivers(attrs, uncertainty),
		ConfidenceAvg:     math.Round(averageConfidence(attrs)*100) / 100,
		Assumptions: []string{
			fmt.Sprintf("Scale: %s", scale),
			fmt.Sprintf("Base city: %s", baseCity),
			fmt.Sprintf("City cost multiplier: %.2fx", cityMultiplier),
		},
	}
}

// cityMultiplier — среднее пяти частных множителей города.
// Неизвестный город не ошибка: множитель 1.0 с warning в лог.
func (e *Estimator) cityMultiplier(baseCity string) float64 {
	row, ok := e.tables.City(baseCity)
	if !ok {
		e.logger.Warn("City not found in multipliers table, using 1.0",
			zap.String("city", baseCity))
		return 1.0
	}
	return row.Multiplier()
}

// lineItems строит строки сметы: по одной на токен с назначенным и
// оценённым департаментом. Токены без департамента или без базовой ставки
// для данного масштаба молча пропускаются.
func (e *Estimator) lineItems(tokens []models.Token, baseCosts map[string]int, cityMultiplier float64) ([]models.BudgetLineItem, int) {
	var items []models.BudgetLineItem
	total := 0

	for _, token := range tokens {
		multiplier := e.tables.CostMultiplier(token.Name)

		dept := resolveDepartment(token.Name)
		if dept == "" {
			continue
		}
		baseCost, ok := baseCosts[dept]
		if !ok {
			continue
		}

		finalCost := int(math.Round(float64(baseCost) * multiplier * cityMultiplier))
		items = append(items, models.BudgetLineItem{
			Department:     dept,
			Feature:        token.Name,
			BaseCost:       baseCost,
			Multiplier:     multiplier,
			CityMultiplier: cityMultiplier,
			FinalCost:      finalCost,
			Confidence:     token.Confidence,
		})
		total += finalCost
	}
	return items, total
}

func resolveDepartment(feature string) string {
	for _, m := range featureDepartments {
		if containsKeyword(feature, m.keyword) {
			return m.department
		}
	}
	return ""
}

func containsKeyword(feature, keyword string) bool {
	if len(keyword) > len(feature) {
		return false
	}
	for i := 0; i+len(keyword) <= len(feature); i++ {
		if feature[i:i+len(keyword)] == keyword {
			return true
		}
	}
	return false
}

// calculateUncertainty — каждое поле с confidence ниже порога добавляет
// (1-conf)*VolatilityPerField; сумма ограничена UncertaintyCap.
func calculateUncertainty(attrs models.SceneAttributes) float64 {
	uncertainty := 0.0
	for _, field := range orderedFields(attrs) {
		conf := attrs[field].Confidence
		if conf < ConfidenceThresholdLow {
			uncertainty += (1.0 - conf) * VolatilityPerField
		}
	}
	if uncertainty > UncertaintyCap {
		return UncertaintyCap
	}
	return uncertainty
}

// volatilityDrivers — по строке на каждое слабое поле.
func volatilityDrivers(attrs models.SceneAttributes, uncertainty float64) []string {
	if uncertainty <= 0 {
		return nil
	}
	var drivers []string
	for _, field := range orderedFields(attrs) {
		conf := attrs[field].Confidence
		if conf < ConfidenceThresholdLow {
			drivers = append(drivers, fmt.Sprintf("%s unclear (confidence %.0f%%)", field, conf*100))
		}
	}
	return drivers
}

// averageConfidence — среднее по всем присутствующим полям; без полей — 0.5.
func averageConfidence(attrs models.SceneAttributes) float64 {
	if len(attrs) == 0 {
		return DefaultConfidence
	}
	sum := 0.0
	for _, fv := range attrs {
		sum += fv.Confidence
	}
	return sum / float64(len(attrs))
}

// orderedFields — известные категории в порядке объявления, затем остальные
// поля по алфавиту. Карты в Go итерируются в случайном порядке, а выход
// должен быть стабильным.
func orderedFields(attrs models.SceneAttributes) []string {
	var fields []string
	seen := make(map[string]bool)
	for _, category := range extraction.Categories() {
		if _, ok := attrs[category]; ok {
			fields = append(fields, category)
			seen[category] = true
		}
	}
	var rest []string
	for field := range attrs {
		if !seen[field] {
			rest = append(rest, field)
		}
	}
	sort.Strings(rest)
	return append(fields, rest...)
}
