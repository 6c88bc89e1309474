// Package scoring — детерминированный скоринг риска сцены.
// Базовые очки берутся из канонической таблицы сложности, каждый столп
// ограничивается 30 очками после каждого добавления, затем к сумме применяется
// одиночный максимальный множитель усиления за опасные комбинации признаков.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"shootsafe-server/internal/models"
	"shootsafe-server/internal/refdata"
)

const (
	// PillarCap — максимум очков одного столпа риска.
	PillarCap = 30
	// RiskScaleMax — максимум итогового скора сцены.
	RiskScaleMax = 150
	// HighPillarThreshold — столп с таким скором попадает в драйверы риска.
	HighPillarThreshold = 15
	// HighRiskThreshold — сцены выше этого итога считаются высокорисковыми
	// (порог для LLM-аугментации и межсценового аудита).
	HighRiskThreshold = 50
)

// AmplifierRule — комбинация признаков и её множитель усиления.
// Элемент правила совпадает с токеном сцены, если равен ему или является его
// категорийным префиксом ("water" покрывает "water_complex"). Правило срабатывает,
// когда покрыты ВСЕ его элементы; лишние токены сцены правило не отменяют.
type AmplifierRule struct {
	Tokens     []string
	Multiplier float64
}

// Фиксированный набор правил усиления. Применяется только один, максимальный
// множитель — правила не перемножаются.
var amplifierRules = []AmplifierRule{
	{Tokens: []string{"night_shoot", "water", "stunt"}, Multiplier: 1.4},
	{Tokens: []string{"night_shoot", "crowd", "vehicle"}, Multiplier: 1.3},
	{Tokens: []string{"weather_dependent", "tight_schedule"}, Multiplier: 1.25},
	{Tokens: []string{"international_location", "permits_pending"}, Multiplier: 1.2},
	{Tokens: []string{"water", "animal", "crowd"}, Multiplier: 1.3},
	{Tokens: []string{"stunt", "vehicle", "crowd"}, Multiplier: 1.35},
}

// Токены, которые не интересны как драйверы риска.
var uninterestingDrivers = map[string]bool{
	"day_shoot":         true,
	"location_interior": true,
}

var pillarOrder = []string{"safety", "logistics", "schedule", "budget", "compliance"}

// Scorer считает риск сцены по статическим таблицам. Потокобезопасен: состояния нет.
type Scorer struct {
	tables *refdata.Tables
	logger *zap.Logger
}

// NewScorer создает Scorer. Таблицы передаются по ссылке и не модифицируются.
func NewScorer(tables *refdata.Tables, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{tables: tables, logger: logger.Named("RiskScorer")}
}

// Score вычисляет RiskResult для списка токенов сцены.
// Пустой список токенов — легитимный вырожденный случай: все нули, фактор 1.0.
func (s *Scorer) Score(tokens []models.Token) models.RiskResult {
	base := s.baseScores(tokens)
	baseTotal := base["safety"] + base["logistics"] + base["schedule"] + base["budget"] + base["compliance"]

	factor, reason := s.amplification(tokens)

	// Усиление умножает сумму; нулевая база остаётся нулём при любом факторе.
	finalTotal := float64(baseTotal) * factor
	final := int(math.Round(finalTotal))
	if final > RiskScaleMax {
		final = RiskScaleMax
	}

	return models.RiskResult{
		BaseScore:           baseTotal,
		SafetyScore:         base["safety"],
		LogisticsScore:      base["logistics"],
		ScheduleScore:       base["schedule"],
		BudgetScore:         base["budget"],
		ComplianceScore:     base["compliance"],
		AmplificationFactor: factor,
		AmplificationReason: reason,
		AmplifiedDelta:      float64(baseTotal) * (factor - 1.0),
		FinalScore:          final,
		RiskDrivers:         s.identifyDrivers(tokens, base),
	}
}

// baseScores накапливает очки по столпам, ограничивая каждый столп
// после КАЖДОГО добавления. Это важно: порядок токенов влияет на то,
// какие поздние токены ещё двигают столп.
func (s *Scorer) baseScores(tokens []models.Token) map[string]int {
	scores := map[string]int{
		"safety": 0, "logistics": 0, "schedule": 0, "budget": 0, "compliance": 0,
	}
	for _, token := range tokens {
		row, ok := s.tables.Complexity(token.Name)
		if !ok {
			// Неизвестный токен очков не даёт — не ошибка
			s.logger.Debug("Token has no complexity row", zap.String("token", token.Name))
			continue
		}
		scores["safety"] = capAdd(scores["safety"], row.Points.Safety)
		scores["logistics"] = capAdd(scores["logistics"], row.Points.Logistics)
		scores["schedule"] = capAdd(scores["schedule"], row.Points.Schedule)
		scores["budget"] = capAdd(scores["budget"], row.Points.Budget)
		scores["compliance"] = capAdd(scores["compliance"], row.Points.Compliance)
	}
	return scores
}

func capAdd(current, pts int) int {
	if current+pts > PillarCap {
		return PillarCap
	}
	return current + pts
}

// amplification возвращает максимальный множитель среди сработавших правил
// и текстовую причину. Без совпадений — (1.0, "").
func (s *Scorer) amplification(tokens []models.Token) (float64, string) {
	maxFactor := 1.0
	reason := ""

	for _, rule := range amplifierRules {
		if !ruleMatches(rule, tokens) {
			continue
		}
		if rule.Multiplier > maxFactor {
			maxFactor = rule.Multiplier
			reason = fmt.Sprintf("Risk interaction: %s", strings.Join(rule.Tokens, " + "))
			s.logger.Info("Risk amplification detected",
				zap.String("reason", reason),
				zap.Float64("factor", rule.Multiplier))
		}
	}
	return maxFactor, reason
}

// ruleMatches проверяет, что каждый элемент правила покрыт хотя бы одним токеном
// сцены (subset-тест, лишние токены не мешают).
func ruleMatches(rule AmplifierRule, tokens []models.Token) bool {
	for _, elem := range rule.Tokens {
		matched := false
		for _, token := range tokens {
			if tokenMatchesElement(token.Name, elem) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// tokenMatchesElement — точное совпадение или категорийный префикс с "_".
func tokenMatchesElement(name, elem string) bool {
	return name == elem || strings.HasPrefix(name, elem+"_")
}

// identifyDrivers собирает драйверы риска: токены кроме малоинтересных дефолтов
// плюс столпы со скором >= HighPillarThreshold. Без дубликатов, порядок стабильный.
func (s *Scorer) identifyDrivers(tokens []models.Token, base map[string]int) []string {
	seen := make(map[string]bool)
	var drivers []string

	for _, token := range tokens {
		if uninterestingDrivers[token.Name] || seen[token.Name] {
			continue
		}
		seen[token.Name] = true
		drivers = append(drivers, token.Name)
	}

	for _, pillar := range pillarOrder {
		if base[pillar] >= HighPillarThreshold {
			driver := fmt.Sprintf("High %s risk (%d pts)", pillar, base[pillar])
			if !seen[driver] {
				seen[driver] = true
				drivers = append(drivers, driver)
			}
		}
	}
	return drivers
}
