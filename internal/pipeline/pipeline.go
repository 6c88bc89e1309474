// Package pipeline — оркестрация анализа сценария: извлечение сцен, скоринг
// риска, оценка бюджета, LLM-аугментация высокорисковых сцен и межсценовый
// аудит. Детерминированное ядро всегда считается полностью; LLM только
// добавляет поля и никогда не заменяет базовые результаты.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shootsafe-server/internal/audit"
	"shootsafe-server/internal/budget"
	"shootsafe-server/internal/extraction"
	"shootsafe-server/internal/models"
	"shootsafe-server/internal/refdata"
	"shootsafe-server/internal/scoring"
	"shootsafe-server/internal/script"
	"shootsafe-server/pkg/ai"
)

// AugmentBatchLimit — сколько высокорисковых сцен уходит в один запрос аугментации.
const AugmentBatchLimit = 5

// Фазы прогона для отчёта о прогрессе.
const (
	PhaseParsing      = "parsing"
	PhaseExtraction   = "extraction"
	PhaseScoring      = "scoring"
	PhaseAugmentation = "augmentation"
	PhaseAudit        = "audit"
	PhaseSummary      = "summary"
)

// ModelCaller — внешний LLM-коллаборатор. Любая его ошибка перехватывается
// на месте вызова и превращается в откат, никогда не в ошибку прогона.
type ModelCaller interface {
	CallModel(ctx context.Context, prompt string, temperature float32) (string, error)
}

// ProgressFunc вызывается по мере продвижения прогона. Может быть nil.
type ProgressFunc func(phase string, percent int)

// Pipeline выполняет полный анализ сценария проекта.
type Pipeline struct {
	parser    *script.Parser
	scorer    *scoring.Scorer
	estimator *budget.Estimator
	auditor   *audit.Auditor
	llm       ModelCaller
	logger    *zap.Logger
}

// New создает Pipeline. llm может быть nil — тогда работает только
// детерминированный путь.
func New(tables *refdata.Tables, llm ModelCaller, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("Pipeline")
	return &Pipeline{
		parser:    script.NewParser(tables, logger),
		scorer:    scoring.NewScorer(tables, logger),
		estimator: budget.NewEstimator(tables, logger),
		auditor:   audit.NewAuditor(logger),
		llm:       llm,
		logger:    logger,
	}
}

// Run прогоняет полный пайплайн по сценарию проекта.
func (p *Pipeline) Run(ctx context.Context, project models.Project, runID uuid.UUID, progress ProgressFunc) (*models.AnalysisResult, error) {
	if project.ScriptText == "" {
		return nil, models.ErrScriptEmpty
	}
	report := func(phase string, percent int) {
		if progress != nil {
			progress(phase, percent)
		}
	}

	p.logger.Info("Pipeline starting",
		zap.String("project_id", project.ID.String()),
		zap.String("run_id", runID.String()))

	report(PhaseParsing, 5)
	parsed := p.parser.Parse(project.ScriptText)

	report(PhaseExtraction, 15)
	scenes := p.extractScenes(ctx, project.ScriptText, parsed)

	report(PhaseScoring, 20)
	for i := range scenes {
		scenes[i] = p.analyzeScene(scenes[i], project.BaseCity, project.Scale)
		report(PhaseScoring, 20+50*(i+1)/len(scenes))
	}

	report(PhaseAugmentation, 75)
	p.augmentHighRisk(ctx, scenes)

	report(PhaseAudit, 85)
	insights := p.buildInsights(ctx, scenes)

	report(PhaseSummary, 95)
	summary := buildSummary(scenes, insights)

	p.logger.Info("Pipeline completed",
		zap.String("run_id", runID.String()),
		zap.Int("scenes", len(scenes)),
		zap.Int("insights", len(insights)))

	return &models.AnalysisResult{
		ProjectID: project.ID,
		RunID:     runID,
		Scenes:    scenes,
		Insights:  insights,
		Summary:   summary,
	}, nil
}

// Evaluate — синхронный детерминированный расчёт риска и бюджета для одной
// карты атрибутов (what-if анализ). LLM не участвует.
func (p *Pipeline) Evaluate(attrs models.SceneAttributes, baseCity, scale string) (models.RiskResult, models.BudgetResult) {
	tokens := extraction.Extract(attrs)
	return p.scorer.Score(tokens), p.estimator.Estimate(tokens, attrs, baseCity, scale)
}

// llmScene — сцена в том виде, в каком её возвращает LLM-экстракция.
type llmScene struct {
	SceneNumber int                    `json:"scene_number"`
	Heading     string                 `json:"heading"`
	Location    string                 `json:"location"`
	TimeOfDay   string                 `json:"time_of_day"`
	Extraction  models.SceneAttributes `json:"extraction"`
}

// extractScenes пробует LLM-экстракцию сцен, при любой ошибке или пустом
// ответе откатывается на эвристический разбор.
func (p *Pipeline) extractScenes(ctx context.Context, scriptText string, parsed []script.ParsedScene) []models.SceneAnalysis {
	heuristic := func() []models.SceneAnalysis {
		scenes := make([]models.SceneAnalysis, 0, len(parsed))
		for _, ps := range parsed {
			scenes = append(scenes, models.SceneAnalysis{
				SceneNumber: ps.SceneNumber,
				Heading:     ps.Heading,
				Location:    ps.Location,
				TimeOfDay:   ps.TimeOfDay,
				Extraction:  ps.Attributes,
			})
		}
		return scenes
	}

	if p.llm == nil {
		return heuristic()
	}

	result := Attempt(p.logger, "llm_scene_extraction", func() ([]models.SceneAnalysis, error) {
		response, err := p.llm.CallModel(ctx, extractionPrompt(scriptText), 0.2)
		if err != nil {
			return nil, err
		}
		var raw []llmScene
		if err := ai.ExtractJSONArray(response, &raw); err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("LLM не вернул ни одной сцены")
		}

		scenes := make([]models.SceneAnalysis, 0, len(raw))
		seen := make(map[int]bool)
		for _, s := range raw {
			if s.SceneNumber <= 0 || seen[s.SceneNumber] || len(s.Extraction) == 0 {
				continue
			}
			seen[s.SceneNumber] = true
			scenes = append(scenes, models.SceneAnalysis{
				SceneNumber: s.SceneNumber,
				Heading:     s.Heading,
				Location:    s.Location,
				TimeOfDay:   s.TimeOfDay,
				Extraction:  s.Extraction,
			})
		}
		if len(scenes) == 0 {
			return nil, fmt.Errorf("все сцены из ответа LLM отбракованы валидацией")
		}
		return scenes, nil
	}, heuristic)

	if result.FromFallback() {
		p.logger.Info("Scene extraction used heuristic fallback",
			zap.String("reason", result.FallbackReason))
	}
	return result.Value
}

// analyzeScene — детерминированный расчёт одной сцены. Независим от остальных
// сцен, при необходимости тривиально распараллеливается.
func (p *Pipeline) analyzeScene(scene models.SceneAnalysis, baseCity, scale string) models.SceneAnalysis {
	tokens := extraction.Extract(scene.Extraction)
	scene.Features = extraction.Names(tokens)
	scene.Risk = p.scorer.Score(tokens)
	scene.Budget = p.estimator.Estimate(tokens, scene.Extraction, baseCity, scale)
	return scene
}

// llmAugmentation — ответ LLM по одной высокорисковой сцене.
type llmAugmentation struct {
	SceneNumber     int      `json:"scene_number"`
	RiskDrivers     []string `json:"risk_drivers"`
	Recommendations []string `json:"recommendations"`
	Summary         string   `json:"summary"`
}

// augmentHighRisk отправляет до AugmentBatchLimit самых рискованных сцен в LLM
// одним запросом и дописывает полученные поля. Ошибка вызова не меняет сцен.
func (p *Pipeline) augmentHighRisk(ctx context.Context, scenes []models.SceneAnalysis) {
	if p.llm == nil {
		return
	}

	byNumber := make(map[int]int)
	var batch []models.SceneAnalysis
	for i, scene := range scenes {
		if scene.Risk.FinalScore <= scoring.HighRiskThreshold {
			continue
		}
		byNumber[scene.SceneNumber] = i
		batch = append(batch, scene)
		if len(batch) == AugmentBatchLimit {
			break
		}
	}
	if len(batch) == 0 {
		return
	}

	result := Attempt(p.logger, "llm_risk_augmentation", func() ([]llmAugmentation, error) {
		response, err := p.llm.CallModel(ctx, augmentationPrompt(batch), 0.4)
		if err != nil {
			return nil, err
		}
		var augs []llmAugmentation
		if err := ai.ExtractJSONArray(response, &augs); err != nil {
			return nil, err
		}
		return augs, nil
	}, func() []llmAugmentation { return nil })

	for _, aug := range result.Value {
		idx, ok := byNumber[aug.SceneNumber]
		if !ok {
			continue
		}
		scenes[idx].AI = &models.AIAugmentation{
			RiskDrivers:     aug.RiskDrivers,
			Recommendations: aug.Recommendations,
			Summary:         aug.Summary,
		}
	}
}

// buildInsights — правила аудита плюс (опционально) LLM-паттерны,
// объединённые с дедупликацией по наборам scene_ids.
func (p *Pipeline) buildInsights(ctx context.Context, scenes []models.SceneAnalysis) []models.Insight {
	ruleInsights := p.auditor.Audit(scenes)

	highRisk := 0
	for _, scene := range scenes {
		if scene.Risk.FinalScore > scoring.HighRiskThreshold {
			highRisk++
		}
	}
	if p.llm == nil || highRisk < 2 {
		return ruleInsights
	}

	result := Attempt(p.logger, "llm_pattern_detection", func() ([]models.Insight, error) {
		response, err := p.llm.CallModel(ctx, patternPrompt(scenes), 0.4)
		if err != nil {
			return nil, err
		}
		var patterns []models.Insight
		if err := ai.ExtractJSONArray(response, &patterns); err != nil {
			return nil, err
		}
		return patterns, nil
	}, func() []models.Insight { return nil })

	if len(result.Value) == 0 {
		return ruleInsights
	}
	return p.auditor.MergeWithAI(ruleInsights, result.Value, scenes)
}

// buildSummary собирает продюсерскую сводку по прогону.
func buildSummary(scenes []models.SceneAnalysis, insights []models.Insight) models.RunSummary {
	var totals models.BudgetTotals
	highest := 0
	highRisk := 0
	locations := make(map[string]bool)

	for _, scene := range scenes {
		totals.Min += scene.Budget.CostMin
		totals.Likely += scene.Budget.CostLikely
		totals.Max += scene.Budget.CostMax
		if scene.Risk.FinalScore > highest {
			highest = scene.Risk.FinalScore
		}
		if scene.Risk.FinalScore > scoring.HighRiskThreshold {
			highRisk++
		}
		locations[scene.Location] = true
	}

	return models.RunSummary{
		TotalScenes:      len(scenes),
		UniqueLocations:  len(locations),
		TotalBudget:      totals,
		HighestRiskScore: highest,
		HighRiskScenes:   highRisk,
		ProducerSummary: fmt.Sprintf(
			"Production requires %d scenes across %d locations with estimated budget of $%d. %d cross-scene risks identified requiring attention.",
			len(scenes), len(locations), totals.Likely, len(insights)),
		GeneratedAt: time.Now().UTC(),
	}
}

func extractionPrompt(scriptText string) string {
	return fmt.Sprintf(`Extract scenes from this film script.
Return a JSON array. For each scene include:
- scene_number: <int, keep the script's own numbering>
- heading: "<scene heading line>"
- location: "<location>"
- time_of_day: "<DAY|NIGHT>"
- extraction: object mapping each category to {"value": <string>, "confidence": <0.0-1.0>}
Categories: stunt_level (none|light|medium|heavy), time_of_day (day|night),
water_complexity (none|simple|medium|complex), crowd_size (none|small|medium|large),
vehicle_types (none|simple|medium|heavy), animals (none|small|large),
weather_dependent (yes|no), permit_tier (1-4).

Script:
%s`, scriptText)
}

func augmentationPrompt(batch []models.SceneAnalysis) string {
	payload, _ := json.Marshal(batch)
	return fmt.Sprintf(`Analyze these %d HIGH-RISK film scenes for production risks:
%s

Return a JSON array. For each scene include:
- scene_number: <int>
- risk_drivers: ["<specific hazard>", ...]
- recommendations: ["<mitigation action>", ...]
- summary: "<one-sentence safety summary>"
Focus on Indian production context (permits, logistics, safety).`, len(batch), payload)
}

func patternPrompt(scenes []models.SceneAnalysis) string {
	payload, _ := json.Marshal(scenes)
	return fmt.Sprintf(`Analyze cross-scene patterns in this film production of %d scenes:
%s

Identify patterns: location clustering, risk concentration, resource bottlenecks,
budget concentration, schedule risks.
Return a JSON array. For each pattern include:
- type: <string>
- scene_ids: [<int>, ...]
- problem: "<description>"
- impact: "<consequence>"
- recommendation: "<action>"
- confidence: <0.0-1.0>`, len(scenes), payload)
}
