package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Масштаб производства (scale tier) определяет базовые ставки департаментов в rate card.
const (
	ScaleIndie     = "indie"
	ScaleMidBudget = "mid_budget"
	ScaleBigBudget = "big_budget"
)

// Статусы прогона анализа.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// FeatureValue — одно извлечённое поле сцены с уверенностью извлечения.
// Value хранится в канонической строковой форме (bool -> "yes"/"no", числа -> "3").
// Confidence не пересчитывается после извлечения.
type FeatureValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// UnmarshalJSON принимает value любого скалярного типа (string/bool/number)
// и приводит его к канонической строке. Отсутствующая confidence трактуется как 0.5,
// как в исходной системе извлечения.
func (v *FeatureValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value      json.RawMessage `json:"value"`
		Confidence *float64        `json:"confidence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Value = coerceScalar(raw.Value)
	if raw.Confidence != nil {
		v.Confidence = *raw.Confidence
	} else {
		v.Confidence = 0.5
	}
	return nil
}

// coerceScalar приводит произвольный скаляр JSON к строке.
func coerceScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return "yes"
		}
		return "no"
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f == math.Trunc(f) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	// Массивы и объекты полями сцены не являются, возвращаем как есть без кавычек.
	return strings.Trim(string(raw), `"`)
}

// SceneAttributes — карта "категория -> извлечённое значение" для одной сцены.
type SceneAttributes map[string]FeatureValue

// Token — каноническое имя признака сцены плюс уверенность поля-источника.
// Токены одного поля разделяют его confidence.
type Token struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// RiskResult — результат детерминированного скоринга одной сцены.
// Каждый столп (pillar) ограничен диапазоном 0..30, итог — 0..150.
type RiskResult struct {
	BaseScore           int      `json:"base_score"`
	SafetyScore         int      `json:"safety_score"`
	LogisticsScore      int      `json:"logistics_score"`
	ScheduleScore       int      `json:"schedule_score"`
	BudgetScore         int      `json:"budget_score"`
	ComplianceScore     int      `json:"compliance_score"`
	AmplificationFactor float64  `json:"amplification_factor"`
	AmplificationReason string   `json:"amplification_reason"`
	AmplifiedDelta      float64  `json:"amplified_delta"`
	FinalScore          int      `json:"final_score"`
	RiskDrivers         []string `json:"risk_drivers"`
}

// BudgetLineItem — одна строка сметы сцены.
type BudgetLineItem struct {
	Department     string  `json:"department"`
	Feature        string  `json:"feature"`
	BaseCost       int     `json:"base_cost"`
	Multiplier     float64 `json:"multiplier"`
	CityMultiplier float64 `json:"city_multiplier"`
	FinalCost      int     `json:"final_cost"`
	Confidence     float64 `json:"confidence"`
}

// BudgetResult — оценка бюджета сцены с диапазоном неопределённости.
// Инвариант: 0 <= CostMin <= CostLikely <= CostMax.
type BudgetResult struct {
	CostMin           int              `json:"cost_min"`
	CostLikely        int              `json:"cost_likely"`
	CostMax           int              `json:"cost_max"`
	LineItems         []BudgetLineItem `json:"line_items"`
	VolatilityDrivers []string         `json:"volatility_drivers"`
	ConfidenceAvg     float64          `json:"confidence_avg"`
	Assumptions       []string         `json:"assumptions"`
}

// AIAugmentation — дополнительные поля от LLM для сцен с высоким риском.
// Только дополняет результат: базовые скоры никогда не заменяются.
type AIAugmentation struct {
	RiskDrivers     []string `json:"ai_risk_drivers,omitempty"`
	Recommendations []string `json:"ai_recommendations,omitempty"`
	Summary         string   `json:"ai_summary,omitempty"`
}

// SceneAnalysis — полный результат анализа одной сцены.
type SceneAnalysis struct {
	SceneNumber int             `json:"scene_number"`
	Heading     string          `json:"heading"`
	Location    string          `json:"location"`
	TimeOfDay   string          `json:"time_of_day"`
	Extraction  SceneAttributes `json:"extraction"`
	Features    []string        `json:"features"`
	Risk        RiskResult      `json:"risk"`
	Budget      BudgetResult    `json:"budget"`
	AI          *AIAugmentation `json:"ai_analysis,omitempty"`
}

// Insight — межсценовая находка (не авторитетная аннотация поверх набора сцен).
// SceneIDs всегда подмножество номеров сцен исходного батча.
type Insight struct {
	Type           string  `json:"type"`
	SceneIDs       []int   `json:"scene_ids"`
	Problem        string  `json:"problem"`
	Impact         string  `json:"impact"`
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
}

// Типы межсценовых инсайтов.
const (
	InsightRiskConcentration   = "risk_concentration"
	InsightLocationCluster     = "location_cluster"
	InsightBudgetConcentration = "budget_concentration"
)

// BudgetTotals — агрегированный бюджет по всем сценам.
type BudgetTotals struct {
	Min    int `json:"min"`
	Likely int `json:"likely"`
	Max    int `json:"max"`
}

// RunSummary — сводка для продюсера по всему прогону.
type RunSummary struct {
	TotalScenes      int          `json:"total_scenes"`
	UniqueLocations  int          `json:"unique_locations"`
	TotalBudget      BudgetTotals `json:"total_budget"`
	HighestRiskScore int          `json:"highest_risk_score"`
	HighRiskScenes   int          `json:"high_risk_scenes"`
	ProducerSummary  string       `json:"producer_summary"`
	GeneratedAt      time.Time    `json:"generated_at"`
}

// AnalysisResult — итоговый payload прогона, сохраняется как JSON-блоб.
type AnalysisResult struct {
	ProjectID uuid.UUID       `json:"project_id"`
	RunID     uuid.UUID       `json:"run_id"`
	Scenes    []SceneAnalysis `json:"scenes"`
	Insights  []Insight       `json:"insights"`
	Summary   RunSummary      `json:"summary"`
}

// Project — проект (фильм/сериал), к которому привязаны сценарий и прогоны анализа.
type Project struct {
	ID         uuid.UUID `json:"id"`
	UserID     uint64    `json:"user_id"`
	Name       string    `json:"name"`
	BaseCity   string    `json:"base_city"`
	Scale      string    `json:"scale"`
	ScriptText string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AnalysisRun — прогон анализа. Result заполняется только в статусе completed.
type AnalysisRun struct {
	ID           uuid.UUID       `json:"id"`
	ProjectID    uuid.UUID       `json:"project_id"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RunProgress — текущее состояние прогона для polling'а и WebSocket-уведомлений.
type RunProgress struct {
	RunID     uuid.UUID `json:"run_id"`
	Status    string    `json:"status"`
	Phase     string    `json:"phase"`
	Percent   int       `json:"percent"`
	UpdatedAt time.Time `json:"updated_at"`
}
