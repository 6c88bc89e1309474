// Package script — детерминированный разбор текста сценария на сцены.
// Заголовки сцен ищутся регулярными выражениями (нумерованный формат,
// стандартный "INT. LOCATION - TIME", минимальный "INT. LOCATION"),
// атрибуты сцены заполняются эвристиками по ключевым словам. Это
// запасной путь извлечения: LLM-экстракция, если доступна, даёт те же
// поля с собственными confidence.
package script

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"shootsafe-server/internal/models"
	"shootsafe-server/internal/refdata"
)

// Паттерны заголовков в порядке приоритета.
var (
	headingNumbered = regexp.MustCompile(`(?i)^(\d+)(?:\.\d+)*\s*\.?\s+(INT|EXT|INT/EXT)\s*\.?\s+([A-Z][^-\n]+?)(?:\s*[-–]\s*([^\n]+))?$`)
	headingStandard = regexp.MustCompile(`(?i)^(INT|EXT|INT/EXT)\s*\.?\s+([A-Z][^-\n]+?)\s*[-–]\s*([^\n]+)$`)
	headingMinimal  = regexp.MustCompile(`(?i)^(INT|EXT|INT/EXT)\s*\.?\s+([A-Z][^\n]+?)$`)
	timeOfDayRe     = regexp.MustCompile(`(?i)\b(DAY|NIGHT|DUSK|DAWN|EVENING|MORNING)\b`)
)

// Confidence эвристик по полям. Заголовок читается надёжно, догадки по
// ключевым словам в теле сцены — заметно хуже.
const (
	confLocation  = 0.9
	confTime      = 0.95
	confStunt     = 0.7
	confWater     = 0.9
	confVehicles  = 0.8
	confPermit    = 0.7
	confWeather   = 0.85
	confCrowd     = 0.7
	confAnimals   = 0.9
	minHeadingLen = 5
	maxMinimalLen = 100
)

// ParsedScene — сцена после разбора: заголовок плюс атрибуты для экстрактора.
type ParsedScene struct {
	SceneNumber int
	Heading     string
	Location    string
	TimeOfDay   string
	Body        string
	Attributes  models.SceneAttributes
}

// Parser разбирает сценарий по статической библиотеке локаций.
type Parser struct {
	tables *refdata.Tables
	logger *zap.Logger
}

// NewParser создает Parser.
func NewParser(tables *refdata.Tables, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{tables: tables, logger: logger.Named("ScriptParser")}
}

// Parse разбивает текст сценария на сцены. Сценарий без единого заголовка
// трактуется как одна сцена целиком — пустой результат не возвращается
// никогда при непустом тексте.
func (p *Parser) Parse(scriptText string) []ParsedScene {
	text := strings.TrimSpace(scriptText)
	if text == "" {
		return nil
	}

	scenes := p.splitScenes(text)
	if len(scenes) == 0 {
		p.logger.Warn("No scene headings found, treating script as a single scene")
		scenes = []ParsedScene{{
			SceneNumber: 1,
			Heading:     "INT. GENERIC LOCATION - DAY",
			Location:    "GENERIC LOCATION",
			TimeOfDay:   "DAY",
			Body:        text,
		}}
	}

	for i := range scenes {
		scenes[i].Attributes = p.detectAttributes(scenes[i])
	}

	p.logger.Info("Script parsed",
		zap.Int("scenes", len(scenes)),
		zap.Int("script_bytes", len(scriptText)))
	return scenes
}

// splitScenes проходит по строкам, открывая новую сцену на каждом заголовке.
// Номера из сценария сохраняются (дубликаты пропускаются), безномерные
// заголовки нумеруются последовательно.
func (p *Parser) splitScenes(text string) []ParsedScene {
	var scenes []ParsedScene
	var body strings.Builder
	seen := make(map[int]bool)
	sequential := 0

	flushBody := func() {
		if len(scenes) > 0 {
			scenes[len(scenes)-1].Body = strings.TrimSpace(body.String())
		}
		body.Reset()
	}

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if len(line) < minHeadingLen {
			body.WriteString(rawLine + "\n")
			continue
		}

		scene, num, ok := p.matchHeading(line, sequential)
		if !ok {
			body.WriteString(rawLine + "\n")
			continue
		}
		if seen[scene.SceneNumber] {
			p.logger.Debug("Skipping duplicate scene number", zap.Int("scene_number", scene.SceneNumber))
			continue
		}
		seen[scene.SceneNumber] = true
		sequential = num

		flushBody()
		scenes = append(scenes, scene)
	}
	flushBody()
	return scenes
}

// matchHeading пробует паттерны по убыванию приоритета.
// Возвращает сцену без тела и обновлённый последовательный счётчик.
func (p *Parser) matchHeading(line string, sequential int) (ParsedScene, int, bool) {
	if m := headingNumbered.FindStringSubmatch(line); m != nil {
		num, err := strconv.Atoi(m[1])
		if err != nil || num <= 0 {
			num = sequential + 1
		}
		timeOfDay := "DAY"
		if m[4] != "" {
			timeOfDay = normalizeTimeOfDay(m[4])
		}
		return ParsedScene{
			SceneNumber: num,
			Heading:     line,
			Location:    strings.TrimSpace(m[3]),
			TimeOfDay:   timeOfDay,
		}, maxInt(sequential, num), true
	}

	if m := headingStandard.FindStringSubmatch(line); m != nil {
		return ParsedScene{
			SceneNumber: sequential + 1,
			Heading:     line,
			Location:    strings.TrimSpace(m[2]),
			TimeOfDay:   normalizeTimeOfDay(m[3]),
		}, sequential + 1, true
	}

	if len(line) < maxMinimalLen {
		if m := headingMinimal.FindStringSubmatch(line); m != nil {
			return ParsedScene{
				SceneNumber: sequential + 1,
				Heading:     line,
				Location:    strings.TrimSpace(m[2]),
				TimeOfDay:   "DAY",
			}, sequential + 1, true
		}
	}
	return ParsedScene{}, sequential, false
}

// detectAttributes строит карту атрибутов сцены по ключевым словам заголовка
// и тела плюс библиотеке локаций (permit tier, погодозависимость).
func (p *Parser) detectAttributes(scene ParsedScene) models.SceneAttributes {
	text := strings.ToLower(scene.Heading + "\n" + scene.Body)

	attrs := models.SceneAttributes{
		"location":          {Value: scene.Location, Confidence: confLocation},
		"time_of_day":       {Value: timeOfDayValue(scene.TimeOfDay), Confidence: confTime},
		"stunt_level":       {Value: detectStuntLevel(text), Confidence: confStunt},
		"water_complexity":  {Value: detectWaterComplexity(text), Confidence: confWater},
		"vehicle_types":     {Value: detectVehicles(text), Confidence: confVehicles},
		"crowd_size":        {Value: detectCrowdSize(text), Confidence: confCrowd},
		"animals":           {Value: detectAnimals(text), Confidence: confAnimals},
		"weather_dependent": {Value: "no", Confidence: confWeather},
		"permit_tier":       {Value: "1", Confidence: confPermit},
	}

	if row, ok := p.tables.Location(scene.Location); ok {
		attrs["permit_tier"] = models.FeatureValue{
			Value:      strconv.Itoa(row.PermitTier),
			Confidence: confLocation,
		}
		if row.WeatherRisk == "high" || row.WeatherRisk == "very_high" {
			attrs["weather_dependent"] = models.FeatureValue{Value: "yes", Confidence: confWeather}
		}
	} else if strings.HasPrefix(scene.Heading, "EXT") || strings.HasPrefix(scene.Heading, "ext") {
		// Наружная съёмка без известной локации — погодозависимость по умолчанию
		attrs["weather_dependent"] = models.FeatureValue{Value: "yes", Confidence: 0.6}
	}

	return attrs
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func detectStuntLevel(text string) string {
	switch {
	case containsAny(text, "explosion", "crash", "fight", "stunt"):
		return "heavy"
	case containsAny(text, "chase", "action"):
		return "medium"
	case containsAny(text, "fall", "jump", "climb"):
		return "light"
	}
	return "none"
}

func detectWaterComplexity(text string) string {
	switch {
	case containsAny(text, "underwater", "storm", "waterfall", "rapids"):
		return "complex"
	case containsAny(text, "river", "lake", "sea", "ocean", "swim"):
		return "medium"
	case containsAny(text, "pool", "rain", "water"):
		return "simple"
	}
	return "none"
}

func detectVehicles(text string) string {
	switch {
	case containsAny(text, "truck", "train", "helicopter", "bus"):
		return "heavy"
	case containsAny(text, "car chase", "motorbike", "motorcycle"):
		return "medium"
	case containsAny(text, "car", "bike", "auto", "taxi"):
		return "simple"
	}
	return "none"
}

func detectCrowdSize(text string) string {
	switch {
	case containsAny(text, "festival", "stadium", "procession", "rally"):
		return "large"
	case containsAny(text, "crowd", "market", "bazaar", "party", "wedding"):
		return "medium"
	case containsAny(text, "restaurant", "office", "meeting", "street"):
		return "small"
	}
	return "none"
}

func detectAnimals(text string) string {
	switch {
	case containsAny(text, "horse", "elephant", "camel", "cattle", "tiger"):
		return "large"
	case containsAny(text, "dog", "cat", "bird", "snake", "monkey"):
		return "small"
	}
	return "none"
}

// timeOfDayValue сводит варианты заголовка к словарю экстрактора.
func timeOfDayValue(timeOfDay string) string {
	switch strings.ToUpper(timeOfDay) {
	case "NIGHT", "DUSK", "EVENING":
		return "night"
	default:
		return "day"
	}
}

func normalizeTimeOfDay(raw string) string {
	if m := timeOfDayRe.FindString(raw); m != "" {
		return strings.ToUpper(m)
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
