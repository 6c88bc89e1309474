// Package refdata загружает статические справочные таблицы анализа
// (единая таблица сложности, rate card, городские множители, библиотека локаций).
// Таблицы встроены в бинарник, парсятся один раз на старте процесса и дальше
// передаются по ссылке как неизменяемая структура. Ошибка парсинга фатальна:
// без таблиц ядро считать нечего.
package refdata

import (
	"embed"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

//go:embed data/*.csv
var dataFS embed.FS

// PillarPoints — очки риска по пяти столпам для одного признака.
type PillarPoints struct {
	Safety     int
	Logistics  int
	Schedule   int
	Budget     int
	Compliance int
}

// ComplexityRow — каноническая строка таблицы сложности. Исходная система
// держала два пересекающихся CSV (risk_weights и complexity_multipliers)
// с дублирующимися столбцами очков; здесь одна таблица питает и риск, и бюджет.
type ComplexityRow struct {
	Feature            string
	CostMultiplier     float64
	ScheduleMultiplier float64
	Points             PillarPoints
	Description        string
}

// RateCardRow — базовая ставка департамента для данного масштаба производства.
type RateCardRow struct {
	Department  string
	ScaleTier   string
	BaseCostMin int
	BaseCostMax int
}

// CityRow — пять частных множителей стоимости для города.
type CityRow struct {
	City             string
	State            string
	Labor            float64
	Vendor           float64
	PermitComplexity float64
	Transport        float64
	Lodging          float64
}

// Multiplier возвращает городской множитель: среднее пяти частных множителей.
func (c CityRow) Multiplier() float64 {
	return (c.Labor + c.Vendor + c.PermitComplexity + c.Transport + c.Lodging) / 5.0
}

// LocationRow — типовая локация из библиотеки локаций.
type LocationRow struct {
	LocationType          string
	PermitTier            int
	SoundDifficulty       string
	CrowdControlNeeded    bool
	SetupComplexity       string
	TypicalCostMultiplier float64
	WeatherRisk           string
	Description           string
}

// Tables — все справочные таблицы, загруженные на старте. Только чтение.
type Tables struct {
	complexity map[string]ComplexityRow
	rateCard   []RateCardRow
	cities     map[string]CityRow
	locations  map[string]LocationRow
}

// Load парсит встроенные CSV. Любая ошибка здесь должна приводить к остановке
// процесса на старте, а не к тихой работе с пустыми таблицами.
func Load() (*Tables, error) {
	t := &Tables{
		complexity: make(map[string]ComplexityRow),
		cities:     make(map[string]CityRow),
		locations:  make(map[string]LocationRow),
	}

	if err := t.loadComplexity(); err != nil {
		return nil, fmt.Errorf("complexity_multipliers: %w", err)
	}
	if err := t.loadRateCard(); err != nil {
		return nil, fmt.Errorf("rate_card: %w", err)
	}
	if err := t.loadCities(); err != nil {
		return nil, fmt.Errorf("city_state_multipliers: %w", err)
	}
	if err := t.loadLocations(); err != nil {
		return nil, fmt.Errorf("location_library: %w", err)
	}
	return t, nil
}

// Complexity возвращает строку таблицы сложности для признака.
func (t *Tables) Complexity(feature string) (ComplexityRow, bool) {
	row, ok := t.complexity[feature]
	return row, ok
}

// CostMultiplier возвращает множитель стоимости признака; неизвестный признак -> 1.0.
func (t *Tables) CostMultiplier(feature string) float64 {
	if row, ok := t.complexity[feature]; ok {
		return row.CostMultiplier
	}
	return 1.0
}

// City возвращает строку городских множителей (регистронезависимо).
func (t *Tables) City(city string) (CityRow, bool) {
	row, ok := t.cities[strings.ToLower(city)]
	return row, ok
}

// BaseCosts возвращает усреднённую базовую ставку каждого департамента для масштаба.
// При дублирующихся строках выигрывает первая.
func (t *Tables) BaseCosts(scale string) map[string]int {
	costs := make(map[string]int)
	for _, row := range t.rateCard {
		if row.ScaleTier != scale {
			continue
		}
		if _, exists := costs[row.Department]; !exists {
			costs[row.Department] = (row.BaseCostMin + row.BaseCostMax) / 2
		}
	}
	return costs
}

// Location ищет типовую локацию по имени. Пробелы и подчёркивания эквивалентны.
func (t *Tables) Location(locationType string) (LocationRow, bool) {
	row, ok := t.locations[normalizeLocationKey(locationType)]
	return row, ok
}

// ComplexityFeatures возвращает все известные признаки (для валидации и тестов).
func (t *Tables) ComplexityFeatures() []string {
	features := make([]string, 0, len(t.complexity))
	for f := range t.complexity {
		features = append(features, f)
	}
	return features
}

func normalizeLocationKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
}

func readCSV(name string, wantCols int) ([][]string, error) {
	f, err := dataFS.Open("data/" + name)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть %s: %w", name, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = wantCols
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("не удалось распарсить %s: %w", name, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s: таблица пуста", name)
	}
	return records[1:], nil // без заголовка
}

func (t *Tables) loadComplexity() error {
	rows, err := readCSV("complexity_multipliers.csv", 9)
	if err != nil {
		return err
	}
	for i, rec := range rows {
		row := ComplexityRow{Feature: rec[0], Description: rec[8]}
		if row.CostMultiplier, err = strconv.ParseFloat(rec[1], 64); err != nil {
			return fmt.Errorf("строка %d: cost_multiplier: %w", i+2, err)
		}
		if row.ScheduleMultiplier, err = strconv.ParseFloat(rec[2], 64); err != nil {
			return fmt.Errorf("строка %d: schedule_multiplier: %w", i+2, err)
		}
		pts := [5]*int{
			&row.Points.Safety, &row.Points.Logistics, &row.Points.Schedule,
			&row.Points.Budget, &row.Points.Compliance,
		}
		for j, p := range pts {
			if *p, err = strconv.Atoi(rec[3+j]); err != nil {
				return fmt.Errorf("строка %d: очки риска: %w", i+2, err)
			}
		}
		t.complexity[row.Feature] = row
	}
	return nil
}

func (t *Tables) loadRateCard() error {
	rows, err := readCSV("rate_card.csv", 4)
	if err != nil {
		return err
	}
	for i, rec := range rows {
		row := RateCardRow{Department: rec[0], ScaleTier: rec[1]}
		if row.BaseCostMin, err = strconv.Atoi(rec[2]); err != nil {
			return fmt.Errorf("строка %d: base_cost_min: %w", i+2, err)
		}
		if row.BaseCostMax, err = strconv.Atoi(rec[3]); err != nil {
			return fmt.Errorf("строка %d: base_cost_max: %w", i+2, err)
		}
		t.rateCard = append(t.rateCard, row)
	}
	return nil
}

func (t *Tables) loadCities() error {
	rows, err := readCSV("city_state_multipliers.csv", 8)
	if err != nil {
		return err
	}
	for i, rec := range rows {
		row := CityRow{City: rec[0], State: rec[1]}
		mults := [5]*float64{&row.Labor, &row.Vendor, &row.PermitComplexity, &row.Transport, &row.Lodging}
		for j, m := range mults {
			if *m, err = strconv.ParseFloat(rec[2+j], 64); err != nil {
				return fmt.Errorf("строка %d: множитель: %w", i+2, err)
			}
		}
		t.cities[strings.ToLower(row.City)] = row
	}
	return nil
}

func (t *Tables) loadLocations() error {
	rows, err := readCSV("location_library.csv", 8)
	if err != nil {
		return err
	}
	for i, rec := range rows {
		row := LocationRow{
			LocationType:       rec[0],
			SoundDifficulty:    rec[2],
			CrowdControlNeeded: rec[3] == "yes",
			SetupComplexity:    rec[4],
			WeatherRisk:        rec[6],
			Description:        rec[7],
		}
		if row.PermitTier, err = strconv.Atoi(rec[1]); err != nil {
			return fmt.Errorf("строка %d: permit_tier: %w", i+2, err)
		}
		if row.TypicalCostMultiplier, err = strconv.ParseFloat(rec[5], 64); err != nil {
			return fmt.Errorf("строка %d: typical_cost_multiplier: %w", i+2, err)
		}
		t.locations[normalizeLocationKey(row.LocationType)] = row
	}
	return nil
}
