// Package extraction отображает извлечённые атрибуты сцены в плоский список
// именованных признаков риска (feature tokens). Чистая функция без побочных
// эффектов: неизвестные значения молча игнорируются (fail open), токены одного
// поля наследуют его confidence.
package extraction

import (
	"strings"

	"shootsafe-server/internal/models"
)

// categoryMapping — отображение "значение поля -> токены" для одной категории.
// Порядок категорий фиксирован объявлением: он определяет порядок токенов на выходе.
type categoryMapping struct {
	field  string
	values map[string][]string
}

var fieldMappings = []categoryMapping{
	{field: "stunt_level", values: map[string][]string{
		"none":   {},
		"light":  {"stunt_light"},
		"medium": {"stunt_medium"},
		"heavy":  {"stunt_heavy"},
	}},
	{field: "time_of_day", values: map[string][]string{
		"day":   {"day_shoot"},
		"night": {"night_shoot"},
	}},
	{field: "water_complexity", values: map[string][]string{
		"none":    {},
		"simple":  {"water_simple"},
		"medium":  {"water_medium"},
		"complex": {"water_complex"},
	}},
	{field: "crowd_size", values: map[string][]string{
		"none":   {},
		"small":  {"crowd_small"},
		"medium": {"crowd_medium"},
		"large":  {"crowd_large"},
	}},
	{field: "vehicle_types", values: map[string][]string{
		"none":   {},
		"simple": {"vehicle_simple"},
		"medium": {"vehicle_medium"},
		"heavy":  {"vehicle_heavy"},
	}},
	{field: "animals", values: map[string][]string{
		"none":  {},
		"no":    {},
		"small": {"animal_small"},
		"large": {"animal_large"},
	}},
	{field: "weather_dependent", values: map[string][]string{
		"yes": {"weather_dependent"},
		"no":  {},
	}},
	{field: "permit_tier", values: map[string][]string{
		"1": {"permit_tier_1"},
		"2": {"permit_tier_2"},
		"3": {"permit_tier_3"},
		"4": {"permit_tier_4"},
	}},
}

// Extract возвращает упорядоченный список токенов с confidence поля-источника.
// Отсутствующие категории и неопознанные значения не дают токенов и не являются ошибкой.
func Extract(attrs models.SceneAttributes) []models.Token {
	if len(attrs) == 0 {
		return nil
	}

	var tokens []models.Token
	for _, mapping := range fieldMappings {
		fieldValue, ok := attrs[mapping.field]
		if !ok {
			continue
		}
		names, ok := mapping.values[strings.ToLower(strings.TrimSpace(fieldValue.Value))]
		if !ok {
			continue
		}
		for _, name := range names {
			tokens = append(tokens, models.Token{Name: name, Confidence: fieldValue.Confidence})
		}
	}
	return tokens
}

// Names возвращает имена токенов без confidence (для сериализации и драйверов риска).
func Names(tokens []models.Token) []string {
	names := make([]string, 0, len(tokens))
	for _, t := range tokens {
		names = append(names, t.Name)
	}
	return names
}

// Categories возвращает список поддерживаемых категорий в порядке объявления.
func Categories() []string {
	fields := make([]string, 0, len(fieldMappings))
	for _, m := range fieldMappings {
		fields = append(fields, m.field)
	}
	return fields
}
