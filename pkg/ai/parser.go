package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ExtractJSONObject вырезает первый сбалансированный JSON-объект из текста
// ответа модели и десериализует его в v. Модели любят оборачивать JSON в
// markdown-заборы и пояснительный текст, поэтому простого json.Unmarshal мало.
func ExtractJSONObject(responseText string, v any) error {
	raw, err := extractBalanced(responseText, '{', '}')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("не удалось распарсить JSON-объект из ответа: %w", err)
	}
	return nil
}

// ExtractJSONArray — то же для JSON-массива верхнего уровня.
func ExtractJSONArray(responseText string, v any) error {
	raw, err := extractBalanced(responseText, '[', ']')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("не удалось распарсить JSON-массив из ответа: %w", err)
	}
	return nil
}

// extractBalanced ищет первую открывающую скобку и возвращает подстроку до
// парной закрывающей. Скобки внутри строковых литералов не считаются.
func extractBalanced(text string, open, close byte) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("пустой ответ для парсинга")
	}

	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", fmt.Errorf("в ответе нет символа %q", open)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", errors.New("несбалансированный JSON в ответе модели")
}
