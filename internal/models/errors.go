package models

import "errors"

// Общие ошибки доменного слоя.
var (
	ErrNotFound      = errors.New("запись не найдена")
	ErrScriptEmpty   = errors.New("у проекта отсутствует текст сценария")
	ErrRunNotReady   = errors.New("прогон анализа ещё не завершён")
	ErrInvalidScale  = errors.New("неизвестный масштаб производства")
	ErrTokenExpired  = errors.New("токен истёк")
	ErrTokenInvalid  = errors.New("невалидный токен")
	ErrTokenMissing  = errors.New("токен отсутствует")
	ErrAccessDenied  = errors.New("доступ запрещён")
	ErrAlreadyExists = errors.New("запись уже существует")
	ErrValidation    = errors.New("ошибка валидации")
)

// ValidScale проверяет, что переданный scale tier известен rate card.
func ValidScale(scale string) bool {
	switch scale {
	case ScaleIndie, ScaleMidBudget, ScaleBigBudget:
		return true
	}
	return false
}
