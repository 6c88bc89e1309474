package pipeline

import "go.uber.org/zap"

// Result — обёртка над значением, которое могло прийти из LLM, а могло из
// детерминированного запасного пути. Причина отката сохраняется для логов и
// метрик; сам откат никогда не является ошибкой пайплайна.
type Result[T any] struct {
	Value          T
	FallbackReason string
}

// Ok — значение получено основным путём.
func Ok[T any](value T) Result[T] {
	return Result[T]{Value: value}
}

// Fallback — значение получено запасным путём по указанной причине.
func Fallback[T any](value T, reason string) Result[T] {
	return Result[T]{Value: value, FallbackReason: reason}
}

// FromFallback сообщает, был ли задействован запасной путь.
func (r Result[T]) FromFallback() bool {
	return r.FallbackReason != ""
}

// Attempt выполняет основной вызов; при ошибке логирует её и возвращает
// результат запасной функции. Запасная функция обязана быть безошибочной —
// это детерминированное вычисление или статический дефолт.
func Attempt[T any](logger *zap.Logger, op string, call func() (T, error), fallback func() T) Result[T] {
	value, err := call()
	if err != nil {
		logger.Warn("Primary path failed, falling back",
			zap.String("operation", op),
			zap.Error(err))
		return Fallback(fallback(), err.Error())
	}
	return Ok(value)
}
