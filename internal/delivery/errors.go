package delivery

import (
	"errors"
	"fmt"
	"time"
)

// Терминальные исходы: fallback-цепочка на них не продолжается
var (
	// ErrBotDetected — валидатор уверенно опознал бота; хит выбрасывается
	ErrBotDetected = errors.New("bot detected")
	// ErrBotCheckFailed — валидатор недоступен; отправка этого хита прерывается
	ErrBotCheckFailed = errors.New("bot validation unavailable")
	// ErrMisconfigured — у стратегии нет обязательного endpoint/ключа;
	// конкретная отправка пропускается с диагностикой, без падения
	ErrMisconfigured = errors.New("strategy is not configured")
)

// ThrottleError несет Retry-After от принимающей стороны —
// механизм ретраев уважает её темп вместо экспоненциального бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

// terminal — ошибки, после которых пробовать следующую стратегию бессмысленно
func terminal(err error) bool {
	return errors.Is(err, ErrBotDetected) || errors.Is(err, ErrBotCheckFailed)
}
