package journal

import "time"

// Статусы записи журнала доставки
const (
	StatusSent    = "SENT"    // Ушло в сборщик
	StatusQueued  = "QUEUED"  // Отложено до решения по согласию
	StatusDropped = "DROPPED" // Выброшено (бот, переполнение, вытеснение)
	StatusFailed  = "FAILED"  // Все стратегии отказали
)

type Entry struct {
	ID        string `json:"id"`         // UUID записи
	TraceID   string `json:"trace_id"`   // Сквозной ID запроса
	VisitorID string `json:"visitor_id"` // Чей хит
	EventName string `json:"event_name"` // Что трекали

	// Контекст доставки
	Strategy string `json:"strategy"` // Какая стратегия сработала (пусто для QUEUED)
	Mode     string `json:"mode"`     // "sync" или "reliable"
	Decision string `json:"decision"` // Состояние согласия в момент обработки

	// Результат
	Status     string    `json:"status"`
	Complete   bool      `json:"complete"` // false, если хит урезан анонимайзером
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error"`
}
