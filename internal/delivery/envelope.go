package delivery

import (
	"time"

	"github.com/xela07ax/pixel-gateway/internal/domain"
)

// EnvelopeEvent — одна запись в конверте доставки
type EnvelopeEvent struct {
	Name           string        `json:"name"`
	Params         domain.Params `json:"params"`
	IsCompleteData bool          `json:"isCompleteData"` // false, если хит урезан анонимайзером
	Timestamp      time.Time     `json:"timestamp"`
}

// Envelope — единая форма полезной нагрузки для одиночных и батчевых отправок.
// Принимающая сторона парсит ровно один формат.
type Envelope struct {
	Batch     bool                  `json:"batch"`
	Events    []EnvelopeEvent       `json:"events"`
	Consent   domain.MinimalConsent `json:"consent"` // Только минимальное подмножество согласия
	Timestamp time.Time             `json:"timestamp"`
}

// NewEnvelope собирает конверт; batch-флаг выставляется по числу событий
func NewEnvelope(events []EnvelopeEvent, consent domain.MinimalConsent, now time.Time) Envelope {
	return Envelope{
		Batch:     len(events) > 1,
		Events:    events,
		Consent:   consent,
		Timestamp: now,
	}
}

// Meta — контекст отправки, не входящий в полезную нагрузку
// (нужен bot-валидатору и журналу доставки).
type Meta struct {
	VisitorID string
	TraceID   string
	UserAgent string
	ClientIP  string
	Decision  string // Состояние согласия в момент обработки (для журнала)
}
