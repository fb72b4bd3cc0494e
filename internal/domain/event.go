package domain

import "time"

// Params — плоская карта параметров одного хита.
// Ключ строковый, значение — любой JSON-сериализуемый скаляр или массив.
type Params map[string]interface{}

// Clone возвращает поверхностную копию карты.
// Достаточно для наших правил: анонимайзер удаляет/заменяет только верхнеуровневые ключи.
func (p Params) Clone() Params {
	cp := make(Params, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// GetString безопасно достает строковый параметр (пустая строка, если нет или не строка)
func (p Params) GetString(key string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// EventRecord — один аналитический хит, полностью собранный пайплайном.
type EventRecord struct {
	Name      string    `json:"name"`       // Имя события ("page_view", "purchase"...)
	Params    Params    `json:"params"`     // Параметры хита
	VisitorID string    `json:"visitor_id"` // Кому принадлежит хит
	TraceID   string    `json:"trace_id"`   // Сквозной ID запроса
	Timestamp time.Time `json:"timestamp"`  // Момент трека (event_timestamp всегда присутствует)
}

// QueuedEvent — запись очереди отложенных (pre-consent) событий.
// Владеет ею исключительно EventQueue: от enqueue до drain никто другой её не мутирует.
type QueuedEvent struct {
	ID         string      `json:"id"`          // UUID, уникален в рамках процесса
	Payload    EventRecord `json:"payload"`     // Полностью обогащенный хит
	EnqueuedAt time.Time   `json:"enqueued_at"` // Для TTL-эвикции (24ч)
}

// Ключи параметров, на которые опираются резолвер, обогатитель и анонимайзер
const (
	ParamSource    = "source"
	ParamMedium    = "medium"
	ParamCampaign  = "campaign"
	ParamContent   = "content"
	ParamTerm      = "term"
	ParamClickID   = "click_id"
	ParamUserID    = "user_id"
	ParamUserAgent = "user_agent"
	ParamTimestamp = "event_timestamp"

	// Грубая (timezone) локация — присутствует всегда
	ParamGeoContinent = "geo_continent"
	ParamGeoCountry   = "geo_country"
	ParamGeoCity      = "geo_city"

	// Точная (IP) локация — только при согласии и выключенном рубильнике
	ParamGeoLatitude  = "geo_latitude"
	ParamGeoLongitude = "geo_longitude"
	ParamGeoRegion    = "geo_region"
)

// Критичные события: их потеря ломает отчетность, доставляем через reliable-путь
const (
	EventSessionStart = "session_start"
	EventFirstVisit   = "first_visit"
	EventPageView     = "page_view"
)

// IsCritical — session_start / first_visit / page_view идут через reliable-доставку
func IsCritical(name string) bool {
	switch name {
	case EventSessionStart, EventFirstVisit, EventPageView:
		return true
	}
	return false
}

// Конверсионные события берут атрибуцию из сохраненного "последнего касания",
// а не из момента конверсии: привел визит часто не тот, что сконвертировал.
const (
	EventPurchase       = "purchase"
	EventGenerateLead   = "generate_lead"
	EventFormConversion = "form_conversion"
	EventQuoteRequest   = "quote_request"
)

// IsConversion проверяет принадлежность события к конверсионному классу
func IsConversion(name string) bool {
	switch name {
	case EventPurchase, EventGenerateLead, EventFormConversion, EventQuoteRequest:
		return true
	}
	return false
}
