package domain

import "time"

// ConsentStatus — значение одной категории хранения
type ConsentStatus string

const (
	ConsentGranted ConsentStatus = "GRANTED"
	ConsentDenied  ConsentStatus = "DENIED"
)

// ConsentDecision — агрегатное состояние машины согласия посетителя
type ConsentDecision string

const (
	DecisionUnknown ConsentDecision = "UNKNOWN" // Решения еще нет, события копятся в очереди
	DecisionGranted ConsentDecision = "GRANTED"
	DecisionDenied  ConsentDecision = "DENIED"
)

// Категории хранения. Набор фиксированный.
const (
	CategoryAnalytics       = "analytics_storage"
	CategoryAd              = "ad_storage"
	CategoryAdUserData      = "ad_user_data"
	CategoryAdPersonalize   = "ad_personalization"
	CategoryFunctionality   = "functionality_storage"
	CategoryPersonalization = "personalization_storage"
	CategorySecurity        = "security_storage"
)

// AllCategories в стабильном порядке (для сериализации и тестов)
var AllCategories = []string{
	CategoryAnalytics,
	CategoryAd,
	CategoryAdUserData,
	CategoryAdPersonalize,
	CategoryFunctionality,
	CategoryPersonalization,
	CategorySecurity,
}

// ConsentRecord — единственная авторитетная запись согласия посетителя.
// Живет не дольше года, после чего сбрасывается и запрашивается заново.
// Любое более позднее действие посетителя заменяет запись целиком, без слияния.
type ConsentRecord struct {
	Categories map[string]ConsentStatus `json:"categories"`
	Timestamp  time.Time                `json:"timestamp"` // Момент создания записи
}

// NewConsentRecord создает запись, где все категории получают переданный статус.
// security_storage всегда GRANTED: телеметрия безопасности не требует согласия.
func NewConsentRecord(status ConsentStatus, now time.Time) ConsentRecord {
	cats := make(map[string]ConsentStatus, len(AllCategories))
	for _, c := range AllCategories {
		cats[c] = status
	}
	cats[CategorySecurity] = ConsentGranted
	return ConsentRecord{Categories: cats, Timestamp: now}
}

// Status возвращает статус категории. Неизвестная категория — DENIED (Zero Trust).
func (r ConsentRecord) Status(category string) ConsentStatus {
	if category == CategorySecurity {
		return ConsentGranted
	}
	if s, ok := r.Categories[category]; ok {
		return s
	}
	return ConsentDenied
}

// Granted — шорткат для проверки одной категории
func (r ConsentRecord) Granted(category string) bool {
	return r.Status(category) == ConsentGranted
}

// Decision сводит запись к агрегатному решению: GRANTED, если разрешена
// хотя бы аналитика, иначе DENIED.
func (r ConsentRecord) Decision() ConsentDecision {
	if r.Granted(CategoryAnalytics) {
		return DecisionGranted
	}
	return DecisionDenied
}

// MinimalConsent — единственная часть записи, которая уезжает вместе с хитом.
// Полная запись остается локальной.
type MinimalConsent struct {
	AdUserData        ConsentStatus `json:"ad_user_data"`
	AdPersonalization ConsentStatus `json:"ad_personalization"`
}

// Minimal выделяет транспортируемое подмножество согласия
func (r ConsentRecord) Minimal() MinimalConsent {
	return MinimalConsent{
		AdUserData:        r.Status(CategoryAdUserData),
		AdPersonalization: r.Status(CategoryAdPersonalize),
	}
}
