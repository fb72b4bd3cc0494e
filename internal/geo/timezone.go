package geo

import "strings"

// Регион по идентификатору таймзоны. Таблица покрывает основные зоны;
// для незнакомых зон континент и город извлекаются из самого идентификатора.
type tzRegion struct {
	Continent string
	Country   string
	City      string
}

var tzTable = map[string]tzRegion{
	"Europe/London":       {"Europe", "United Kingdom", "London"},
	"Europe/Dublin":       {"Europe", "Ireland", "Dublin"},
	"Europe/Paris":        {"Europe", "France", "Paris"},
	"Europe/Berlin":       {"Europe", "Germany", "Berlin"},
	"Europe/Madrid":       {"Europe", "Spain", "Madrid"},
	"Europe/Rome":         {"Europe", "Italy", "Rome"},
	"Europe/Amsterdam":    {"Europe", "Netherlands", "Amsterdam"},
	"Europe/Brussels":     {"Europe", "Belgium", "Brussels"},
	"Europe/Vienna":       {"Europe", "Austria", "Vienna"},
	"Europe/Zurich":       {"Europe", "Switzerland", "Zurich"},
	"Europe/Stockholm":    {"Europe", "Sweden", "Stockholm"},
	"Europe/Oslo":         {"Europe", "Norway", "Oslo"},
	"Europe/Copenhagen":   {"Europe", "Denmark", "Copenhagen"},
	"Europe/Helsinki":     {"Europe", "Finland", "Helsinki"},
	"Europe/Warsaw":       {"Europe", "Poland", "Warsaw"},
	"Europe/Prague":       {"Europe", "Czechia", "Prague"},
	"Europe/Lisbon":       {"Europe", "Portugal", "Lisbon"},
	"Europe/Athens":       {"Europe", "Greece", "Athens"},
	"Europe/Istanbul":     {"Europe", "Turkey", "Istanbul"},
	"Europe/Moscow":       {"Europe", "Russia", "Moscow"},
	"Europe/Kyiv":         {"Europe", "Ukraine", "Kyiv"},
	"America/New_York":    {"America", "United States", "New York"},
	"America/Chicago":     {"America", "United States", "Chicago"},
	"America/Denver":      {"America", "United States", "Denver"},
	"America/Los_Angeles": {"America", "United States", "Los Angeles"},
	"America/Phoenix":     {"America", "United States", "Phoenix"},
	"America/Toronto":     {"America", "Canada", "Toronto"},
	"America/Vancouver":   {"America", "Canada", "Vancouver"},
	"America/Mexico_City": {"America", "Mexico", "Mexico City"},
	"America/Sao_Paulo":   {"America", "Brazil", "Sao Paulo"},
	"America/Bogota":      {"America", "Colombia", "Bogota"},
	"America/Argentina/Buenos_Aires": {"America", "Argentina", "Buenos Aires"},
	"Asia/Tokyo":          {"Asia", "Japan", "Tokyo"},
	"Asia/Seoul":          {"Asia", "South Korea", "Seoul"},
	"Asia/Shanghai":       {"Asia", "China", "Shanghai"},
	"Asia/Hong_Kong":      {"Asia", "Hong Kong", "Hong Kong"},
	"Asia/Singapore":      {"Asia", "Singapore", "Singapore"},
	"Asia/Bangkok":        {"Asia", "Thailand", "Bangkok"},
	"Asia/Kolkata":        {"Asia", "India", "Kolkata"},
	"Asia/Dubai":          {"Asia", "United Arab Emirates", "Dubai"},
	"Asia/Jerusalem":      {"Asia", "Israel", "Jerusalem"},
	"Australia/Sydney":    {"Australia", "Australia", "Sydney"},
	"Australia/Melbourne": {"Australia", "Australia", "Melbourne"},
	"Pacific/Auckland":    {"Pacific", "New Zealand", "Auckland"},
	"Africa/Cairo":        {"Africa", "Egypt", "Cairo"},
	"Africa/Lagos":        {"Africa", "Nigeria", "Lagos"},
	"Africa/Johannesburg": {"Africa", "South Africa", "Johannesburg"},
}

// regionFromTimezone возвращает грубый регион. Для зон вне таблицы
// континент и город извлекаются прямо из идентификатора ("Europe/Belgrade").
func regionFromTimezone(tz string) (tzRegion, bool) {
	if r, ok := tzTable[tz]; ok {
		return r, true
	}

	parts := strings.Split(tz, "/")
	if len(parts) < 2 {
		return tzRegion{}, false
	}

	city := strings.ReplaceAll(parts[len(parts)-1], "_", " ")
	return tzRegion{Continent: parts[0], City: city}, true
}
