package geo

import (
	"context"

	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/domain"
)

// RegionUnresolved — сентинел континента для хитов без разрешимой таймзоны
const RegionUnresolved = "(not set)"

// Location — ответ внешнего геолокатора
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city"`
	Region    string  `json:"region"`
	Country   string  `json:"country"`
}

// Complete — без обеих координат записи точных полей не происходит
func (l *Location) Complete() bool {
	return l != nil && l.Latitude != 0 && l.Longitude != 0
}

// Provider — внешний IP-геолокатор. Возвращает одну опциональную запись;
// цепочка фолбэков между провайдерами скрыта за этим контрактом.
type Provider interface {
	Lookup(ctx context.Context, ip string) (*Location, error)
}

// NullProvider — дефолтная заглушка, когда провайдеры не сконфигурированы.
// Выбирается один раз при сборке, а не проверяется на каждом вызове.
type NullProvider struct{}

func (NullProvider) Lookup(context.Context, string) (*Location, error) { return nil, nil }

// Enricher добавляет хиту географический контекст.
type Enricher struct {
	provider   Provider
	killSwitch *KillSwitch
	logger     *zap.Logger
}

func NewEnricher(provider Provider, ks *KillSwitch, logger *zap.Logger) *Enricher {
	if provider == nil {
		provider = NullProvider{}
	}
	return &Enricher{
		provider:   provider,
		killSwitch: ks,
		logger:     logger.With(zap.String("mod", "geo")),
	}
}

// Enrich возвращает копию хита с геополями.
// Грубая (timezone) локация вычисляется всегда и не зависит от согласия —
// она недостаточно точна, чтобы считаться персональными данными.
// Точная (IP) добавляется только при выключенном рубильнике и consentAllows;
// сбой или неполные координаты оставляют грубый фолбэк нетронутым.
func (e *Enricher) Enrich(ctx context.Context, rec domain.EventRecord, clientIP string, consentAllows bool) domain.EventRecord {
	out := rec
	out.Params = rec.Params.Clone()

	e.applyCoarse(out.Params)

	if e.killSwitch != nil && e.killSwitch.Disabled() {
		return out
	}
	if !consentAllows || clientIP == "" {
		return out
	}

	loc, err := e.provider.Lookup(ctx, clientIP)
	if err != nil {
		// Ошибка обогащения никогда не доходит до вызывающего
		e.logger.Debug("precise geo lookup failed", zap.Error(err))
		return out
	}
	if !loc.Complete() {
		return out
	}

	out.Params[domain.ParamGeoLatitude] = loc.Latitude
	out.Params[domain.ParamGeoLongitude] = loc.Longitude
	if loc.City != "" {
		out.Params[domain.ParamGeoCity] = loc.City
	}
	if loc.Region != "" {
		out.Params[domain.ParamGeoRegion] = loc.Region
	}
	if loc.Country != "" {
		out.Params[domain.ParamGeoCountry] = loc.Country
	}

	return out
}

func (e *Enricher) applyCoarse(p domain.Params) {
	tz := p.GetString("timezone")
	if tz == "" {
		// Локационный фолбэк обязателен даже без таймзоны
		e.markUnresolved(p)
		return
	}

	region, ok := regionFromTimezone(tz)
	if !ok {
		e.markUnresolved(p)
		return
	}

	p[domain.ParamGeoContinent] = region.Continent
	if region.Country != "" {
		// Не перетираем страну, если точный лукап уже отработал раньше
		if _, exists := p[domain.ParamGeoCountry]; !exists {
			p[domain.ParamGeoCountry] = region.Country
		}
	}
	if region.City != "" {
		if _, exists := p[domain.ParamGeoCity]; !exists {
			p[domain.ParamGeoCity] = region.City
		}
	}
}

// markUnresolved проставляет сентинел вместо континента: хит без
// разрешимой таймзоны все равно несет локационное поле.
func (e *Enricher) markUnresolved(p domain.Params) {
	if _, exists := p[domain.ParamGeoContinent]; !exists {
		p[domain.ParamGeoContinent] = RegionUnresolved
	}
}
