package consent

import (
	"regexp"

	"github.com/xela07ax/pixel-gateway/internal/domain"
)

// Маскировка user-agent: номера версий и скобочные блоки с данными системы
// заменяются плейсхолдерами, длина ограничивается.
var (
	uaVersionRe = regexp.MustCompile(`\d+[\d.]*`)
	uaParensRe  = regexp.MustCompile(`\([^)]*\)`)
)

const maxUserAgentLen = 128

// Точные геополя, подпадающие под персональные данные
var preciseGeoParams = []string{
	domain.ParamGeoLatitude,
	domain.ParamGeoLongitude,
	domain.ParamGeoCity,
	domain.ParamGeoRegion,
	domain.ParamGeoCountry,
}

// Anonymize приводит хит в соответствие текущей записи согласия.
// Чистая функция: вход не мутируется, правила по категориям независимы и кумулятивны.
func Anonymize(record domain.EventRecord, consent domain.ConsentRecord) domain.EventRecord {
	out := record
	out.Params = record.Params.Clone()

	if !consent.Granted(domain.CategoryAnalytics) {
		stripAnalytics(out.Params)
	}

	if !consent.Granted(domain.CategoryAd) {
		stripAd(out.Params)
	}

	return out
}

func stripAnalytics(p domain.Params) {
	delete(p, domain.ParamUserID)

	for _, key := range preciseGeoParams {
		delete(p, key)
	}

	if ua := p.GetString(domain.ParamUserAgent); ua != "" {
		p[domain.ParamUserAgent] = MaskUserAgent(ua)
	}

	p[domain.ParamSource] = domain.DeniedSentinel
	p[domain.ParamMedium] = domain.DeniedSentinel
}

func stripAd(p domain.Params) {
	delete(p, domain.ParamClickID)
	delete(p, domain.ParamContent)
	delete(p, domain.ParamTerm)

	if campaign := p.GetString(domain.ParamCampaign); !domain.IsReservedCampaign(campaign) {
		p[domain.ParamCampaign] = domain.CampaignNotProvided
	}

	// Платный канал без согласия на рекламу отдавать нельзя
	if domain.IsPaidMedium(p.GetString(domain.ParamMedium)) {
		p[domain.ParamSource] = domain.DeniedSentinel
		p[domain.ParamMedium] = domain.DeniedSentinel
	}
}

// MaskUserAgent обезличивает строку user-agent, сохраняя общий вид браузера
func MaskUserAgent(ua string) string {
	masked := uaParensRe.ReplaceAllString(ua, "(...)")
	masked = uaVersionRe.ReplaceAllString(masked, "0")
	if len(masked) > maxUserAgentLen {
		masked = masked[:maxUserAgentLen]
	}
	return masked
}
