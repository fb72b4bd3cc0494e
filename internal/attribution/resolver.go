package attribution

import (
	"strings"

	"github.com/xela07ax/pixel-gateway/internal/domain"
)

// Классификатор рефереров. Таблицы фиксированные: ищем по суффиксу домена,
// чтобы "www.google.de" и "google.com" попадали в одну корзину.
var searchEngines = map[string]string{
	"google.":    "google",
	"bing.com":   "bing",
	"yahoo.com":  "yahoo",
	"duckduckgo": "duckduckgo",
	"yandex.":    "yandex",
	"baidu.com":  "baidu",
	"ecosia.org": "ecosia",
}

var socialNetworks = map[string]string{
	"facebook.com":  "facebook",
	"instagram.com": "instagram",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"linkedin.com":  "linkedin",
	"tiktok.com":    "tiktok",
	"pinterest.":    "pinterest",
	"youtube.com":   "youtube",
	"vk.com":        "vk",
	"reddit.com":    "reddit",
}

// Маркеры платного клика в URL реферера
var paidClickMarkers = []string{"gclid=", "gclsrc=", "wbraid=", "gbraid=", "msclkid="}

// Input — все, что нужно резолверу. Никакого I/O: чистая функция от этих полей.
type Input struct {
	UTM            domain.UTM
	ClickID        string
	Referrer       string // Полный URL реферера (для поиска маркеров платного клика)
	ReferrerDomain string
	SiteDomain     string // Домен самого сайта (для отсечения same-site)
	// Same-site рефереры игнорируются целиком; false выключает отсечение
	IgnoreSameSiteReferrer bool
	IsNewSession           bool
}

// Resolve разбирает маркетинговую атрибуцию визита. Приоритет:
//  1. UTM как есть.
//  2. Кросс-сайтовый реферер по таблицам (поиск/соцсети/реферал).
//  3. Click-id перекрывает всё: это доказательство платного клика.
//  4. Пусто — (direct)/(none) для новой сессии, (internal) для продолжающейся.
func Resolve(in Input) domain.AttributionRecord {
	rec := domain.AttributionRecord{
		Source:   in.UTM.Source,
		Medium:   in.UTM.Medium,
		Campaign: in.UTM.Campaign,
		Content:  in.UTM.Content,
		Term:     in.UTM.Term,
		ClickID:  in.ClickID,
	}

	// Шаг 2: классификация реферера — только если UTM не дал source/medium
	if rec.Source == "" && rec.Medium == "" && in.ReferrerDomain != "" && !isSameSite(in) {
		classifyReferrer(in, &rec)
	}

	// Шаг 3: click-id выполняется последним и всегда побеждает, даже над UTM
	if in.ClickID != "" {
		rec.Source = domain.PaidSource
		rec.Medium = domain.PaidMedium
		rec.Campaign = domain.CampaignNotSet
	}

	// Шаг 4: ничего не нашли — различаем внутреннюю навигацию и истинный direct
	if rec.Source == "" && rec.Medium == "" {
		if in.IsNewSession {
			rec.Source = domain.SourceDirect
			rec.Medium = domain.MediumNone
		} else {
			rec.Source = domain.SourceInternal
			rec.Medium = domain.MediumInternal
		}
	}

	if rec.Campaign == "" {
		rec.Campaign = domain.CampaignNotSet
	}

	return rec
}

func isSameSite(in Input) bool {
	if !in.IgnoreSameSiteReferrer || in.SiteDomain == "" {
		return false
	}
	return strings.HasSuffix(in.ReferrerDomain, in.SiteDomain)
}

func classifyReferrer(in Input, rec *domain.AttributionRecord) {
	refDomain := strings.ToLower(in.ReferrerDomain)

	for marker, name := range searchEngines {
		if strings.Contains(refDomain, marker) {
			rec.Source = name
			if hasPaidMarker(in.Referrer) {
				// Пришли из поиска с маркером платного клика — это cpc, не organic
				rec.Medium = domain.PaidMedium
				rec.Campaign = domain.CampaignNotSet
			} else {
				rec.Medium = "organic"
				rec.Campaign = domain.CampaignOrganic
			}
			return
		}
	}

	for marker, name := range socialNetworks {
		if strings.Contains(refDomain, marker) {
			rec.Source = name
			rec.Medium = "social"
			return
		}
	}

	// Любой другой кросс-сайтовый переход — обычный реферал
	rec.Source = refDomain
	rec.Medium = "referral"
	rec.Campaign = domain.CampaignReferral
}

func hasPaidMarker(referrer string) bool {
	for _, m := range paidClickMarkers {
		if strings.Contains(referrer, m) {
			return true
		}
	}
	return false
}

// ShouldPersist решает, обновлять ли "последнюю известную атрибуцию".
// Сохраняем реальное внешнее касание, не перетирая его шумом внутренней навигации.
func ShouldPersist(in Input, rec domain.AttributionRecord) bool {
	if in.IsNewSession || in.ClickID != "" || !in.UTM.Empty() {
		return true
	}
	return rec.Source != domain.SourceDirect && rec.Source != domain.SourceInternal
}
