package domain

// Сентинелы атрибуции. Формат скобочных значений фиксирован — по ним
// фильтруют отчеты ниже по течению, менять нельзя.
const (
	SourceDirect   = "(direct)"
	SourceInternal = "(internal)"
	MediumNone     = "(none)"
	MediumInternal = "(internal)"

	CampaignNotSet   = "(not set)"
	CampaignOrganic  = "(organic)"
	CampaignDirect   = "(direct)"
	CampaignReferral = "(referral)"

	// Пара "отказ от согласия" — подставляется анонимайзером
	DeniedSentinel = "(denied consent)"
	// Кампания при отказе от ad_storage
	CampaignNotProvided = "(not provided)"
)

// Пара платного поиска: click-id — авторитетное доказательство платного клика,
// всегда перекрывает UTM и реферер.
const (
	PaidSource = "google"
	PaidMedium = "cpc"
)

// AttributionRecord — результат разбора маркетинговой атрибуции визита.
type AttributionRecord struct {
	Source   string `json:"source"`
	Medium   string `json:"medium"`
	Campaign string `json:"campaign"` // По умолчанию "(not set)"
	Content  string `json:"content"`
	Term     string `json:"term"`
	ClickID  string `json:"click_id"`
}

// IsPaidMedium — распознанные платные медиа-каналы (для правил анонимизации)
func IsPaidMedium(medium string) bool {
	switch medium {
	case "cpc", "ppc", "paid-search", "display", "banner", "cpm":
		return true
	}
	return false
}

// IsReservedCampaign — служебные значения кампании, которые анонимайзер не трогает
func IsReservedCampaign(campaign string) bool {
	switch campaign {
	case CampaignOrganic, CampaignDirect, CampaignReferral, CampaignNotSet, "":
		return true
	}
	return false
}

// UTM — размеченные параметры кампании из URL посадочной страницы.
type UTM struct {
	Source   string `json:"utm_source"`
	Medium   string `json:"utm_medium"`
	Campaign string `json:"utm_campaign"`
	Content  string `json:"utm_content"`
	Term     string `json:"utm_term"`
}

// Empty — UTM считается пустым, когда нет ни source, ни medium
func (u UTM) Empty() bool {
	return u.Source == "" && u.Medium == ""
}
