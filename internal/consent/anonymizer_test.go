package consent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/pixel-gateway/internal/domain"
)

func fullRecord() domain.EventRecord {
	return domain.EventRecord{
		Name:      "page_view",
		VisitorID: "v-1",
		Timestamp: time.Now(),
		Params: domain.Params{
			domain.ParamUserID:       "user-42",
			domain.ParamUserAgent:    "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0.0.0",
			domain.ParamSource:       "google",
			domain.ParamMedium:       "cpc",
			domain.ParamCampaign:     "spring_sale",
			domain.ParamContent:      "banner_a",
			domain.ParamTerm:         "shoes",
			domain.ParamClickID:      "abc123",
			domain.ParamGeoLatitude:  55.75,
			domain.ParamGeoLongitude: 37.61,
			domain.ParamGeoCity:      "Moscow",
			domain.ParamGeoRegion:    "Moscow",
			domain.ParamGeoCountry:   "Russia",
			domain.ParamGeoContinent: "Europe",
		},
	}
}

// TestAnonymize_AnalyticsDenied: без analytics_storage не должно остаться
// ни user_id, ни точной геолокации; source/medium — сентинел отказа.
func TestAnonymize_AnalyticsDenied(t *testing.T) {
	rec := fullRecord()
	cr := domain.NewConsentRecord(domain.ConsentDenied, time.Now())

	out := Anonymize(rec, cr)

	for _, key := range []string{
		domain.ParamUserID,
		domain.ParamGeoLatitude,
		domain.ParamGeoLongitude,
		domain.ParamGeoCity,
		domain.ParamGeoRegion,
		domain.ParamGeoCountry,
	} {
		_, ok := out.Params[key]
		assert.Falsef(t, ok, "параметр %s должен быть удален", key)
	}

	assert.Equal(t, domain.DeniedSentinel, out.Params[domain.ParamSource])
	assert.Equal(t, domain.DeniedSentinel, out.Params[domain.ParamMedium])
	// Грубый континент остается: он не считается персональными данными
	assert.Equal(t, "Europe", out.Params[domain.ParamGeoContinent])
}

// TestAnonymize_AdDenied: отдельный отказ от ad_storage при разрешенной аналитике.
func TestAnonymize_AdDenied(t *testing.T) {
	rec := fullRecord()
	cr := domain.NewConsentRecord(domain.ConsentGranted, time.Now())
	cr.Categories[domain.CategoryAd] = domain.ConsentDenied

	out := Anonymize(rec, cr)

	_, hasClick := out.Params[domain.ParamClickID]
	_, hasContent := out.Params[domain.ParamContent]
	_, hasTerm := out.Params[domain.ParamTerm]
	require.False(t, hasClick, "click_id должен быть удален")
	require.False(t, hasContent)
	require.False(t, hasTerm)

	// Кастомная кампания заменяется сентинелом
	assert.Equal(t, domain.CampaignNotProvided, out.Params[domain.ParamCampaign])

	// Medium был cpc (платный) — пара целиком уходит в сентинел отказа
	assert.Equal(t, domain.DeniedSentinel, out.Params[domain.ParamSource])
	assert.Equal(t, domain.DeniedSentinel, out.Params[domain.ParamMedium])

	// user_id не тронут: аналитика разрешена
	assert.Equal(t, "user-42", out.Params[domain.ParamUserID])
}

// TestAnonymize_AdDenied_ReservedCampaignKept: служебные кампании не трогаем.
func TestAnonymize_AdDenied_ReservedCampaignKept(t *testing.T) {
	rec := fullRecord()
	rec.Params[domain.ParamCampaign] = domain.CampaignOrganic
	rec.Params[domain.ParamMedium] = "organic"
	cr := domain.NewConsentRecord(domain.ConsentGranted, time.Now())
	cr.Categories[domain.CategoryAd] = domain.ConsentDenied

	out := Anonymize(rec, cr)

	assert.Equal(t, domain.CampaignOrganic, out.Params[domain.ParamCampaign])
	// organic — не платный канал, source остается
	assert.Equal(t, "google", out.Params[domain.ParamSource])
}

// TestAnonymize_InputNotMutated: вход остается нетронутым.
func TestAnonymize_InputNotMutated(t *testing.T) {
	rec := fullRecord()
	cr := domain.NewConsentRecord(domain.ConsentDenied, time.Now())

	_ = Anonymize(rec, cr)

	assert.Equal(t, "user-42", rec.Params[domain.ParamUserID])
	assert.Equal(t, "google", rec.Params[domain.ParamSource])
}

// TestAnonymize_FullGrant: при полном согласии хит не меняется.
func TestAnonymize_FullGrant(t *testing.T) {
	rec := fullRecord()
	cr := domain.NewConsentRecord(domain.ConsentGranted, time.Now())

	out := Anonymize(rec, cr)

	assert.Equal(t, rec.Params, out.Params)
}

func TestMaskUserAgent(t *testing.T) {
	masked := MaskUserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36")

	assert.NotContains(t, masked, "120")
	assert.NotContains(t, masked, "537")
	assert.NotContains(t, masked, "Linux x86_64")
	assert.Contains(t, masked, "Mozilla")
	assert.LessOrEqual(t, len(masked), 128)
}
