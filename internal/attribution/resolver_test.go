package attribution

import (
	"testing"

	"github.com/xela07ax/pixel-gateway/internal/domain"
)

// TestResolve_ClickIDAlwaysWins проверяет, что click-id перекрывает любые UTM.
func TestResolve_ClickIDAlwaysWins(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"только click-id", Input{ClickID: "abc123", IsNewSession: true}},
		{"click-id против UTM", Input{
			ClickID:      "abc123",
			UTM:          domain.UTM{Source: "newsletter", Medium: "email", Campaign: "spring"},
			IsNewSession: true,
		}},
		{"click-id против реферера", Input{
			ClickID:        "xyz",
			Referrer:       "https://duckduckgo.com/",
			ReferrerDomain: "duckduckgo.com",
			IsNewSession:   true,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Resolve(tt.in)
			if rec.Source != domain.PaidSource || rec.Medium != domain.PaidMedium {
				t.Errorf("ожидалась пара %s/%s, получено %s/%s",
					domain.PaidSource, domain.PaidMedium, rec.Source, rec.Medium)
			}
			if rec.Campaign != domain.CampaignNotSet {
				t.Errorf("кампания должна быть %q, получено %q", domain.CampaignNotSet, rec.Campaign)
			}
		})
	}
}

// TestResolve_OrganicSearch проверяет классификацию поисковиков без платного маркера.
func TestResolve_OrganicSearch(t *testing.T) {
	engines := []struct {
		domain string
		source string
	}{
		{"www.google.com", "google"},
		{"google.de", "google"},
		{"bing.com", "bing"},
		{"duckduckgo.com", "duckduckgo"},
		{"yandex.ru", "yandex"},
	}

	for _, e := range engines {
		rec := Resolve(Input{
			Referrer:       "https://" + e.domain + "/search?q=test",
			ReferrerDomain: e.domain,
			IsNewSession:   true,
		})
		if rec.Source != e.source {
			t.Errorf("%s: ожидался source %q, получен %q", e.domain, e.source, rec.Source)
		}
		if rec.Medium != "organic" {
			t.Errorf("%s: ожидался medium organic, получен %q", e.domain, rec.Medium)
		}
		if rec.Campaign != domain.CampaignOrganic {
			t.Errorf("%s: ожидалась кампания %q, получена %q", e.domain, domain.CampaignOrganic, rec.Campaign)
		}
	}
}

// TestResolve_PaidMarkerInReferrer: поисковик + gclid в URL = cpc, не organic.
func TestResolve_PaidMarkerInReferrer(t *testing.T) {
	rec := Resolve(Input{
		Referrer:       "https://www.google.com/aclk?gclid=EAIaIQ",
		ReferrerDomain: "www.google.com",
		IsNewSession:   true,
	})
	if rec.Medium != domain.PaidMedium {
		t.Errorf("ожидался medium %q, получен %q", domain.PaidMedium, rec.Medium)
	}
}

func TestResolve_Social(t *testing.T) {
	rec := Resolve(Input{
		Referrer:       "https://x.com/somepost",
		ReferrerDomain: "x.com",
		IsNewSession:   true,
	})
	if rec.Source != "twitter" || rec.Medium != "social" {
		t.Errorf("ожидалось twitter/social, получено %s/%s", rec.Source, rec.Medium)
	}
}

func TestResolve_GenericReferral(t *testing.T) {
	rec := Resolve(Input{
		Referrer:       "https://blog.example.net/post",
		ReferrerDomain: "blog.example.net",
		IsNewSession:   true,
	})
	if rec.Medium != "referral" {
		t.Errorf("ожидался medium referral, получен %q", rec.Medium)
	}
	if rec.Source != "blog.example.net" {
		t.Errorf("source должен быть доменом реферера, получен %q", rec.Source)
	}
	if rec.Campaign != domain.CampaignReferral {
		t.Errorf("ожидалась кампания %q, получена %q", domain.CampaignReferral, rec.Campaign)
	}
}

// TestResolve_SameSiteIgnored: same-site реферер отсекается целиком.
func TestResolve_SameSiteIgnored(t *testing.T) {
	rec := Resolve(Input{
		Referrer:               "https://shop.example.com/cart",
		ReferrerDomain:         "shop.example.com",
		SiteDomain:             "example.com",
		IgnoreSameSiteReferrer: true,
		IsNewSession:           true,
	})
	if rec.Source != domain.SourceDirect || rec.Medium != domain.MediumNone {
		t.Errorf("same-site должен дать (direct)/(none), получено %s/%s", rec.Source, rec.Medium)
	}
}

// TestResolve_InternalVsDirect: продолжающаяся сессия без сигналов — (internal).
func TestResolve_InternalVsDirect(t *testing.T) {
	cont := Resolve(Input{IsNewSession: false})
	if cont.Source != domain.SourceInternal {
		t.Errorf("продолжающаяся сессия: ожидался %q, получен %q", domain.SourceInternal, cont.Source)
	}

	fresh := Resolve(Input{IsNewSession: true})
	if fresh.Source != domain.SourceDirect || fresh.Medium != domain.MediumNone {
		t.Errorf("новая сессия: ожидалось (direct)/(none), получено %s/%s", fresh.Source, fresh.Medium)
	}
}

// TestResolve_Idempotent: чистая функция, без скрытого состояния.
func TestResolve_Idempotent(t *testing.T) {
	in := Input{
		UTM:            domain.UTM{Source: "newsletter", Medium: "email"},
		Referrer:       "https://www.google.com/",
		ReferrerDomain: "www.google.com",
		IsNewSession:   true,
	}
	first := Resolve(in)
	for i := 0; i < 5; i++ {
		if got := Resolve(in); got != first {
			t.Fatalf("повторный вызов дал другой результат: %+v != %+v", got, first)
		}
	}
}

func TestShouldPersist(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		rec  domain.AttributionRecord
		want bool
	}{
		{"новая сессия", Input{IsNewSession: true}, domain.AttributionRecord{Source: domain.SourceDirect}, true},
		{"есть click-id", Input{ClickID: "x"}, domain.AttributionRecord{Source: domain.PaidSource}, true},
		{"есть UTM", Input{UTM: domain.UTM{Source: "nl"}}, domain.AttributionRecord{Source: "nl"}, true},
		{"внешний источник", Input{}, domain.AttributionRecord{Source: "bing"}, true},
		{"внутренняя навигация", Input{}, domain.AttributionRecord{Source: domain.SourceInternal}, false},
		{"direct в продолжающейся", Input{}, domain.AttributionRecord{Source: domain.SourceDirect}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldPersist(tt.in, tt.rec); got != tt.want {
				t.Errorf("ожидалось %v, получено %v", tt.want, got)
			}
		})
	}
}
