package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/domain"
)

func record(params domain.Params) domain.EventRecord {
	return domain.EventRecord{
		Name:      domain.EventPageView,
		Params:    params,
		VisitorID: "v1",
		Timestamp: time.Now(),
	}
}

func TestCoarseGeoFromTimezone(t *testing.T) {
	e := NewEnricher(NullProvider{}, nil, zap.NewNop())

	out := e.Enrich(context.Background(), record(domain.Params{"timezone": "Europe/Berlin"}), "", false)

	assert.Equal(t, "Europe", out.Params.GetString(domain.ParamGeoContinent))
	assert.Equal(t, "Germany", out.Params.GetString(domain.ParamGeoCountry))
	assert.Equal(t, "Berlin", out.Params.GetString(domain.ParamGeoCity))
	assert.NotContains(t, out.Params, domain.ParamGeoLatitude)
}

func TestCoarseGeoUnknownZoneFallsBackToIdentifier(t *testing.T) {
	e := NewEnricher(NullProvider{}, nil, zap.NewNop())

	// Зоны нет в таблице: континент и город берутся из идентификатора
	out := e.Enrich(context.Background(), record(domain.Params{"timezone": "America/Argentina_Buenos_Aires"}), "", false)

	assert.Equal(t, "America", out.Params.GetString(domain.ParamGeoContinent))
}

func TestEnrichDoesNotMutateInput(t *testing.T) {
	e := NewEnricher(NullProvider{}, nil, zap.NewNop())
	in := record(domain.Params{"timezone": "Europe/Paris"})

	_ = e.Enrich(context.Background(), in, "", false)

	assert.NotContains(t, in.Params, domain.ParamGeoContinent)
}

func TestPreciseGeoRequiresConsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Location{Latitude: 52.52, Longitude: 13.40, City: "Berlin", Country: "Germany"})
	}))
	defer srv.Close()

	e := NewEnricher(NewHTTPProvider(srv.URL, time.Second), nil, zap.NewNop())

	denied := e.Enrich(context.Background(), record(domain.Params{}), "203.0.113.7", false)
	assert.NotContains(t, denied.Params, domain.ParamGeoLatitude)

	granted := e.Enrich(context.Background(), record(domain.Params{}), "203.0.113.7", true)
	assert.Equal(t, 52.52, granted.Params[domain.ParamGeoLatitude])
	assert.Equal(t, "Berlin", granted.Params.GetString(domain.ParamGeoCity))
}

func TestProviderFailureLeavesCoarseFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := NewEnricher(NewHTTPProvider(srv.URL, time.Second), nil, zap.NewNop())

	out := e.Enrich(context.Background(), record(domain.Params{"timezone": "Europe/Rome"}), "203.0.113.7", true)

	// Сбой провайдера не виден снаружи: грубая локация на месте, точной нет
	assert.Equal(t, "Italy", out.Params.GetString(domain.ParamGeoCountry))
	assert.NotContains(t, out.Params, domain.ParamGeoLatitude)
}

func TestChainProviderFirstCompleteWins(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Неполный ответ: координат нет
		json.NewEncoder(w).Encode(Location{City: "Somewhere"})
	}))
	defer broken.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Location{Latitude: 48.85, Longitude: 2.35, City: "Paris"})
	}))
	defer good.Close()

	chain := NewChainProvider(zap.NewNop(),
		NewHTTPProvider(broken.URL, time.Second),
		NewHTTPProvider(good.URL, time.Second))

	loc, err := chain.Lookup(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, "Paris", loc.City)
	assert.True(t, loc.Complete())
}

// TestCoarseGeoMissingTimezoneSentinel: хит без таймзоны (или с мусором
// вместо нее) все равно несет локационный фолбэк — сентинел континента.
func TestCoarseGeoMissingTimezoneSentinel(t *testing.T) {
	e := NewEnricher(NullProvider{}, nil, zap.NewNop())

	for _, params := range []domain.Params{
		{},
		{"timezone": "garbage"},
	} {
		out := e.Enrich(context.Background(), record(params), "", false)

		assert.Equal(t, RegionUnresolved, out.Params.GetString(domain.ParamGeoContinent))
		assert.NotContains(t, out.Params, domain.ParamGeoLatitude)
		assert.NotContains(t, out.Params, domain.ParamGeoCountry)
	}
}
