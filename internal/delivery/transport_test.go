package delivery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/xela07ax/pixel-gateway/internal/domain"
	"github.com/xela07ax/pixel-gateway/internal/journal"
	"github.com/xela07ax/pixel-gateway/internal/metrics"
)

// fakeStrategy считает вызовы и возвращает заготовленную ошибку
type fakeStrategy struct {
	name  string
	err   error
	calls int32
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Send(ctx context.Context, env Envelope, meta Meta) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func testEnvelope() Envelope {
	return NewEnvelope([]EnvelopeEvent{{
		Name:           domain.EventPageView,
		Params:         domain.Params{"page_location": "/pricing"},
		IsCompleteData: true,
		Timestamp:      time.Now(),
	}}, domain.MinimalConsent{}, time.Now())
}

func TestTransportFallbackChain(t *testing.T) {
	primary := &fakeStrategy{name: StrategyDirect, err: errors.New("connection refused")}
	backup := &fakeStrategy{name: StrategyRelaySecure}

	tr := NewTransport([]Strategy{primary, backup}, 10, metrics.New(nil), nil, zap.NewNop())

	err := tr.Send(context.Background(), testEnvelope(), Meta{VisitorID: "v1"})
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&primary.calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&backup.calls))
}

func TestTransportBotVerdictStopsChain(t *testing.T) {
	// Вердикт относится к хиту: вторая стратегия пробоваться не должна
	checked := &fakeStrategy{name: StrategyRelayChecked, err: fmt.Errorf("%w: score 0.95", ErrBotDetected)}
	backup := &fakeStrategy{name: StrategyDirect}

	tr := NewTransport([]Strategy{checked, backup}, 10, metrics.New(nil), nil, zap.NewNop())

	err := tr.Send(context.Background(), testEnvelope(), Meta{VisitorID: "v1"})
	require.ErrorIs(t, err, ErrBotDetected)
	assert.Zero(t, atomic.LoadInt32(&backup.calls))
}

func TestTransportAllStrategiesFail(t *testing.T) {
	a := &fakeStrategy{name: StrategyDirect, err: errors.New("boom a")}
	b := &fakeStrategy{name: StrategyRelaySecure, err: errors.New("boom b")}

	tr := NewTransport([]Strategy{a, b}, 10, metrics.New(nil), nil, zap.NewNop())

	err := tr.Send(context.Background(), testEnvelope(), Meta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom b") // Наружу уходит последняя ошибка
}

func TestOrderChain(t *testing.T) {
	byName := map[string]Strategy{
		StrategyDirect:       &fakeStrategy{name: StrategyDirect},
		StrategyRelayChecked: &fakeStrategy{name: StrategyRelayChecked},
		StrategyRelaySecure:  &fakeStrategy{name: StrategyRelaySecure},
	}

	chain := OrderChain(StrategyRelaySecure, byName)
	require.Len(t, chain, 3)
	assert.Equal(t, StrategyRelaySecure, chain[0].Name())
	assert.Equal(t, StrategyDirect, chain[1].Name())
	assert.Equal(t, StrategyRelayChecked, chain[2].Name())
}

func TestReliableDrainOnStop(t *testing.T) {
	slow := &fakeStrategy{name: StrategyDirect}
	tr := NewTransport([]Strategy{slow}, 100, metrics.New(nil), nil, zap.NewNop())
	tr.Start()

	for i := 0; i < 50; i++ {
		tr.SendReliable(testEnvelope(), Meta{VisitorID: "v1"})
	}
	tr.Stop()

	// Stop обязан дождаться вычитки буфера до конца
	assert.EqualValues(t, 50, atomic.LoadInt32(&slow.calls))
}

func TestDirectStrategyWireFormat(t *testing.T) {
	var mu sync.Mutex
	var gotHeader string
	var gotEnv Envelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotHeader = r.Header.Get("X-Simple-request")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotEnv))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDirectStrategy(srv.URL)
	env := testEnvelope()
	require.NoError(t, s.Send(context.Background(), env, Meta{TraceID: "t-1"}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "1", gotHeader)
	assert.False(t, gotEnv.Batch) // Одно событие — не батч
	require.Len(t, gotEnv.Events, 1)
	assert.Equal(t, domain.EventPageView, gotEnv.Events[0].Name)
}

func TestDirectStrategyThrottle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewDirectStrategy(srv.URL)
	err := s.Send(context.Background(), testEnvelope(), Meta{})

	var tErr *ThrottleError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, 7*time.Second, tErr.RetryAfter)
}

func TestRelayCheckedAbortsOnBot(t *testing.T) {
	botSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Verdict{Bot: true, Score: 0.98})
	}))
	defer botSrv.Close()

	var relayed int32
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&relayed, 1)
	}))
	defer relaySrv.Close()

	s := NewRelayCheckedStrategy(relaySrv.URL, "shop.example", "secret", NewHTTPBotChecker(botSrv.URL, 0.7))
	err := s.Send(context.Background(), testEnvelope(), Meta{VisitorID: "v1", UserAgent: "curl/8.0"})

	require.ErrorIs(t, err, ErrBotDetected)
	assert.Zero(t, atomic.LoadInt32(&relayed), "бот не должен дойти до релея")
}

func TestRelayCheckedBotServiceDown(t *testing.T) {
	s := NewRelayCheckedStrategy("http://relay.local", "shop.example", "secret",
		NewHTTPBotChecker("http://127.0.0.1:1", 0.7))
	err := s.Send(context.Background(), testEnvelope(), Meta{})
	require.ErrorIs(t, err, ErrBotCheckFailed)
}

func TestRelaySecureRoundTrip(t *testing.T) {
	key := make([]byte, chacha20poly1305.KeySize)
	for i := range key {
		key[i] = byte(i)
	}

	var mu sync.Mutex
	var gotToken string
	var gotEnv Envelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotToken = r.Header.Get("X-Relay-Token")

		var body struct {
			Payload string `json:"payload"`
			Nonce   string `json:"nonce"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		sealed, err := base64.StdEncoding.DecodeString(body.Payload)
		require.NoError(t, err)
		nonce, err := base64.StdEncoding.DecodeString(body.Nonce)
		require.NoError(t, err)

		aead, err := chacha20poly1305.New(key)
		require.NoError(t, err)
		plain, err := aead.Open(nil, nonce, sealed, nil)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(plain, &gotEnv))

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewRelaySecureStrategy(srv.URL, "shop.example", "relay-secret", key)
	env := testEnvelope()
	require.NoError(t, s.Send(context.Background(), env, Meta{TraceID: "t-2"}))

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, gotToken)
	require.Len(t, gotEnv.Events, 1)
	assert.Equal(t, env.Events[0].Name, gotEnv.Events[0].Name)
}

func TestRelaySecureBadKey(t *testing.T) {
	s := NewRelaySecureStrategy("http://relay.local", "shop.example", "secret", []byte("short"))
	err := s.Send(context.Background(), testEnvelope(), Meta{})
	require.ErrorIs(t, err, ErrMisconfigured)
}

func TestReliableStrategyRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	opts := DefaultReliabilityOptions()
	opts.CallTimeout = 2 * time.Second
	w := NewReliableStrategy(NewDirectStrategy(srv.URL), opts, nil)

	require.NoError(t, w.Send(context.Background(), testEnvelope(), Meta{}))
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestReliableStrategyNoRetryOnTerminal(t *testing.T) {
	inner := &fakeStrategy{name: StrategyRelayChecked, err: fmt.Errorf("%w: score 1.0", ErrBotDetected)}
	w := NewReliableStrategy(inner, DefaultReliabilityOptions(), nil)

	err := w.Send(context.Background(), testEnvelope(), Meta{})
	require.ErrorIs(t, err, ErrBotDetected)
	assert.EqualValues(t, 1, atomic.LoadInt32(&inner.calls))
}

// memRecorder собирает записи журнала в память
type memRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *memRecorder) Record(e journal.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *memRecorder) all() []journal.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]journal.Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// TestTransportJournalsWinningStrategy: журнал несет имя сработавшей
// стратегии, даже когда доставил fallback.
func TestTransportJournalsWinningStrategy(t *testing.T) {
	primary := &fakeStrategy{name: StrategyDirect, err: errors.New("connection refused")}
	backup := &fakeStrategy{name: StrategyRelaySecure}
	jr := &memRecorder{}

	tr := NewTransport([]Strategy{primary, backup}, 10, metrics.New(nil), jr, zap.NewNop())
	require.NoError(t, tr.Send(context.Background(), testEnvelope(),
		Meta{VisitorID: "v-1", TraceID: "t-1", Decision: "GRANTED"}))

	entries := jr.all()
	require.Len(t, entries, 1)
	assert.Equal(t, StrategyRelaySecure, entries[0].Strategy)
	assert.Equal(t, journal.StatusSent, entries[0].Status)
	assert.Equal(t, "GRANTED", entries[0].Decision)
	assert.Equal(t, ModeSync, entries[0].Mode)
	assert.Empty(t, entries[0].Error)
}

// TestTransportJournalsFailure: полный отказ цепочки — статус FAILED и
// текст последней ошибки.
func TestTransportJournalsFailure(t *testing.T) {
	a := &fakeStrategy{name: StrategyDirect, err: errors.New("timeout")}
	b := &fakeStrategy{name: StrategyRelaySecure, err: errors.New("relay down")}
	jr := &memRecorder{}

	tr := NewTransport([]Strategy{a, b}, 10, metrics.New(nil), jr, zap.NewNop())
	require.Error(t, tr.Send(context.Background(), testEnvelope(), Meta{VisitorID: "v-1"}))

	entries := jr.all()
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Strategy, "победителя нет")
	assert.Equal(t, journal.StatusFailed, entries[0].Status)
	assert.Equal(t, "relay down", entries[0].Error)
}
