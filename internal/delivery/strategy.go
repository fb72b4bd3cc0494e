package delivery

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/chacha20poly1305"
)

// Имена стратегий в порядке приоритета fallback-цепочки
const (
	StrategyDirect       = "direct"
	StrategyRelayChecked = "relay-checked"
	StrategyRelaySecure  = "relay-secure"
)

// Strategy — один способ доставить конверт до сборщика
type Strategy interface {
	Name() string
	Send(ctx context.Context, env Envelope, meta Meta) error
}

// postJSON — общий исполнитель POST для всех стратегий.
// 429 с Retry-After конвертируется в ThrottleError, чтобы ретраи уважали темп сервера.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("collector call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 5 * time.Second
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return &ThrottleError{RetryAfter: retryAfter, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector status %d", resp.StatusCode)
	}

	return nil
}

// newRelayToken выпускает короткоживущий anti-forgery токен для first-party релея
func newRelayToken(secret, origin string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"origin": origin,
		"iat":    now.Unix(),
		"exp":    now.Add(2 * time.Minute).Unix(),
	})
	return token.SignedString([]byte(secret))
}

// DirectStrategy — напрямую в сборщик: без посредника, без проверки ботов,
// без шифрования. Самый быстрый и самый слабый вариант.
type DirectStrategy struct {
	endpoint string
	client   *http.Client
}

func NewDirectStrategy(endpoint string) *DirectStrategy {
	return &DirectStrategy{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *DirectStrategy) Name() string { return StrategyDirect }

func (s *DirectStrategy) Send(ctx context.Context, env Envelope, meta Meta) error {
	if s.endpoint == "" {
		return fmt.Errorf("%w: direct endpoint url is empty", ErrMisconfigured)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	return postJSON(ctx, s.client, s.endpoint, body, map[string]string{
		"X-Simple-request": "1", // Маркер обхода релея
		"X-Trace-ID":       meta.TraceID,
	})
}

// RelayCheckedStrategy — через first-party релей с bot-валидацией перед
// пересылкой, но без шифрования полезной нагрузки: скорость + фильтр ботов.
type RelayCheckedStrategy struct {
	relayURL string
	origin   string
	secret   string
	checker  BotChecker
	client   *http.Client
}

func NewRelayCheckedStrategy(relayURL, origin, secret string, checker BotChecker) *RelayCheckedStrategy {
	if checker == nil {
		checker = NullBotChecker{}
	}
	return &RelayCheckedStrategy{
		relayURL: relayURL,
		origin:   origin,
		secret:   secret,
		checker:  checker,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *RelayCheckedStrategy) Name() string { return StrategyRelayChecked }

func (s *RelayCheckedStrategy) Send(ctx context.Context, env Envelope, meta Meta) error {
	if s.relayURL == "" {
		return fmt.Errorf("%w: relay url is empty", ErrMisconfigured)
	}

	verdict, err := s.checker.Check(ctx, meta)
	if err != nil {
		// Сбой валидатора прерывает отправку только этого хита
		return fmt.Errorf("%w: %v", ErrBotCheckFailed, err)
	}
	if verdict.Bot {
		return fmt.Errorf("%w: score %.2f", ErrBotDetected, verdict.Score)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	token, err := newRelayToken(s.secret, s.origin)
	if err != nil {
		return fmt.Errorf("relay token: %w", err)
	}

	return postJSON(ctx, s.client, s.relayURL, body, map[string]string{
		"X-Relay-Token": token,
		"X-Trace-ID":    meta.TraceID,
	})
}

// RelaySecureStrategy — дефолт: релей + шифрование полезной нагрузки
// (ChaCha20-Poly1305) + валидация origin по подписанному токену.
// Самая сильная гарантия, самая высокая цена.
type RelaySecureStrategy struct {
	relayURL string
	origin   string
	secret   string
	key      []byte // 32 байта
	client   *http.Client
}

func NewRelaySecureStrategy(relayURL, origin, secret string, key []byte) *RelaySecureStrategy {
	return &RelaySecureStrategy{
		relayURL: relayURL,
		origin:   origin,
		secret:   secret,
		key:      key,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *RelaySecureStrategy) Name() string { return StrategyRelaySecure }

func (s *RelaySecureStrategy) Send(ctx context.Context, env Envelope, meta Meta) error {
	if s.relayURL == "" {
		return fmt.Errorf("%w: relay url is empty", ErrMisconfigured)
	}
	if len(s.key) != chacha20poly1305.KeySize {
		return fmt.Errorf("%w: payload key must be %d bytes", ErrMisconfigured, chacha20poly1305.KeySize)
	}

	plain, err := json.Marshal(env)
	if err != nil {
		return err
	}

	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return fmt.Errorf("cipher init: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plain, nil)

	body, err := json.Marshal(map[string]string{
		"payload": base64.StdEncoding.EncodeToString(sealed),
		"nonce":   base64.StdEncoding.EncodeToString(nonce),
	})
	if err != nil {
		return err
	}

	token, err := newRelayToken(s.secret, s.origin)
	if err != nil {
		return fmt.Errorf("relay token: %w", err)
	}

	return postJSON(ctx, s.client, s.relayURL, body, map[string]string{
		"X-Relay-Token": token,
		"X-Origin":      s.origin,
		"X-Encrypted":   "1",
		"X-Trace-ID":    meta.TraceID,
	})
}
