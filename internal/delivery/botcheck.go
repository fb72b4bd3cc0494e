package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Verdict — ответ внешнего валидатора ботов
type Verdict struct {
	Bot   bool    `json:"bot"`
	Score float64 `json:"score"` // 0..1, выше — подозрительнее
}

// BotChecker — пассивная проверка сигналов посетителя перед relay-checked отправкой
type BotChecker interface {
	Check(ctx context.Context, meta Meta) (Verdict, error)
}

// NullBotChecker — заглушка при выключенной проверке, решается при сборке
type NullBotChecker struct{}

func (NullBotChecker) Check(context.Context, Meta) (Verdict, error) {
	return Verdict{}, nil
}

// HTTPBotChecker опрашивает внешний validator-сервис
type HTTPBotChecker struct {
	url       string
	threshold float64 // Скор выше порога трактуем как бота даже без явного флага
	client    *http.Client
}

func NewHTTPBotChecker(url string, threshold float64) *HTTPBotChecker {
	return &HTTPBotChecker{
		url:       url,
		threshold: threshold,
		client:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *HTTPBotChecker) Check(ctx context.Context, meta Meta) (Verdict, error) {
	body, err := json.Marshal(map[string]string{
		"visitor_id": meta.VisitorID,
		"user_agent": meta.UserAgent,
		"ip":         meta.ClientIP,
	})
	if err != nil {
		return Verdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("bot check call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("bot check status %d", resp.StatusCode)
	}

	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Verdict{}, fmt.Errorf("bot check decode: %w", err)
	}

	if v.Score > c.threshold {
		v.Bot = true
	}

	return v, nil
}
