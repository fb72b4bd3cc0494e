package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// HTTPProvider опрашивает один геолокатор: GET {base}?ip={ip} → Location JSON.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (*Location, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("bad provider url: %w", err)
	}
	q := u.Query()
	q.Set("ip", ip)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo provider call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo provider status %d", resp.StatusCode)
	}

	var loc Location
	if err := json.NewDecoder(resp.Body).Decode(&loc); err != nil {
		return nil, fmt.Errorf("geo provider decode: %w", err)
	}

	return &loc, nil
}

// ChainProvider перебирает провайдеров по порядку до первого полного ответа.
type ChainProvider struct {
	providers []Provider
	logger    *zap.Logger
}

func NewChainProvider(logger *zap.Logger, providers ...Provider) *ChainProvider {
	return &ChainProvider{
		providers: providers,
		logger:    logger.With(zap.String("mod", "geo_chain")),
	}
}

func (c *ChainProvider) Lookup(ctx context.Context, ip string) (*Location, error) {
	var lastErr error
	for _, p := range c.providers {
		loc, err := p.Lookup(ctx, ip)
		if err != nil {
			lastErr = err
			c.logger.Debug("geo provider failed, trying next", zap.Error(err))
			continue
		}
		if loc.Complete() {
			return loc, nil
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("no provider returned complete coordinates")
}

// BuildProvider собирает цепочку из конфига; пустой список — NullProvider.
func BuildProvider(urls []string, timeout time.Duration, logger *zap.Logger) Provider {
	if len(urls) == 0 {
		return NullProvider{}
	}
	if len(urls) == 1 {
		return NewHTTPProvider(urls[0], timeout)
	}

	chain := make([]Provider, 0, len(urls))
	for _, u := range urls {
		chain = append(chain, NewHTTPProvider(u, timeout))
	}
	return NewChainProvider(logger, chain...)
}
