package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliableStrategy оборачивает стратегию в контур устойчивости:
// лимитер темпа -> предохранитель -> ретраи с уважением Retry-After.
type ReliableStrategy struct {
	next    Strategy
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	opts    ReliabilityOptions
	onState func(name string, open bool)
}

type ReliabilityOptions struct {
	CBMaxFailures uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	RateLimit     rate.Limit
	RateBurst     int
	CallTimeout   time.Duration
	Attempts      uint
}

func DefaultReliabilityOptions() ReliabilityOptions {
	return ReliabilityOptions{
		CBMaxFailures: 5,
		CBInterval:    5 * time.Second,
		CBTimeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		RateLimit:     rate.Limit(100),
		RateBurst:     20,
		CallTimeout:   10 * time.Second,
		Attempts:      3,
	}
}

// NewReliableStrategy строит контур вокруг next. onState дергается при смене
// состояния предохранителя (для метрик), может быть nil.
func NewReliableStrategy(next Strategy, opts ReliabilityOptions, onState func(name string, open bool)) *ReliableStrategy {
	w := &ReliableStrategy{
		next:    next,
		limiter: rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		opts:    opts,
		onState: onState,
	}

	// Настройка предохранителя
	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "delivery-" + next.Name(),
		MaxRequests: 3,
		Interval:    opts.CBInterval,
		Timeout:     opts.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > opts.CBMaxFailures
		},
		// Вердикт бот-чека — здоровье хита, а не канала: предохранитель не трогаем
		IsSuccessful: func(err error) bool {
			return err == nil || terminal(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if w.onState != nil {
				w.onState(next.Name(), to == gobreaker.StateOpen)
			}
		},
	})

	return w
}

func (w *ReliableStrategy) Name() string { return w.next.Name() }

func (w *ReliableStrategy) Send(ctx context.Context, env Envelope, meta Meta) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.opts.Attempts),
			// Наружу уходит исходная ошибка, а не обертка со всеми попытками
			retry.LastErrorOnly(true),
			// Ретраить вердикт бот-чека бессмысленно
			retry.RetryIf(func(err error) bool { return !terminal(err) }),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Сервер назвал свой темп — уважаем Retry-After
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.opts.CallTimeout)
			defer cancel()

			return w.next.Send(tCtx, env, meta)
		})

		return nil, retryErr
	})

	return err
}
