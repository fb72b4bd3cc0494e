package delivery

/*
Файл transport.go реализует исходящий контур доставки событий.

Ключевые особенности архитектуры:
- Fallback-цепочка: заказанная стратегия пробуется первой, при отказе
  перебираются остальные в порядке приоритета. Терминальные исходы
  (вердикт бот-чека) цепочку обрывают.
- Reliable Mode: критические события уходят через неблокирующий буфер
  и фоновый воркер, так что задержки сети не влияют на Response Time.
- Drain Pattern & Graceful Shutdown: при остановке буфер вычитывается
  до конца. С помощью sync.WaitGroup и закрытия канала гарантируется
  Final Flush — отсутствие потерь данных при перезагрузке сервиса.
*/

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/journal"
	"github.com/xela07ax/pixel-gateway/internal/metrics"
)

const (
	ModeSync     = "sync"
	ModeReliable = "reliable"
)

// Sender — то, что видит оркестратор: одна точка входа в доставку
type Sender interface {
	Send(ctx context.Context, env Envelope, meta Meta) error
	SendReliable(env Envelope, meta Meta)
}

type job struct {
	env  Envelope
	meta Meta
}

type Transport struct {
	chain   []Strategy // Упорядоченная fallback-цепочка
	logger  *zap.Logger
	m       *metrics.Metrics
	journal journal.Recorder // Исход каждой отправки: сработавшая стратегия, ошибка

	ch chan job // Буфер для асинхронности
	wg sync.WaitGroup
	// Защита от записи в закрытый канал, если кто-то вызовет SendReliable после остановки
	isClosed int32
}

// OrderChain строит цепочку: заказанная стратегия первой, затем остальные
// в порядке приоритета direct > relay-checked > relay-secure.
func OrderChain(primary string, byName map[string]Strategy) []Strategy {
	precedence := []string{StrategyDirect, StrategyRelayChecked, StrategyRelaySecure}

	chain := make([]Strategy, 0, len(byName))
	if s, ok := byName[primary]; ok {
		chain = append(chain, s)
	}
	for _, name := range precedence {
		if name == primary {
			continue
		}
		if s, ok := byName[name]; ok {
			chain = append(chain, s)
		}
	}
	return chain
}

func NewTransport(chain []Strategy, bufferSize int, m *metrics.Metrics, jr journal.Recorder, logger *zap.Logger) *Transport {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if jr == nil {
		jr = journal.NopRecorder{}
	}
	return &Transport{
		chain:   chain,
		logger:  logger.With(zap.String("mod", "transport")),
		m:       m,
		journal: jr,
		ch:      make(chan job, bufferSize),
	}
}

func (t *Transport) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер дошлёт остатки буфера.
func (t *Transport) Stop() {
	// 1. Сначала ставим флаг
	atomic.StoreInt32(&t.isClosed, 1)

	// 2. Даем крошечную паузу, чтобы текущие SendReliable успели проскочить
	time.Sleep(10 * time.Millisecond)

	// 3. Закрываем (Drain Pattern). Воркер завершается только через закрытие канала.
	t.logger.Info("stopping transport: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("transport stopped gracefully")
}

// Send гонит конверт по fallback-цепочке синхронно
func (t *Transport) Send(ctx context.Context, env Envelope, meta Meta) error {
	return t.send(ctx, env, meta, ModeSync)
}

// SendReliable ставит конверт в буфер фоновой доставки. Вызов не блокируется:
// при переполнении буфера событие уходит синхронно в вызывающей горутине —
// деградация по latency вместо потери данных.
func (t *Transport) SendReliable(env Envelope, meta Meta) {
	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("reliable send after stop, delivering inline",
			zap.String("visitor_id", meta.VisitorID))
		t.deliverInline(env, meta)
		return
	}

	select {
	case t.ch <- job{env: env, meta: meta}:
		t.m.ReliableBufferFill.Set(float64(len(t.ch)))
	default:
		// Backpressure: буфер забит, не теряем хит
		t.logger.Warn("reliable_buffer_overflow, delivering inline",
			zap.String("visitor_id", meta.VisitorID),
			zap.String("trace_id", meta.TraceID),
		)
		t.deliverInline(env, meta)
	}
}

func (t *Transport) deliverInline(env Envelope, meta Meta) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := t.send(ctx, env, meta, ModeReliable); err != nil {
		t.logger.Error("inline delivery failed", zap.Error(err),
			zap.String("visitor_id", meta.VisitorID))
	}
}

func (t *Transport) worker() {
	defer t.wg.Done()

	for j := range t.ch {
		t.m.ReliableBufferFill.Set(float64(len(t.ch)))

		// Background: основной контекст на shutdown уже может быть закрыт
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := t.send(ctx, j.env, j.meta, ModeReliable); err != nil {
			t.logger.Error("reliable delivery failed", zap.Error(err),
				zap.String("visitor_id", j.meta.VisitorID),
				zap.String("trace_id", j.meta.TraceID),
			)
		}
		cancel()
	}
	t.logger.Info("transport worker finished")
}

func (t *Transport) send(ctx context.Context, env Envelope, meta Meta, mode string) error {
	if len(t.chain) == 0 {
		return ErrMisconfigured
	}

	start := time.Now()
	winner, err := t.trySend(ctx, env, meta, mode)
	t.record(env, meta, mode, winner, time.Since(start), err)
	return err
}

// trySend перебирает цепочку и возвращает имя стратегии, на которой
// перебор остановился (успех или терминальный вердикт; пусто, если
// отказали все).
func (t *Transport) trySend(ctx context.Context, env Envelope, meta Meta, mode string) (string, error) {
	var lastErr error
	for _, s := range t.chain {
		start := time.Now()
		err := s.Send(ctx, env, meta)
		status := "ok"
		if err != nil {
			status = "error"
		}
		t.m.DeliveryDuration.WithLabelValues(s.Name(), mode, status).
			Observe(time.Since(start).Seconds())

		if err == nil {
			if s != t.chain[0] {
				t.logger.Debug("delivered via fallback",
					zap.String("strategy", s.Name()),
					zap.String("trace_id", meta.TraceID))
			}
			return s.Name(), nil
		}

		t.m.DeliveryErrors.WithLabelValues(errorType(err)).Inc()

		if terminal(err) {
			// Вердикт валидатора относится к хиту, а не к каналу —
			// другая стратегия его не изменит
			return s.Name(), err
		}

		t.logger.Warn("strategy failed, trying next",
			zap.String("strategy", s.Name()),
			zap.Error(err))
		lastErr = err
	}

	return "", lastErr
}

// record фиксирует исход отправки в журнале: по строке на событие конверта
func (t *Transport) record(env Envelope, meta Meta, mode, strategy string, took time.Duration, err error) {
	status := journal.StatusSent
	errText := ""
	if err != nil {
		status = journal.StatusFailed
		errText = err.Error()
	}
	for _, e := range env.Events {
		t.journal.Record(journal.Entry{
			TraceID:    meta.TraceID,
			VisitorID:  meta.VisitorID,
			EventName:  e.Name,
			Strategy:   strategy,
			Mode:       mode,
			Decision:   meta.Decision,
			Status:     status,
			Complete:   e.IsCompleteData,
			DurationMs: took.Milliseconds(),
			Error:      errText,
		})
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrBotDetected):
		return "bot_detected"
	case errors.Is(err, ErrBotCheckFailed):
		return "bot_check_failed"
	case errors.Is(err, ErrMisconfigured):
		return "misconfigured"
	default:
		return "transport"
	}
}
