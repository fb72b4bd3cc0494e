package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/domain"
	"github.com/xela07ax/pixel-gateway/internal/journal"
)

const slotVersion = "1.0"

// Slot — персистентное представление очереди: единственная well-known запись
// в durable-хранилище. Единственный мутатор слота — эта очередь.
type Slot struct {
	Events    []domain.QueuedEvent `json:"events"`
	Timestamp time.Time            `json:"timestamp"`
	Version   string               `json:"version"`
}

func NewSlot() Slot {
	return Slot{Events: []domain.QueuedEvent{}, Version: slotVersion}
}

// Store — durable-хранилище слотов. ListVisitors нужен фоновой чистке,
// чтобы находить брошенные очереди и после рестарта.
type Store interface {
	Load(ctx context.Context, visitorID string) (Slot, error)
	Save(ctx context.Context, visitorID string, slot Slot) error
	Clear(ctx context.Context, visitorID string) error
	ListVisitors(ctx context.Context) ([]string, error)
}

// EnrichFunc прогоняет полезную нагрузку через LocationEnricher перед
// постановкой: отложенные события не должны остаться без гео-контекста.
type EnrichFunc func(ctx context.Context, rec domain.EventRecord) domain.EventRecord

// Options ограничивают рост очереди
type Options struct {
	MaxEvents int           // Кап по количеству (эвикция oldest-first)
	MaxBytes  int           // Кап по размеру сериализованного слота
	EventTTL  time.Duration // Возраст, после которого запись выбрасывается
	BatchSize int           // Порог немедленного авто-флаша
}

// Queue — ограниченная очередь отложенных (pre-consent) событий.
// Полный цикл read-modify-write против хранилища выполняется под мьютексом:
// ни enqueue, ни drain не перемежают свою запись с чужой.
type Queue struct {
	mu      sync.Mutex
	store   Store
	enrich  EnrichFunc
	opts    Options
	logger  *zap.Logger
	journal journal.Recorder       // Вытесненные события: статус DROPPED
	onFlush func(visitorID string) // Запрос батч-флаша при достижении порога
}

func New(store Store, enrich EnrichFunc, opts Options, logger *zap.Logger) *Queue {
	if enrich == nil {
		enrich = func(_ context.Context, rec domain.EventRecord) domain.EventRecord { return rec }
	}
	return &Queue{
		store:   store,
		enrich:  enrich,
		opts:    opts,
		logger:  logger.With(zap.String("mod", "queue")),
		journal: journal.NopRecorder{},
	}
}

// SetFlushFunc подключает получателя авто-флаша (оркестратор собирается позже очереди)
func (q *Queue) SetFlushFunc(f func(visitorID string)) {
	q.onFlush = f
}

// SetJournal подключает журнал доставки к эвикции
func (q *Queue) SetJournal(jr journal.Recorder) {
	if jr != nil {
		q.journal = jr
	}
}

// Enqueue обогащает хит, присваивает ему id и кладет в слот посетителя.
// Порядок фиксирован: enrich → id/timestamp → append → эвикция → persist → флаш-триггер.
func (q *Queue) Enqueue(ctx context.Context, visitorID string, rec domain.EventRecord) error {
	payload := q.enrich(ctx, rec)

	q.mu.Lock()

	slot, err := q.store.Load(ctx, visitorID)
	if err != nil {
		q.mu.Unlock()
		return err
	}

	now := time.Now()
	slot.Events = append(slot.Events, domain.QueuedEvent{
		ID:         uuid.New().String(),
		Payload:    payload,
		EnqueuedAt: now,
	})

	slot.Events = q.evict(visitorID, slot.Events, now)
	slot.Timestamp = now
	slot.Version = slotVersion

	if err := q.store.Save(ctx, visitorID, slot); err != nil {
		q.mu.Unlock()
		return err
	}

	needFlush := len(slot.Events) >= q.opts.BatchSize
	q.mu.Unlock()

	// Порог достигнут — немедленно просим батч-флаш, не дожидаясь других сигналов.
	// Вызов вне мьютекса: drain берет ту же критическую секцию.
	if needFlush && q.onFlush != nil {
		q.onFlush(visitorID)
	}

	return nil
}

// DrainAll атомарно забирает все события посетителя в порядке постановки.
// Хранилище очищается до начала replay: упавший replay не приведет к
// повторной отправке, но может потерять события (принятый at-most-once).
func (q *Queue) DrainAll(ctx context.Context, visitorID string) ([]domain.QueuedEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	slot, err := q.store.Load(ctx, visitorID)
	if err != nil {
		return nil, err
	}

	events := q.evict(visitorID, slot.Events, time.Now())

	if err := q.store.Clear(ctx, visitorID); err != nil {
		return nil, err
	}

	return events, nil
}

// Size возвращает текущее число отложенных событий посетителя
func (q *Queue) Size(ctx context.Context, visitorID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	slot, err := q.store.Load(ctx, visitorID)
	if err != nil {
		return 0
	}
	return len(slot.Events)
}

// Sweep повторно применяет эвикцию по возрасту и размеру ко всем известным
// слотам — ограничивает рост хранилища от брошенных сессий.
func (q *Queue) Sweep(ctx context.Context) {
	visitors, err := q.store.ListVisitors(ctx)
	if err != nil {
		q.logger.Warn("sweep: list visitors failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, visitorID := range visitors {
		q.mu.Lock()
		slot, err := q.store.Load(ctx, visitorID)
		if err != nil {
			q.mu.Unlock()
			continue
		}

		kept := q.evict(visitorID, slot.Events, now)
		switch {
		case len(kept) == 0:
			_ = q.store.Clear(ctx, visitorID)
		case len(kept) != len(slot.Events):
			slot.Events = kept
			slot.Timestamp = now
			_ = q.store.Save(ctx, visitorID, slot)
		}
		q.mu.Unlock()
	}
}

// StartSweeper запускает фоновую чистку: сразу на старте и далее по тикеру
func (q *Queue) StartSweeper(ctx context.Context, interval time.Duration) {
	q.Sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Sweep(ctx)
		}
	}
}

// evict выбрасывает протухшие записи, затем усекает слот oldest-first
// до капа по количеству и по байтам. Вытесненное фиксируется в журнале.
func (q *Queue) evict(visitorID string, events []domain.QueuedEvent, now time.Time) []domain.QueuedEvent {
	kept := events[:0:len(events)]
	var dropped []domain.QueuedEvent
	for _, e := range events {
		if q.opts.EventTTL > 0 && now.Sub(e.EnqueuedAt) > q.opts.EventTTL {
			dropped = append(dropped, e)
			continue
		}
		kept = append(kept, e)
	}

	if q.opts.MaxEvents > 0 && len(kept) > q.opts.MaxEvents {
		over := len(kept) - q.opts.MaxEvents
		q.logger.Warn("queue over capacity, dropping oldest", zap.Int("dropped", over))
		dropped = append(dropped, kept[:over]...)
		kept = kept[over:]
	}

	if q.opts.MaxBytes > 0 {
		for len(kept) > 1 && q.slotBytes(kept) > q.opts.MaxBytes {
			dropped = append(dropped, kept[0])
			kept = kept[1:]
		}
	}

	for _, e := range dropped {
		q.journal.Record(journal.Entry{
			TraceID:   e.Payload.TraceID,
			VisitorID: visitorID,
			EventName: e.Payload.Name,
			Decision:  string(domain.DecisionUnknown),
			Status:    journal.StatusDropped,
		})
	}

	return kept
}

func (q *Queue) slotBytes(events []domain.QueuedEvent) int {
	raw, err := json.Marshal(Slot{Events: events, Version: slotVersion})
	if err != nil {
		return 0
	}
	return len(raw)
}
