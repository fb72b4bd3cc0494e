package journal

/*
Журнал доставки — асинхронная запись исхода каждого хита в Postgres.

- Non-blocking: хит попадает в журнал через неблокирующий канал,
  задержки БД не влияют на Response Time тракта.
- Batching: записи копятся в памяти и уходят пакетом (Bulk Insert)
  по таймеру или при достижении лимита (100 записей).
- Drain Pattern: при остановке буфер вычитывается до конца, финальный
  flush гарантирует отсутствие потерь при перезагрузке сервиса.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически уходят записи журнала
type StorageInterface interface {
	WriteBatch(ctx context.Context, entries []Entry) error
}

type Recorder interface {
	Record(entry Entry)
}

// NopRecorder — заглушка, когда журнал выключен конфигом
type NopRecorder struct{}

func (NopRecorder) Record(Entry) {}

type Journal struct {
	ch     chan Entry // Буфер для асинхронности
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup
	// Защита от записи после остановки
	isClosed int32
}

func New(repo StorageInterface, logger *zap.Logger) *Journal {
	return &Journal{
		ch:     make(chan Entry, 10000),
		repo:   repo,
		logger: logger.With(zap.String("mod", "journal")),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (j *Journal) Stop() {
	atomic.StoreInt32(&j.isClosed, 1)

	// Даем крошечную паузу, чтобы текущие Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Record(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&j.isClosed) == 1 {
		j.logger.Warn("journal entry dropped: journal is stopping", zap.String("id", entry.ID))
		return
	}

	// Load Shedding: при переполнении буфера запись уходит в обычный лог
	select {
	case j.ch <- entry:
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("visitor_id", entry.VisitorID),
			zap.String("trace_id", entry.TraceID),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Entry, 0, 100)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст на shutdown уже может быть закрыт
			if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
				j.logger.Error("journal flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case entry, ok := <-j.ch:
			if !ok {
				// Канал закрыт в Stop(): остатки уже вычитаны, финальный сброс
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
