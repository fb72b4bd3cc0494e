package consent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/domain"
	"github.com/xela07ax/pixel-gateway/internal/infra"
)

// Store — персистентный слот записи согласия
type Store interface {
	Load(ctx context.Context, visitorID string) (domain.ConsentRecord, bool, error)
	Save(ctx context.Context, visitorID string, rec domain.ConsentRecord) error
	Delete(ctx context.Context, visitorID string) error
}

// Drainer — очередь отложенных событий (нужны только drain и purge)
type Drainer interface {
	DrainAll(ctx context.Context, visitorID string) ([]domain.QueuedEvent, error)
}

// ReplayFunc прогоняет осушенные события через пайплайн доставки.
// Вызывается синхронно внутри перехода: каждое событие обрабатывается
// против свежей записи согласия, ровно один раз, в порядке постановки.
type ReplayFunc func(ctx context.Context, visitorID string, events []domain.QueuedEvent, rec domain.ConsentRecord)

// Broadcaster рассылает consent-updated заинтересованным слушателям.
// Выбирается при сборке; дефолт — молчаливая заглушка.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, message string)
}

type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(context.Context, string, string) {}

// RedisBroadcaster публикует сигналы в Pub/Sub канал
type RedisBroadcaster struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisBroadcaster(rdb *redis.Client, logger *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb, logger: logger}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, channel, message string) {
	if err := b.rdb.Publish(ctx, channel, message).Err(); err != nil {
		b.logger.Warn("broadcast failed", zap.String("chan", channel), zap.Error(err))
	}
}

// Manager — машина состояния согласия: UNKNOWN → GRANTED | DENIED.
// Оба исхода терминальны для гейтинга (после решения события больше не
// копятся), но внешний reset возвращает посетителя в UNKNOWN.
type Manager struct {
	mu        sync.Mutex // Сериализация переходов: re-entry во время перехода запрещен
	store     Store
	queue     Drainer
	replay    ReplayFunc
	broadcast Broadcaster
	logger    *zap.Logger

	// Таймаут неявного "treat as granted"; 0 — выключен
	timeout time.Duration
	timers  map[string]*time.Timer
}

func NewManager(store Store, queue Drainer, replay ReplayFunc, broadcast Broadcaster, timeout time.Duration, logger *zap.Logger) *Manager {
	if broadcast == nil {
		broadcast = NopBroadcaster{}
	}
	return &Manager{
		store:     store,
		queue:     queue,
		replay:    replay,
		broadcast: broadcast,
		logger:    logger.With(zap.String("mod", "consent")),
		timeout:   timeout,
		timers:    make(map[string]*time.Timer),
	}
}

// SetReplayFunc подключает получателя реплея (оркестратор собирается позже менеджера)
func (m *Manager) SetReplayFunc(f ReplayFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replay = f
}

// Decision возвращает текущее агрегатное состояние посетителя и его запись.
// Отсутствие записи — UNKNOWN.
func (m *Manager) Decision(ctx context.Context, visitorID string) (domain.ConsentDecision, domain.ConsentRecord, error) {
	rec, found, err := m.store.Load(ctx, visitorID)
	if err != nil {
		return domain.DecisionUnknown, domain.ConsentRecord{}, err
	}
	if !found {
		return domain.DecisionUnknown, domain.ConsentRecord{}, nil
	}
	return rec.Decision(), rec, nil
}

// Apply применяет явное решение посетителя (или callback CMP — у них один вход).
// Категории перекрывают базовый статус точечно; security_storage всегда GRANTED.
func (m *Manager) Apply(ctx context.Context, visitorID string, status domain.ConsentStatus, overrides map[string]domain.ConsentStatus) error {
	rec := domain.NewConsentRecord(status, time.Now())
	for cat, st := range overrides {
		if cat == domain.CategorySecurity {
			continue
		}
		if _, known := rec.Categories[cat]; known {
			rec.Categories[cat] = st
		}
	}
	return m.transition(ctx, visitorID, rec)
}

// transition — единственная точка входа в GRANTED/DENIED. Синхронно, в одном
// "ходу": persist → broadcast → drain → replay. Мьютекс гарантирует, что
// каждый отложенный хит обработается против актуальной записи и ровно один раз.
func (m *Manager) transition(ctx context.Context, visitorID string, rec domain.ConsentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(ctx, visitorID, rec)
}

func (m *Manager) transitionLocked(ctx context.Context, visitorID string, rec domain.ConsentRecord) error {
	m.stopTimerLocked(visitorID)

	if err := m.store.Save(ctx, visitorID, rec); err != nil {
		return fmt.Errorf("consent persist: %w", err)
	}

	decision := rec.Decision()
	m.broadcast.Broadcast(ctx, infra.RedisChanConsentUpdate,
		fmt.Sprintf("%s:%s", visitorID, decision))

	events, err := m.queue.DrainAll(ctx, visitorID)
	if err != nil {
		// Запись согласия уже сохранена; скважина осталась — осушим при следующем хите
		m.logger.Error("queue drain failed on consent transition",
			zap.String("visitor_id", visitorID), zap.Error(err))
		return nil
	}

	if len(events) > 0 && m.replay != nil {
		m.logger.Info("replaying queued events",
			zap.String("visitor_id", visitorID),
			zap.String("decision", string(decision)),
			zap.Int("count", len(events)))
		m.replay(ctx, visitorID, events, rec)
	}

	return nil
}

// Reset возвращает посетителя в UNKNOWN: запись стирается, очередь очищается,
// кэшированное решение на других инстансах сбрасывается сигналом.
func (m *Manager) Reset(ctx context.Context, visitorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopTimerLocked(visitorID)

	if err := m.store.Delete(ctx, visitorID); err != nil {
		return fmt.Errorf("consent reset: %w", err)
	}

	// Очередь чистится вместе с решением; события в никуда не реплеим
	if _, err := m.queue.DrainAll(ctx, visitorID); err != nil {
		m.logger.Warn("queue purge failed on consent reset",
			zap.String("visitor_id", visitorID), zap.Error(err))
	}

	m.broadcast.Broadcast(ctx, infra.RedisChanConsentReset, visitorID+":on")
	return nil
}

// EnsureTimeout взводит таймер неявного согласия при первом хите в UNKNOWN.
// Сработавший таймер эквивалентен явному accept.
func (m *Manager) EnsureTimeout(visitorID string) {
	if m.timeout <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.timers[visitorID]; exists {
		return
	}

	m.timers[visitorID] = time.AfterFunc(m.timeout, func() {
		m.defaultGrant(visitorID)
	})
}

// defaultGrant — срабатывание таймера молчания. Переход по таймауту легален
// только из UNKNOWN: если явное решение успело прийти — в том числе когда
// callback уже диспатчнут или таймер взведен по устаревшему чтению — неявный
// grant не применяется. Проверка и переход идут под общим мьютексом,
// перемежаться с Apply они не могут.
func (m *Manager) defaultGrant(visitorID string) {
	// Родительский контекст хита давно закрыт
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, visitorID)

	rec, found, err := m.store.Load(ctx, visitorID)
	if err != nil {
		m.logger.Error("default grant skipped: consent lookup failed",
			zap.String("visitor_id", visitorID), zap.Error(err))
		return
	}
	if found && rec.Decision() != domain.DecisionUnknown {
		return
	}

	m.logger.Info("consent timeout fired, applying default grant",
		zap.String("visitor_id", visitorID))
	if err := m.transitionLocked(ctx, visitorID, domain.NewConsentRecord(domain.ConsentGranted, time.Now())); err != nil {
		m.logger.Error("default grant failed", zap.String("visitor_id", visitorID), zap.Error(err))
	}
}

func (m *Manager) stopTimerLocked(visitorID string) {
	if t, ok := m.timers[visitorID]; ok {
		t.Stop()
		delete(m.timers, visitorID)
	}
}

// StartResetListener слушает внешние сигналы сброса согласия (Console API)
func (m *Manager) StartResetListener(ctx context.Context, rdb *redis.Client) {
	infra.ListenStateResilient(ctx, rdb, m.logger, infra.RedisChanConsentReset,
		func() error { return nil },
		func(visitorID string, _ bool) {
			// Слот уже стерт публикующей стороной; гасим локальный таймер
			m.mu.Lock()
			m.stopTimerLocked(visitorID)
			m.mu.Unlock()
		},
	)
}
