package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/domain"
	"github.com/xela07ax/pixel-gateway/internal/infra"
)

const (
	// Окно неактивности: хит позже этого порога открывает новую сессию
	sessionWindow = 30 * time.Minute
	// Сколько помним посетителя (для first_visit и счетчика сессий)
	visitorExpiry = 730 * 24 * time.Hour
)

// SessionRepo — сессионное хранилище. Ядро пайплайна читает SessionContext
// как входные данные; единственный мутатор слота — этот репозиторий.
type SessionRepo struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewSessionRepo(rdb *redis.Client, logger *zap.Logger) *SessionRepo {
	return &SessionRepo{rdb: rdb, logger: logger.With(zap.String("mod", "session_repo"))}
}

// Touch возвращает актуальный контекст визита, открывая новую сессию,
// если посетитель не встречался или вышел за окно неактивности.
func (r *SessionRepo) Touch(ctx context.Context, visitorID string, now time.Time) (domain.SessionContext, error) {
	key := infra.SessionSlotKey(visitorID)

	var sess domain.SessionContext

	raw, err := r.rdb.Get(ctx, key).Result()
	switch {
	case err == redis.Nil:
		// Первый визит
		sess = domain.SessionContext{
			SessionID:    uuid.New().String(),
			StartTime:    now,
			IsNewSession: true,
			IsFirstVisit: true,
			SessionCount: 1,
			LastSeen:     now,
		}
	case err != nil:
		return domain.SessionContext{}, fmt.Errorf("session slot read: %w", err)
	default:
		if jsonErr := json.Unmarshal([]byte(raw), &sess); jsonErr != nil {
			r.logger.Warn("corrupted session slot discarded",
				zap.String("visitor_id", visitorID), zap.Error(jsonErr))
			sess = domain.SessionContext{SessionCount: 0}
		}

		if now.Sub(sess.LastSeen) > sessionWindow || sess.SessionID == "" {
			// Новая сессия уже знакомого посетителя
			sess = domain.SessionContext{
				SessionID:    uuid.New().String(),
				StartTime:    now,
				IsNewSession: true,
				IsFirstVisit: false,
				SessionCount: sess.SessionCount + 1,
				LastSeen:     now,
			}
		} else {
			sess.IsNewSession = false
			sess.IsFirstVisit = false
			sess.LastSeen = now
		}
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return domain.SessionContext{}, fmt.Errorf("session slot marshal: %w", err)
	}
	if err := r.rdb.Set(ctx, key, data, visitorExpiry).Err(); err != nil {
		return domain.SessionContext{}, fmt.Errorf("session slot write: %w", err)
	}

	return sess, nil
}
