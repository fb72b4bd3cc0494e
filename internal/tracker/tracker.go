package tracker

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/attribution"
	"github.com/xela07ax/pixel-gateway/internal/consent"
	"github.com/xela07ax/pixel-gateway/internal/delivery"
	"github.com/xela07ax/pixel-gateway/internal/domain"
	"github.com/xela07ax/pixel-gateway/internal/geo"
	"github.com/xela07ax/pixel-gateway/internal/journal"
	"github.com/xela07ax/pixel-gateway/internal/metrics"
	"github.com/xela07ax/pixel-gateway/internal/queue"
)

// SessionStore выдает и продлевает сессионный контекст посетителя
type SessionStore interface {
	Touch(ctx context.Context, visitorID string, now time.Time) (domain.SessionContext, error)
}

// AttributionStore хранит "последнее касание" для конверсионных событий
type AttributionStore interface {
	Load(ctx context.Context, visitorID string) (domain.AttributionRecord, bool, error)
	Save(ctx context.Context, visitorID string, rec domain.AttributionRecord) error
}

// Request — сырое взаимодействие, как его принял HTTP-тракт
type Request struct {
	VisitorID string
	TraceID   string
	Name      string
	Params    domain.Params
	Referrer  string
	ClientIP  string
	UserAgent string
}

type Options struct {
	SiteDomain             string
	IgnoreSameSiteReferrer bool
	BatchSize              int // Размер порции при replay/flush
}

// Tracker — оркестратор тракта: сессия → атрибуция → гео → ворота согласия →
// очередь или анонимизация+доставка.
type Tracker struct {
	consent     *consent.Manager
	queue       *queue.Queue
	sessions    SessionStore
	attribution AttributionStore
	enricher    *geo.Enricher
	transport   delivery.Sender
	journal     journal.Recorder
	m           *metrics.Metrics
	logger      *zap.Logger
	opts        Options
}

func New(
	cm *consent.Manager,
	q *queue.Queue,
	sessions SessionStore,
	attrStore AttributionStore,
	enricher *geo.Enricher,
	transport delivery.Sender,
	jr journal.Recorder,
	m *metrics.Metrics,
	opts Options,
	logger *zap.Logger,
) *Tracker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 35
	}
	if jr == nil {
		jr = journal.NopRecorder{}
	}
	t := &Tracker{
		consent:     cm,
		queue:       q,
		sessions:    sessions,
		attribution: attrStore,
		enricher:    enricher,
		transport:   transport,
		journal:     jr,
		m:           m,
		logger:      logger.With(zap.String("mod", "tracker")),
		opts:        opts,
	}

	// Замыкаем цикл: очередь флашит через трекер, согласие реплеит через трекер
	q.SetFlushFunc(t.Flush)
	cm.SetReplayFunc(t.Replay)
	return t
}

// TrackEvent — публичный контракт тракта. Собирает хит, решает его судьбу
// по текущему состоянию согласия и фиксирует исход в журнале.
func (t *Tracker) TrackEvent(ctx context.Context, req Request) error {
	start := time.Now()

	if req.TraceID == "" {
		req.TraceID = uuid.New().String()
	}

	rec, err := t.buildRecord(ctx, req)
	if err != nil {
		return err
	}

	decision, consentRec, err := t.consent.Decision(ctx, req.VisitorID)
	if err != nil {
		// Redis недоступен — Zero Trust: считаем, что решения нет
		t.logger.Warn("consent lookup failed, treating as unknown", zap.Error(err))
		decision = domain.DecisionUnknown
	}

	t.m.EventsTotal.WithLabelValues(rec.Name, string(decision)).Inc()

	if decision == domain.DecisionUnknown {
		// Решения нет: хит в очередь, таймер дефолтного согласия взводится.
		// Точный лукап делаем спекулятивно — при отказе анонимайзер вычистит
		t.consent.EnsureTimeout(req.VisitorID)
		rec = t.enricher.Enrich(ctx, rec, req.ClientIP, true)

		if err := t.queue.Enqueue(ctx, req.VisitorID, rec); err != nil {
			return err
		}
		t.m.QueueDepth.Set(float64(t.queue.Size(ctx, req.VisitorID)))

		t.journal.Record(journal.Entry{
			TraceID:    req.TraceID,
			VisitorID:  req.VisitorID,
			EventName:  rec.Name,
			Decision:   string(decision),
			Status:     journal.StatusQueued,
			DurationMs: time.Since(start).Milliseconds(),
		})

		// Гонка с переходом: если решение сменилось, пока хит вставал в
		// очередь, дренаж перехода прошел мимо него, а нового перехода не
		// будет. Перепроверяем и осушаем сами; DrainAll атомарен, так что
		// повторной отправки не случится
		if late, lateRec, lerr := t.consent.Decision(ctx, req.VisitorID); lerr == nil && late != domain.DecisionUnknown {
			if stranded, derr := t.queue.DrainAll(ctx, req.VisitorID); derr == nil && len(stranded) > 0 {
				t.Replay(ctx, req.VisitorID, stranded, lateRec)
			}
		}
		return nil
	}

	// Точное гео — только при согласии на аналитику
	rec = t.enricher.Enrich(ctx, rec, req.ClientIP, consentRec.Granted(domain.CategoryAnalytics))

	return t.deliver(ctx, []domain.EventRecord{rec}, consentRec, delivery.Meta{
		VisitorID: req.VisitorID,
		TraceID:   req.TraceID,
		UserAgent: req.UserAgent,
		ClientIP:  req.ClientIP,
	}, domain.IsCritical(rec.Name))
}

// buildRecord собирает полный хит: сессия, атрибуция, служебные параметры
func (t *Tracker) buildRecord(ctx context.Context, req Request) (domain.EventRecord, error) {
	now := time.Now()

	params := req.Params.Clone()
	if params == nil {
		params = domain.Params{}
	}
	params[domain.ParamTimestamp] = now.UnixMilli()
	if req.UserAgent != "" {
		params[domain.ParamUserAgent] = req.UserAgent
	}

	sess, err := t.sessions.Touch(ctx, req.VisitorID, now)
	if err != nil {
		return domain.EventRecord{}, err
	}
	params["session_id"] = sess.SessionID
	params["session_number"] = sess.SessionCount

	attr := t.resolveAttribution(ctx, req, params, sess)
	applyAttribution(params, attr)

	return domain.EventRecord{
		Name:      req.Name,
		Params:    params,
		VisitorID: req.VisitorID,
		TraceID:   req.TraceID,
		Timestamp: now,
	}, nil
}

// resolveAttribution решает, откуда пришел визит. Для конверсий сохраненное
// "последнее касание" побеждает безоговорочно: привел визит часто не тот,
// что сконвертировал.
func (t *Tracker) resolveAttribution(ctx context.Context, req Request, params domain.Params, sess domain.SessionContext) domain.AttributionRecord {
	if domain.IsConversion(req.Name) {
		if stored, found, err := t.attribution.Load(ctx, req.VisitorID); err == nil && found {
			return stored
		}
	}

	in := attribution.Input{
		UTM: domain.UTM{
			Source:   params.GetString("utm_source"),
			Medium:   params.GetString("utm_medium"),
			Campaign: params.GetString("utm_campaign"),
			Content:  params.GetString("utm_content"),
			Term:     params.GetString("utm_term"),
		},
		ClickID:                extractClickID(params),
		Referrer:               req.Referrer,
		ReferrerDomain:         hostOf(req.Referrer),
		SiteDomain:             t.opts.SiteDomain,
		IgnoreSameSiteReferrer: t.opts.IgnoreSameSiteReferrer,
		IsNewSession:           sess.IsNewSession,
	}

	rec := attribution.Resolve(in)

	if attribution.ShouldPersist(in, rec) {
		if err := t.attribution.Save(ctx, req.VisitorID, rec); err != nil {
			t.logger.Warn("attribution persist failed", zap.Error(err))
		}
	}

	return rec
}

// Replay — обработчик дренажа очереди при переходе согласия.
// Каждый отложенный хит уходит отдельной отправкой: анонимизируется против
// свежей записи, в порядке постановки, ровно один раз, через reliable-путь.
func (t *Tracker) Replay(ctx context.Context, visitorID string, events []domain.QueuedEvent, rec domain.ConsentRecord) {
	if len(events) == 0 {
		return
	}

	meta := delivery.Meta{
		VisitorID: visitorID,
		TraceID:   uuid.New().String(),
		UserAgent: events[0].Payload.Params.GetString(domain.ParamUserAgent),
	}

	for _, qe := range events {
		if err := t.deliver(ctx, []domain.EventRecord{qe.Payload}, rec, meta, true); err != nil {
			t.logger.Error("replay send failed", zap.Error(err),
				zap.String("visitor_id", visitorID))
		}
	}

	t.m.QueueDepth.Set(0)
}

// Flush — обработчик авто-флаша очереди по порогу. Решения по согласию
// на этот момент обычно еще нет, поэтому хиты уходят анонимизированными
// по Zero Trust (пустая запись: все категории DENIED), батч-конвертами.
func (t *Tracker) Flush(visitorID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	events, err := t.queue.DrainAll(ctx, visitorID)
	if err != nil {
		t.logger.Error("flush drain failed", zap.Error(err), zap.String("visitor_id", visitorID))
		return
	}
	if len(events) == 0 {
		return
	}

	decision, rec, err := t.consent.Decision(ctx, visitorID)
	if err != nil || decision == domain.DecisionUnknown {
		rec = domain.ConsentRecord{} // Zero Trust
	}

	records := make([]domain.EventRecord, 0, len(events))
	for _, qe := range events {
		records = append(records, qe.Payload)
	}

	meta := delivery.Meta{
		VisitorID: visitorID,
		TraceID:   uuid.New().String(),
		UserAgent: records[0].Params.GetString(domain.ParamUserAgent),
	}

	for start := 0; start < len(records); start += t.opts.BatchSize {
		end := start + t.opts.BatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := t.deliver(ctx, records[start:end], rec, meta, true); err != nil {
			t.logger.Error("flush batch failed", zap.Error(err),
				zap.String("visitor_id", visitorID))
		}
	}

	t.m.QueueDepth.Set(0)
}

// deliver — общий хвост тракта для обоих режимов: анонимизация → конверт →
// транспорт. Reliable и sync не расходятся по форме полезной нагрузки.
func (t *Tracker) deliver(ctx context.Context, records []domain.EventRecord, rec domain.ConsentRecord, meta delivery.Meta, reliable bool) error {
	complete := rec.Granted(domain.CategoryAnalytics) && rec.Granted(domain.CategoryAd)

	events := make([]delivery.EnvelopeEvent, 0, len(records))
	for _, r := range records {
		anon := consent.Anonymize(r, rec)
		events = append(events, delivery.EnvelopeEvent{
			Name:           anon.Name,
			Params:         anon.Params,
			IsCompleteData: complete,
			Timestamp:      anon.Timestamp,
		})
	}

	env := delivery.NewEnvelope(events, rec.Minimal(), time.Now())
	meta.Decision = string(rec.Decision())

	// Исход отправки (стратегия, статус, ошибка) журналируется транспортом:
	// для reliable-режима он известен только фоновому воркеру
	if reliable {
		t.transport.SendReliable(env, meta)
		return nil
	}
	return t.transport.Send(ctx, env, meta)
}

func applyAttribution(p domain.Params, a domain.AttributionRecord) {
	p[domain.ParamSource] = a.Source
	p[domain.ParamMedium] = a.Medium
	p[domain.ParamCampaign] = a.Campaign
	if a.Content != "" {
		p[domain.ParamContent] = a.Content
	}
	if a.Term != "" {
		p[domain.ParamTerm] = a.Term
	}
	if a.ClickID != "" {
		p[domain.ParamClickID] = a.ClickID
	}
}

// Маркеры платного клика в параметрах самого хита
var clickIDParams = []string{"gclid", "gclsrc", "wbraid", "gbraid", "msclkid", domain.ParamClickID}

func extractClickID(p domain.Params) string {
	for _, key := range clickIDParams {
		if v := p.GetString(key); v != "" {
			return v
		}
	}
	return ""
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
