package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/consent"
	"github.com/xela07ax/pixel-gateway/internal/delivery"
	"github.com/xela07ax/pixel-gateway/internal/domain"
	"github.com/xela07ax/pixel-gateway/internal/geo"
	"github.com/xela07ax/pixel-gateway/internal/infra"
	"github.com/xela07ax/pixel-gateway/internal/journal"
	"github.com/xela07ax/pixel-gateway/internal/metrics"
	"github.com/xela07ax/pixel-gateway/internal/queue"
	"github.com/xela07ax/pixel-gateway/internal/repository/postgres"
	"github.com/xela07ax/pixel-gateway/internal/repository/redisstate"
	"github.com/xela07ax/pixel-gateway/internal/server"
	"github.com/xela07ax/pixel-gateway/internal/tracker"
)

func main() {
	// 1. Инфраструктура и ресурсы
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Контекст для управления жизненным циклом фоновых горутин.
	// SIGTERM через cancel() остановит слушателей и свипер.
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Журнал доставки (Postgres). Пустой URL — журнал выключен.
	var recorder journal.Recorder = journal.NopRecorder{}
	var jr *journal.Journal
	if cfg.Database.URL != "" {
		repo := postgres.NewJournalRepo(cfg.Database.URL)
		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := repo.Ping(pingCtx); err != nil {
			logger.Fatal("database unreachable", zap.Error(err))
		}
		pingCancel()

		jr = journal.New(repo, logger)
		jr.Start()
		recorder = jr
	}

	// Метрики
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Экспортируем метрики для Prometheus
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 2. Control Plane: рубильник точной геолокации
	ks := geo.NewKillSwitch(rdb, logger)
	if err := ks.Init(appCtx); err != nil {
		logger.Warn("geo switch init failed, collection stays on", zap.Error(err))
	}
	go ks.StartListener(appCtx)

	enricher := geo.NewEnricher(
		geo.BuildProvider(cfg.Geo.ProviderURLs, cfg.Geo.Timeout, logger),
		ks, logger)

	// 3. Состояние посетителей (Redis)
	queueRepo := redisstate.NewQueueRepo(rdb, logger)
	consentRepo := redisstate.NewConsentRepo(rdb, cfg.Consent.RecordTTL, logger)
	sessions := redisstate.NewSessionRepo(rdb, logger)
	attrs := redisstate.NewAttributionRepo(rdb)

	// Очередь отложенных событий: в слот попадает уже обогащенный хит
	q := queue.New(queueRepo,
		func(ctx context.Context, rec domain.EventRecord) domain.EventRecord {
			return enricher.Enrich(ctx, rec, "", false)
		},
		queue.Options{
			MaxEvents: cfg.Queue.MaxEvents,
			MaxBytes:  cfg.Queue.MaxBytes,
			EventTTL:  cfg.Queue.EventTTL,
			BatchSize: cfg.Queue.BatchSize,
		}, logger)
	q.SetJournal(recorder)
	go q.StartSweeper(appCtx, cfg.Queue.SweepInterval)

	// Машина согласия
	cm := consent.NewManager(consentRepo, q, nil,
		consent.NewRedisBroadcaster(rdb, logger),
		cfg.Consent.DefaultTimeout, logger)
	go cm.StartResetListener(appCtx, rdb)

	// 4. Исходящая доставка: стратегии из конфига, каждая в контуре устойчивости
	transport, err := buildTransport(cfg, m, recorder, logger)
	if err != nil {
		logger.Fatal("delivery transport", zap.Error(err))
	}
	transport.Start()

	// 5. Оркестратор тракта
	tr := tracker.New(cm, q, sessions, attrs, enricher, transport, recorder, m,
		tracker.Options{
			SiteDomain:             cfg.Site.Domain,
			IgnoreSameSiteReferrer: cfg.Site.IgnoreSameSiteReferrer,
			BatchSize:              cfg.Queue.BatchSize,
		}, logger)

	// 6. HTTP Server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.NewCollectorServer(tr, cm, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("pixel collector started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("pixel collector stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Порядок важен: сначала гасим фоновые слушатели, потом дожимаем буферы
	cancel()
	transport.Stop()
	if jr != nil {
		jr.Stop()
	}

	logger.Info("pixel collector exited properly")
}

// buildTransport собирает fallback-цепочку из сконфигурированных стратегий
func buildTransport(cfg *infra.Config, m *metrics.Metrics, jr journal.Recorder, logger *zap.Logger) (*delivery.Transport, error) {
	opts := delivery.DefaultReliabilityOptions()
	if cfg.Delivery.CBInterval > 0 {
		opts.CBInterval = cfg.Delivery.CBInterval
	}
	if cfg.Delivery.CBTimeout > 0 {
		opts.CBTimeout = cfg.Delivery.CBTimeout
	}

	onState := func(name string, open bool) {
		state := 0.0
		if open {
			state = 1.0
		}
		m.CircuitBreakerState.WithLabelValues(name).Set(state)
	}

	wrap := func(s delivery.Strategy) delivery.Strategy {
		return delivery.NewReliableStrategy(s, opts, onState)
	}

	byName := map[string]delivery.Strategy{}

	if cfg.Delivery.EndpointURL != "" {
		byName[delivery.StrategyDirect] = wrap(delivery.NewDirectStrategy(cfg.Delivery.EndpointURL))
	}

	if cfg.Delivery.RelayURL != "" {
		var checker delivery.BotChecker = delivery.NullBotChecker{}
		if cfg.Delivery.BotCheckURL != "" {
			checker = delivery.NewHTTPBotChecker(cfg.Delivery.BotCheckURL, cfg.Delivery.BotThreshold)
		}
		byName[delivery.StrategyRelayChecked] = wrap(delivery.NewRelayCheckedStrategy(
			cfg.Delivery.RelayURL, cfg.Site.Domain, cfg.Auth.RelaySecret, checker))

		if cfg.Delivery.PayloadKey != "" {
			key, err := hex.DecodeString(cfg.Delivery.PayloadKey)
			if err != nil {
				return nil, fmt.Errorf("payload key is not valid hex: %w", err)
			}
			byName[delivery.StrategyRelaySecure] = wrap(delivery.NewRelaySecureStrategy(
				cfg.Delivery.RelayURL, cfg.Site.Domain, cfg.Auth.RelaySecret, key))
		}
	}

	chain := delivery.OrderChain(cfg.Delivery.Strategy, byName)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no delivery strategy is configured")
	}

	names := make([]string, 0, len(chain))
	for _, s := range chain {
		names = append(names, s.Name())
	}
	logger.Info("delivery chain assembled", zap.Strings("order", names))

	return delivery.NewTransport(chain, cfg.Delivery.ReliableBuffer, m, jr, logger), nil
}
