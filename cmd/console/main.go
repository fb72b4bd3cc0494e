package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/console/handler"
	"github.com/xela07ax/pixel-gateway/internal/console/server"
	"github.com/xela07ax/pixel-gateway/internal/console/service"
	"github.com/xela07ax/pixel-gateway/internal/infra"
	"github.com/xela07ax/pixel-gateway/internal/infra/auth"
	"github.com/xela07ax/pixel-gateway/internal/repository/postgres"
)

func main() {
	// 1. Инициализация ресурсов
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

	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required for the console")
	}
	journalRepo := postgres.NewJournalRepo(cfg.Database.URL)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := journalRepo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// 2. Ключи RS256: закрытый подписывает, открытый проверяет
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("private key", zap.Error(err))
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(publicKey)

	// 3. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(cfg.Auth.AdminUser, cfg.Auth.AdminPassHash, privateKey)
	controlService := service.NewControlService(rdb, logger)
	journalService := service.NewJournalService(journalRepo)

	consoleSrv := server.NewConsoleServer(cfg, logger, validator,
		handler.NewAuthHandler(authService),
		handler.NewControlHandler(controlService),
		handler.NewJournalHandler(journalService),
	)

	// 4. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console API stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console API exited properly")
}
