package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/app"
	"github.com/xela07ax/agentwallet/internal/infra"
)

// Отдельный процесс Admin API поверх общей базы walletd
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	var (
		cfg *infra.Config
		err error
	)
	if *configPath != "" {
		cfg, err = infra.LoadConfigFile(*configPath)
	} else {
		cfg, err = infra.LoadConfig()
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Engine.StoreDriver != "postgres" {
		// с memory store у консоли свое состояние, walletd его не увидит
		logger.Warn("console started with a private memory store", zap.String("store_driver", cfg.Engine.StoreDriver))
	}

	// 1. Инициализация ресурсов с таймаутом
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		cancel()
		logger.Fatal("console init failed", zap.Error(err))
	}
	console, err := rt.Console(ctx)
	cancel()
	if err != nil {
		rt.Close()
		logger.Fatal("console init failed", zap.Error(err))
	}
	defer rt.Close()

	// 2. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown failed", zap.Error(err))
	}
	logger.Info("Console API exited properly")
}
