package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/xela07ax/agentwallet/internal/api"
	"github.com/xela07ax/agentwallet/internal/api/grpcapi"
	"github.com/xela07ax/agentwallet/internal/app"
	"github.com/xela07ax/agentwallet/internal/infra"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	// 1. Конфиг и логгер
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("walletd failed", zap.Error(err))
	}
}

func loadConfig(path string) (*infra.Config, error) {
	if path != "" {
		return infra.LoadConfigFile(path)
	}
	return infra.LoadConfig()
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст старта: подключения к БД, Redis и RabbitMQ
	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 2. Инфраструктура и ядро
	rt, err := app.Build(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	validator, err := rt.Validator()
	if err != nil {
		return err
	}

	// 3. HTTP API
	httpSrv := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewServer(rt.Core, validator, logger, api.Options{
			RateLimitRPS:   cfg.Engine.RateLimitRPS,
			RateLimitBurst: cfg.Engine.RateLimitBurst,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 4. gRPC: auth -> rate limit -> сервис
	limiter := api.NewCallerLimiter(cfg.Engine.RateLimitRPS, cfg.Engine.RateLimitBurst)
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcapi.UnaryAuthInterceptor(validator, logger),
		grpcapi.UnaryRateLimitInterceptor(limiter.Allow),
	))
	grpcapi.Register(grpcSrv, grpcapi.NewService(rt.Core, logger))

	// 5. Метрики для Prometheus
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: metricsMux, ReadTimeout: 5 * time.Second}

	servers := []*http.Server{httpSrv, metricsSrv}

	// 6. Console в том же процессе, если есть приватный ключ (для memory store это единственный вариант)
	if len(cfg.Auth.PrivateKey) > 0 {
		console, err := rt.Console(startCtx)
		if err != nil {
			return err
		}
		servers = append(servers, &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Admin.Port),
			Handler:      console,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		})
	}

	errCh := make(chan error, len(servers)+1)
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("http listener started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}
	go func() {
		logger.Info("gRPC server started", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("walletd stopping", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("listener failed, stopping", zap.Error(err))
	}

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	grpcSrv.GracefulStop()
	// rt.Close (defer) дописывает журнал и закрывает соединения
	logger.Info("walletd exited properly")
	return nil
}
