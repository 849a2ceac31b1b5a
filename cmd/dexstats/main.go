package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dexstats/internal/api"
	"dexstats/internal/client"
	"dexstats/internal/config"
	"dexstats/internal/onchain"
	"dexstats/internal/pkg/metrics"
	"dexstats/internal/service"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
)

const connectTimeout = 10 * time.Second

func main() {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zapLogger.Sync()

	// Bridge the default slog logger onto zap so library code logs through
	// the same core.
	slogHandler := zapslog.NewHandler(zapLogger.Core(), &zapslog.HandlerOptions{})
	slog.SetDefault(slog.New(slogHandler))

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	zapLogger.Info("Configuration loaded", zap.String("path", cfgPath))

	metrics.MustRegisterMetrics()

	feed := client.NewFeedClient(cfg.PriceFeeds, zapLogger)
	resolver := service.NewKnownPriceResolver(cfg, feed, zapLogger)

	yearlyTTL := time.Duration(cfg.StatsCache.YearlyVolumeTTLMin) * time.Minute
	computers := make(map[int64]service.Computer, len(cfg.Chains))
	var readers []*onchain.Client
	for _, chain := range cfg.Chains {
		reader, err := onchain.NewClient(chain.RPCURL, connectTimeout, time.Duration(chain.RPCTimeoutMs)*time.Millisecond)
		if err != nil {
			zapLogger.Fatal("Failed to create on-chain client",
				zap.Int64("chainID", chain.ChainID), zap.Error(err))
		}
		readers = append(readers, reader)

		indexer := client.NewIndexerClient(chain, cfg.Indexer, zapLogger, nil)
		yearlyCache := gocache.New(yearlyTTL, 2*yearlyTTL)
		computers[chain.ChainID] = service.NewStatsComputer(chain, indexer, reader, resolver, yearlyCache, zapLogger, nil)
		zapLogger.Info("Chain wired", zap.Int64("chainID", chain.ChainID), zap.String("name", chain.Name))
	}

	ttl := time.Duration(cfg.StatsCache.TTLSeconds) * time.Second
	orchestrator := service.NewOrchestrator(computers, ttl, zapLogger, nil)
	if len(cfg.StatsCache.RefreshChains) > 0 {
		orchestrator.StartRefresher(cfg.StatsCache.RefreshChains, time.Duration(cfg.StatsCache.RefreshMarginSec)*time.Second)
		zapLogger.Info("Background refresher started", zap.Int64s("chains", cfg.StatsCache.RefreshChains))
	}

	handler := api.NewStatsHandler(orchestrator, zapLogger)
	router := api.SetupRouter(handler, cfg.Server, zapLogger)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		zapLogger.Info("Server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")

	orchestrator.Stop()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	for _, reader := range readers {
		reader.Close()
	}
	zapLogger.Info("Server exiting")
}
