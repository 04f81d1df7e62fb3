package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"dca-trading-bot/internal/broker"
	"dca-trading-bot/internal/config"
	"dca-trading-bot/internal/core"
	"dca-trading-bot/internal/logger"
	"dca-trading-bot/internal/model"
	"dca-trading-bot/internal/repository"
	"dca-trading-bot/internal/service"

	"github.com/shopspring/decimal"
)

func main() {
	logger.Init()
	logger.Info("Starting DCA Trading Bot...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Info("Configuration loaded",
		"db_path", cfg.DBPath,
		"testnet", cfg.BrokerTestnet,
		"base_qty", cfg.BaseQty,
		"averaging_trigger_pct", cfg.AveragingTriggerPct,
		"take_profit_pct", cfg.TakeProfitPct,
		"poll_interval", cfg.PollInterval,
	)

	store, err := repository.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	seed := seedProfile(cfg)

	// Persist the environment profile once so the chat surface has a row
	// to display and edit.
	ctx := context.Background()
	if existing, err := store.TradeParams(ctx); err != nil {
		logger.Error("Failed to read trade params", "error", err)
	} else if existing == nil {
		if err := store.SaveTradeParams(ctx, seed); err != nil {
			logger.Error("Failed to seed trade params", "error", err)
		}
	}

	binance := broker.NewBinanceBroker(cfg.BrokerAPIKey, cfg.BrokerSecretKey, cfg.BrokerTestnet)
	engine := core.NewEngine(store, binance, seed, cfg.StopTimeout)

	rootCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Live order updates between polling cycles.
	stream := broker.NewOrderStream(binance, cfg.BrokerTestnet)
	go func() {
		for {
			if rootCtx.Err() != nil {
				return
			}
			if err := stream.Start(rootCtx); err != nil {
				logger.Error("❌ Failed to start order stream, retrying in 10s...", "error", err)
				if !sleepUnless(rootCtx, 10*time.Second) {
					return
				}
				continue
			}
			logger.Warn("⚠️ Order stream disconnected, reconnecting in 5s...")
			if !sleepUnless(rootCtx, 5*time.Second) {
				return
			}
		}
	}()
	go func() {
		for snap := range stream.Updates {
			engine.ApplyOrderUpdate(rootCtx, snap)
		}
	}()

	// The chat surface is optional: without credentials the bot runs
	// headless and lifecycle control is signals only.
	if cfg.TelegramToken != "" {
		tg, err := service.NewTelegramService(cfg.TelegramToken, cfg.TelegramChatID, engine, store)
		if err != nil {
			log.Fatalf("Failed to start Telegram service: %v", err)
		}
		engine.SetNotifier(tg)
		go tg.Run(rootCtx)
	} else {
		logger.Warn("Telegram credentials not set, running headless")
	}

	engine.Start()

	<-rootCtx.Done()
	logger.Info("Shutdown signal received")
	engine.Stop()
	stream.Stop()
}

func seedProfile(cfg *config.Config) model.Profile {
	return model.Profile{
		BaseQty:             decimal.NewFromFloat(cfg.BaseQty),
		AveragingTriggerPct: decimal.NewFromFloat(cfg.AveragingTriggerPct),
		AveragingMultiplier: decimal.NewFromFloat(cfg.AveragingMultiplier),
		TakeProfitPct:       decimal.NewFromFloat(cfg.TakeProfitPct),
		PollInterval:        cfg.PollInterval,
		OutsideRTH:          cfg.OutsideRTH,
		WholeUnits:          cfg.WholeUnits,
		MaintainExit:        cfg.MaintainExit,
	}
}

func sleepUnless(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
