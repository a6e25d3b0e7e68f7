package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/dlyons/fxsignal/broker"
	"github.com/dlyons/fxsignal/database"
	"github.com/dlyons/fxsignal/sentiment"
	"github.com/dlyons/fxsignal/service"
	"github.com/dlyons/fxsignal/shared"
	zlog "github.com/rs/zerolog/log"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		return
	}

	logger := zlog.Logger

	weights, err := LoadWeights(cfg.WeightsFilepath)
	if err != nil {
		log.Printf("loading weights: %v", err)
		return
	}
	if err := weights.Validate(&logger); err != nil {
		log.Printf("validating weights: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokerLogger := logger.With().Str("component", "broker").Logger()
	oanda, err := broker.NewOANDAClient(&broker.OANDAConfig{
		BaseURL:   cfg.OANDABaseURL,
		APIKey:    cfg.OANDAAPIKey,
		AccountID: cfg.OANDAAccountID,
		Logger:    &brokerLogger,
	})
	if err != nil {
		log.Printf("creating oanda client: %v", err)
		return
	}

	sources := make([]shared.SentimentSource, 0, 2)
	primary, err := sentiment.NewFeed(&sentiment.FeedConfig{
		Name:    "primary",
		BaseURL: cfg.SentimentFeedURL,
		APIKey:  cfg.SentimentFeedAPIKey,
	})
	if err != nil {
		log.Printf("creating primary sentiment feed: %v", err)
		return
	}
	sources = append(sources, primary)

	if cfg.SentimentFallbackURL != "" {
		fallback, err := sentiment.NewFeed(&sentiment.FeedConfig{
			Name:    "fallback",
			BaseURL: cfg.SentimentFallbackURL,
		})
		if err != nil {
			log.Printf("creating fallback sentiment feed: %v", err)
			return
		}
		sources = append(sources, fallback)
	}

	dbLogger := logger.With().Str("component", "database").Logger()
	db, err := database.NewDatabase(ctx, &database.DatabaseConfig{
		Endpoint: cfg.DatabaseEndpoint,
		User:     cfg.DatabaseUser,
		Pass:     cfg.DatabasePass,
		Logger:   &dbLogger,
	})
	if err != nil {
		log.Printf("creating database: %v", err)
		return
	}

	riskLogger := logger.With().Str("component", "risk").Logger()
	svcCfg := service.SignalServiceConfig{
		Pairs:             cfg.Pairs,
		Broker:            oanda,
		Sources:           sources,
		Store:             db,
		Technical:         weights.TechnicalConfig(),
		Sentiment:         weights.SentimentConfig(),
		Synthesis:         weights.SynthesisConfig(),
		Risk:              weights.RiskConfig(&riskLogger),
		ScanInterval:      time.Duration(cfg.ScanIntervalMinutes) * time.Minute,
		MonitorInterval:   time.Duration(cfg.MonitorIntervalMinutes) * time.Minute,
		SentimentWindow:   time.Duration(weights.Scan.SentimentWindowHours) * time.Hour,
		MaxSignalsPerScan: weights.Scan.MaxSignalsPerScan,
		Cancel:            cancel,
	}
	svc, err := service.NewSignalService(&svcCfg)
	if err != nil {
		log.Printf("creating signal service: %v", err)
		return
	}

	go handleTermination(ctx, cancel)
	svc.Run(ctx)
}
