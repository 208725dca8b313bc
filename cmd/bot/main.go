package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"projectx-bracket-bot/internal/adaptive"
	"projectx-bracket-bot/internal/bot"
	"projectx-bracket-bot/internal/bracket"
	"projectx-bracket-bot/internal/broker"
	"projectx-bracket-bot/internal/config"
	"projectx-bracket-bot/internal/confluence"
	"projectx-bracket-bot/internal/downloader"
	"projectx-bracket-bot/internal/feed"
	"projectx-bracket-bot/internal/journal"
	"projectx-bracket-bot/internal/logger"
	"projectx-bracket-bot/internal/models"
	"projectx-bracket-bot/internal/persistence"
	"projectx-bracket-bot/internal/risk"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or calibrate")
	flag.Parse()

	// Bootstrap logging before config so load problems are visible.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("No .env file found, reading from system environment.")
	} else {
		logger.S().Info("Loaded environment from .env file.")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("Cannot load config file: %v", err)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	switch *mode {
	case "live":
		runLiveMode(cfg)
	case "calibrate":
		runCalibrateMode(cfg)
	default:
		logger.S().Fatalf("Unknown mode %q, want 'live' or 'calibrate'.", *mode)
	}
}

// runLiveMode wires the full decision core and runs until interrupted.
func runLiveMode(cfg *models.Config) {
	logger.S().Info("--- Starting live trading mode ---")

	userName := os.Getenv("PX_USERNAME")
	apiKey := os.Getenv("PX_API_KEY")
	if userName == "" || apiKey == "" {
		logger.S().Fatal("PX_USERNAME and PX_API_KEY environment variables must be set.")
	}

	accounts, err := config.AccountsFromEnv()
	if err != nil {
		logger.S().Fatalf("Cannot resolve trading accounts: %v", err)
	}
	accountID, ok := accounts[cfg.AccountName]
	if !ok {
		logger.S().Fatalf("No account id for %q; set ACCOUNT_%s in the environment.", cfg.AccountName, cfg.AccountName)
	}

	repo, err := openRepository(cfg)
	if err != nil {
		logger.S().Fatalf("Cannot open parameter store: %v", err)
	}
	defer repo.Close()

	timeout := time.Duration(cfg.Broker.TimeoutSec) * time.Second
	auth := broker.NewAuthSession(cfg.Broker.BaseURL, userName, apiKey, timeout, logger.S())
	px := broker.NewProjectXBroker(cfg.Broker.BaseURL, auth, timeout, logger.S())

	stateBuilder := risk.NewStateBuilder(px, cfg.Risk, cfg.Bracket.PointValue, logger.S())
	estimator := adaptive.NewEstimator(repo, logger.S())
	engine := confluence.NewEngine(logger.S())
	tradeJournal := journal.NewJournal(repo, logger.S())

	tradingBot, err := bot.NewTradingBot(cfg, px, stateBuilder, estimator, engine,
		tradeJournal, bracket.RealClock{}, logger.S(), accountID)
	if err != nil {
		logger.S().Fatalf("Cannot assemble bot: %v", err)
	}

	if cfg.Calibration.DataDir != "" {
		seedBars(cfg, tradingBot)
	}

	priceFeed := feed.NewFeed(cfg.Feed, tradingBot.OnTick, logger.S())
	if err := priceFeed.Start(); err != nil {
		logger.S().Fatalf("Cannot start price feed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tradingBot.Start(ctx); err != nil {
		logger.S().Fatalf("Bot start failed: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.S().Info("Shutting down.")
	tradingBot.Stop()
	priceFeed.Stop()
	tradeJournal.WriteReport(os.Stdout)
}

// runCalibrateMode downloads historical bars for indicator warmup.
func runCalibrateMode(cfg *models.Config) {
	logger.S().Info("--- Starting calibration mode ---")

	cal := cfg.Calibration
	if cal.Symbol == "" || cal.StartDate == "" || cal.EndDate == "" {
		logger.S().Fatal("Calibration requires symbol, start_date and end_date in the config.")
	}
	startTime, err1 := time.Parse("2006-01-02", cal.StartDate)
	endTime, err2 := time.Parse("2006-01-02", cal.EndDate)
	if err1 != nil || err2 != nil {
		logger.S().Fatalf("Bad calibration dates, want YYYY-MM-DD. start: %v, end: %v", err1, err2)
	}

	d := downloader.NewBarDownloader(logger.S())
	if err := d.DownloadBars(context.Background(), cal.Symbol, calibrationPath(cfg), startTime, endTime); err != nil {
		logger.S().Fatalf("Calibration download failed: %v", err)
	}
	logger.S().Infow("Calibration data ready", "path", calibrationPath(cfg))
}

// seedBars loads cached calibration bars into the bot, if present.
func seedBars(cfg *models.Config, tradingBot *bot.TradingBot) {
	path := calibrationPath(cfg)
	bars, err := downloader.LoadBars(path)
	if err != nil {
		logger.S().Warnw("Could not load calibration bars", "path", path, "error", err)
		return
	}
	if len(bars) > 0 {
		tradingBot.SeedBars(bars)
	}
}

func calibrationPath(cfg *models.Config) string {
	dir := cfg.Calibration.DataDir
	if dir == "" {
		dir = "data"
	}
	symbol := cfg.Calibration.Symbol
	if symbol == "" {
		symbol = cfg.Symbol
	}
	return fmt.Sprintf("%s/%s-%s-%s.csv", dir, symbol, cfg.Calibration.StartDate, cfg.Calibration.EndDate)
}

// openRepository picks the parameter store: badger when db_path is set,
// otherwise a JSON file snapshot.
func openRepository(cfg *models.Config) (persistence.Repository, error) {
	if cfg.DBPath != "" {
		return persistence.NewBadgerRepository(cfg.DBPath)
	}
	if cfg.ParamsPath != "" {
		return persistence.NewFileRepository(cfg.ParamsPath)
	}
	return persistence.NewBadgerRepository("px_bot_db")
}
