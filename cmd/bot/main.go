package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"postbot/internal/bot"
	"postbot/internal/config"
	"postbot/internal/delivery"
	"postbot/internal/directory"
	"postbot/internal/fetcher"
	"postbot/internal/logger"
	"postbot/internal/planner"
	"postbot/internal/poller"
	"postbot/internal/scheduler"
	"postbot/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("load .env", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stderr, cfg.LogLevel)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("bot failed", "error", err)
		os.Exit(1)
	}
	log.Info("bot stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return err
	}
	log.Info("authorized", "bot", api.Self.UserName)

	loc := cfg.Location()
	out := delivery.New(api, log, cfg.SendMaxRetries)
	sched := scheduler.New(store, loc, log, cfg.JobPollInterval, cfg.JobMisfireGrace)
	feeds := fetcher.NewWithTimeout(http.DefaultClient, cfg.RSSFetchTimeout)
	poll := poller.New(store, feeds, out, log)

	plan := planner.New(store, sched, out, poll, loc, cfg.RSSMinFrequency, log)
	plan.Register()

	dir, err := directory.New(api, store, 256, log)
	if err != nil {
		return err
	}

	b := bot.New(api, store, plan, dir, feeds, cfg, log)

	if _, err := plan.Restore(ctx); err != nil {
		return err
	}

	log.Info("starting bot", "time_zone", loc.String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	g.Go(func() error {
		b.Run(gctx)
		return nil
	})
	return g.Wait()
}
