package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/fomc-tracker/internal/calendar"
	"github.com/DeafMist/fomc-tracker/internal/config"
	"github.com/DeafMist/fomc-tracker/internal/fetch"
	"github.com/DeafMist/fomc-tracker/internal/logger"
)

type fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

func main() {
	log := logger.New("calendar")
	cfg, err := config.LoadCalendar()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	client := fetch.New(cfg.UserAgent, cfg.FetchTimeout, log)
	count, err := runOnce(ctx, client, cfg, time.Now().UTC())
	if err != nil {
		log.Error("calendar run failed", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("wrote T+1 run dates",
		slog.Int("count", count),
		slog.String("path", cfg.RunDatesPath),
		slog.String("source", cfg.FeedURL),
	)
}

// runOnce fetches the feed, projects it and replaces the run-date file.
func runOnce(ctx context.Context, f fetcher, cfg *config.Calendar, now time.Time) (int, error) {
	raw, err := f.Fetch(ctx, cfg.FeedURL)
	if err != nil {
		return 0, fmt.Errorf("fetch calendar feed: %w", err)
	}

	feed, err := calendar.DecodeFeed(bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}

	dates := calendar.Project(feed.Events)
	if err := calendar.WriteRunDates(cfg.RunDatesPath, cfg.FeedURL, now, dates); err != nil {
		return 0, fmt.Errorf("write run dates: %w", err)
	}
	return len(dates), nil
}
