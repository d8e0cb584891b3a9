package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/DeafMist/fomc-tracker/internal/config"
	"github.com/DeafMist/fomc-tracker/internal/elasticsearch"
	"github.com/DeafMist/fomc-tracker/internal/extract"
	"github.com/DeafMist/fomc-tracker/internal/fetch"
	"github.com/DeafMist/fomc-tracker/internal/logger"
	"github.com/DeafMist/fomc-tracker/internal/models"
	"github.com/DeafMist/fomc-tracker/internal/processing"
	"github.com/DeafMist/fomc-tracker/internal/publish"
	"github.com/DeafMist/fomc-tracker/internal/reconcile"
	"github.com/DeafMist/fomc-tracker/internal/storage"
)

type fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type datasetStore interface {
	ReadDataset() ([]models.RawRecord, error)
	ReadWatermark() (time.Time, error)
	Commit(rows []models.Communication, watermark *time.Time) error
}

type communicationIndexer interface {
	IndexCommunication(ctx context.Context, doc models.CommunicationDocument) error
}

type communicationPublisher interface {
	Publish(ctx context.Context, runID string, comms []models.Communication) error
}

func main() {
	log := logger.New("sync")
	cfg, err := config.LoadSync()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	runID := uuid.NewString()
	log = log.With(slog.String("run_id", runID))

	lock, err := storage.Lock(cfg.LockPath)
	if err != nil {
		log.Error("acquire run lock", slog.Any("err", err))
		os.Exit(1)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	r := &runner{
		log:         log,
		runID:       runID,
		fetch:       fetch.New(cfg.UserAgent, cfg.FetchTimeout, log),
		store:       storage.New(cfg.DatasetPath, cfg.WatermarkPath),
		calendarURL: cfg.CalendarURL(),
		now:         time.Now,
	}

	if cfg.ElasticsearchAddr != "" {
		esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err != nil {
			log.Warn("init elasticsearch, search mirror disabled", slog.Any("err", err))
		} else if err := pingSearch(ctx, esClient); err != nil {
			log.Warn("elasticsearch unreachable, search mirror disabled", slog.Any("err", err))
		} else {
			r.index = esClient
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := publish.New(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer pub.Close()
		r.publish = pub
	}

	rep, err := r.run(ctx)
	if err != nil {
		log.Error("sync run failed, artifacts left unchanged", slog.Any("err", err))
		lock.Release()
		os.Exit(1)
	}

	log.Info("sync run completed",
		slog.Int("ingested", rep.Ingested),
		slog.Int("skipped", rep.Skipped),
		slog.Int("dropped", rep.Dropped),
		slog.Int("rows", rep.Rows),
		slog.String("watermark", formatWatermark(rep.Watermark)),
		slog.Bool("watermark_advanced", rep.Advanced),
	)
}

type runner struct {
	log         *slog.Logger
	runID       string
	fetch       fetcher
	store       datasetStore
	calendarURL string
	index       communicationIndexer
	publish     communicationPublisher
	now         func() time.Time
}

type report struct {
	Ingested  int
	Skipped   int
	Dropped   int
	Rows      int
	Watermark time.Time
	Advanced  bool
}

// run performs one fetch, extract, reconcile and persist cycle. Any error
// returned means nothing was written.
func (r *runner) run(ctx context.Context) (*report, error) {
	watermark, err := r.store.ReadWatermark()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read watermark: %w", err)
	}

	existing, err := r.store.ReadDataset()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	page, err := r.fetch.Fetch(ctx, r.calendarURL)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar page: %w", err)
	}

	base, err := url.Parse(r.calendarURL)
	if err != nil {
		return nil, fmt.Errorf("parse calendar url: %w", err)
	}
	cal, err := extract.ParseCalendar(page, base)
	if err != nil {
		return nil, err
	}

	rep := &report{Skipped: cal.Skipped}
	fresh := r.collect(ctx, cal.Links, watermark, contentKeys(existing), rep)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sync canceled: %w", err)
	}

	res := reconcile.Merge(reconcile.Input{
		New:          fresh,
		Existing:     existing,
		MeetingDates: cal.Meetings,
		Watermark:    watermark,
	})
	for _, d := range res.Dropped {
		r.log.Warn("dropped malformed record",
			slog.String("source", string(d.Source)),
			slog.String("date", d.Record.Date),
			slog.String("release_date", d.Record.ReleaseDate),
			slog.String("type", d.Record.Type),
			slog.Any("err", d.Err),
		)
	}

	var next *time.Time
	if res.Watermark.After(watermark) {
		next = &res.Watermark
	}
	if err := r.store.Commit(res.Dataset, next); err != nil {
		return nil, fmt.Errorf("commit artifacts: %w", err)
	}

	rep.Ingested = res.Ingested
	rep.Dropped = len(res.Dropped)
	rep.Rows = len(res.Dataset)
	rep.Watermark = res.Watermark
	rep.Advanced = next != nil

	r.mirror(ctx, ingestedRows(res.Dataset, fresh))
	return rep, nil
}

// collect fetches the body of every link released after the watermark, plus
// any older link whose row is still missing from the dataset. Failures skip
// the link so the next run retries it.
func (r *runner) collect(ctx context.Context, links []extract.Link, watermark time.Time, have map[models.Key]struct{}, rep *report) []models.RawRecord {
	today := models.Day(r.now())

	var fresh []models.RawRecord
	for _, link := range links {
		if ctx.Err() != nil {
			return fresh
		}
		if link.ReleaseDate.After(today) {
			continue
		}
		if _, ok := have[models.Key{Date: models.Day(link.Date), Type: link.Type}]; ok && !link.ReleaseDate.After(watermark) {
			continue
		}

		page, err := r.fetch.Fetch(ctx, link.URL)
		if err != nil {
			rep.Skipped++
			r.log.Warn("skip communication, fetch failed", slog.String("url", link.URL), slog.Any("err", err))
			continue
		}
		body, err := extract.Body(page)
		if err != nil {
			rep.Skipped++
			r.log.Warn("skip communication, parse failed", slog.String("url", link.URL), slog.Any("err", err))
			continue
		}

		fresh = append(fresh, models.RawRecord{
			Date:        models.FormatDate(link.Date),
			ReleaseDate: models.FormatDate(link.ReleaseDate),
			Type:        string(link.Type),
			Text:        body,
		})
		r.log.Debug("collected communication",
			slog.String("type", string(link.Type)),
			slog.String("date", models.FormatDate(link.Date)),
		)
	}
	return fresh
}

// mirror pushes newly ingested rows to the optional search index and topic.
// Failures are logged; the committed artifacts are the source of truth.
func (r *runner) mirror(ctx context.Context, rows []models.Communication) {
	if len(rows) == 0 {
		return
	}

	if r.index != nil {
		for _, row := range rows {
			doc := processing.BuildDocument(row)
			if err := r.index.IndexCommunication(ctx, doc); err != nil {
				r.log.Warn("index communication", slog.String("id", doc.ID), slog.Any("err", err))
			}
		}
	}

	if r.publish != nil {
		if err := r.publish.Publish(ctx, r.runID, rows); err != nil {
			r.log.Warn("publish communications", slog.Any("err", err))
		}
	}
}

func contentKeys(rows []models.RawRecord) map[models.Key]struct{} {
	keys := make(map[models.Key]struct{}, len(rows))
	for _, raw := range rows {
		c, err := reconcile.Normalize(raw)
		if err != nil || !c.Type.IsContent() {
			continue
		}
		keys[c.Key()] = struct{}{}
	}
	return keys
}

func ingestedRows(dataset []models.Communication, fresh []models.RawRecord) []models.Communication {
	keys := make(map[models.Key]struct{}, len(fresh))
	for _, raw := range fresh {
		c, err := reconcile.Normalize(raw)
		if err != nil {
			continue
		}
		keys[c.Key()] = struct{}{}
	}

	var out []models.Communication
	for _, row := range dataset {
		if _, ok := keys[row.Key()]; ok {
			out = append(out, row)
		}
	}
	return out
}

type pinger interface {
	Ping(ctx context.Context) error
}

func pingSearch(ctx context.Context, p pinger) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.Ping(ctx)
}

func formatWatermark(ts time.Time) string {
	if ts.IsZero() {
		return "none"
	}
	return models.FormatDate(ts)
}
