package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/fomc-tracker/internal/calendar"
	"github.com/DeafMist/fomc-tracker/internal/config"
	"github.com/DeafMist/fomc-tracker/internal/elasticsearch"
	"github.com/DeafMist/fomc-tracker/internal/logger"
	"github.com/DeafMist/fomc-tracker/internal/models"
	"github.com/DeafMist/fomc-tracker/internal/reconcile"
	"github.com/DeafMist/fomc-tracker/internal/storage"
)

type datasetReader interface {
	ReadDataset() ([]models.RawRecord, error)
}

type searcher interface {
	SearchCommunications(ctx context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error)
	Health(ctx context.Context) error
}

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &server{
		log:     log,
		cfg:     cfg,
		dataset: storage.New(cfg.DatasetPath, cfg.WatermarkPath),
	}

	if cfg.ElasticsearchAddr != "" {
		esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err != nil {
			log.Error("init elasticsearch", slog.Any("err", err))
			os.Exit(1)
		}
		srv.search = esClient
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type server struct {
	log     *slog.Logger
	cfg     *config.API
	dataset datasetReader
	search  searcher
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/communications", s.handleCommunications)
	r.Get("/run-dates", s.handleRunDates)
	r.Get("/search", s.handleSearch)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type communicationView struct {
	Date        string      `json:"date"`
	ReleaseDate string      `json:"release_date"`
	Type        models.Type `json:"type"`
	Text        string      `json:"text"`
}

type communicationsResponse struct {
	Total int                 `json:"total"`
	Items []communicationView `json:"items"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.dataset.ReadDataset(); err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	status := map[string]string{"status": "ok", "search": "disabled"}
	if s.search != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status["search"] = "ok"
		if err := s.search.Health(ctx); err != nil {
			status["search"] = "unavailable"
		}
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleCommunications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var typ models.Type
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		parsed, err := models.ParseType(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		typ = parsed
	}
	from, okFrom := parseDay(q.Get("from"))
	to, okTo := parseDay(q.Get("to"))
	if !okFrom || !okTo {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "from and to must be YYYY-MM-DD"})
		return
	}
	limit := clampInt(q.Get("limit"), s.cfg.DefaultPage, s.cfg.MaxPage)

	rows, err := s.dataset.ReadDataset()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Error("read dataset", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "dataset unavailable"})
		return
	}

	matched := make([]models.Communication, 0, len(rows))
	for _, raw := range rows {
		c, err := reconcile.Normalize(raw)
		if err != nil {
			continue
		}
		if typ != "" && c.Type != typ {
			continue
		}
		if from != nil && c.Date.Before(*from) {
			continue
		}
		if to != nil && c.Date.After(*to) {
			continue
		}
		matched = append(matched, c)
	}
	reconcile.Sort(matched)

	resp := communicationsResponse{Total: len(matched), Items: make([]communicationView, 0, limit)}
	for i, c := range matched {
		if i == limit {
			break
		}
		resp.Items = append(resp.Items, communicationView{
			Date:        models.FormatDate(c.Date),
			ReleaseDate: models.FormatDate(c.ReleaseDate),
			Type:        c.Type,
			Text:        c.Text,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleRunDates(w http.ResponseWriter, r *http.Request) {
	dates, err := calendar.ReadRunDates(s.cfg.RunDatesPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "run dates not generated yet"})
			return
		}
		s.log.Error("read run dates", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "run dates unavailable"})
		return
	}

	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, models.FormatDate(d))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"run_dates": out})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "search is not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	params := elasticsearch.SearchParams{
		Query: strings.TrimSpace(q.Get("q")),
		From:  clampInt(q.Get("from"), 0, 10_000),
		Size:  clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
	}
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		typ, err := models.ParseType(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		params.Type = typ
	}
	start, okStart := parseDay(q.Get("start"))
	end, okEnd := parseDay(q.Get("end"))
	if !okStart || !okEnd {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "start and end must be YYYY-MM-DD"})
		return
	}
	params.Start = start
	params.End = end

	result, err := s.search.SearchCommunications(ctx, params)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseDay returns nil for an empty value and false for a malformed one.
func parseDay(raw string) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	ts, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return nil, false
	}
	return &ts, true
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// nothing better to do
	}
}
