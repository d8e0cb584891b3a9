package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/100.0.4896.127 Safari/537.36"

// Common contains the artifact paths and search mirror shared by every service.
type Common struct {
	DatasetPath        string
	WatermarkPath      string
	ElasticsearchAddr  string
	ElasticsearchIndex string
}

// Sync holds configuration for one fetch-reconcile-persist run.
type Sync struct {
	Common
	BaseURL      *url.URL
	CalendarPage string
	UserAgent    string
	FetchTimeout time.Duration
	LockPath     string
	KafkaBrokers []string
	KafkaTopic   string
}

// CalendarURL is the absolute URL of the FOMC calendars page.
func (s *Sync) CalendarURL() string {
	ref := &url.URL{Path: s.CalendarPage}
	return s.BaseURL.ResolveReference(ref).String()
}

// Calendar configures the run-date projection.
type Calendar struct {
	FeedURL      string
	UserAgent    string
	FetchTimeout time.Duration
	RunDatesPath string
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr     string
	DefaultPage  int
	MaxPage      int
	RunDatesPath string
}

var envOnce sync.Once

// loadEnvFiles reads .env then .env.local; variables already set win.
func loadEnvFiles() {
	envOnce.Do(func() {
		for _, f := range []string{".env", ".env.local"} {
			_ = godotenv.Load(f)
		}
	})
}

func loadCommon() Common {
	return Common{
		DatasetPath:        getEnv("DATASET_PATH", "data/communications.csv"),
		WatermarkPath:      getEnv("WATERMARK_PATH", "data/last_release.txt"),
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", ""),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "communications"),
	}
}

// LoadSync builds a Sync config from environment variables.
func LoadSync() (*Sync, error) {
	loadEnvFiles()

	rawBase := getEnv("FED_BASE_URL", "https://www.federalreserve.gov")
	base, err := url.Parse(rawBase)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("FED_BASE_URL must be an absolute http(s) URL, got %q", rawBase)
	}

	c := &Sync{
		Common:       loadCommon(),
		BaseURL:      base,
		CalendarPage: getEnv("FED_CALENDAR_PAGE", "/monetarypolicy/fomccalendars.htm"),
		UserAgent:    getEnv("FED_USER_AGENT", defaultUserAgent),
		FetchTimeout: getDuration("FETCH_TIMEOUT", "30s"),
		LockPath:     getEnv("LOCK_PATH", "data/.sync.lock"),
		KafkaBrokers: splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "fomc_communications"),
	}

	if c.FetchTimeout <= 0 {
		return nil, fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.DatasetPath == c.WatermarkPath {
		return nil, fmt.Errorf("DATASET_PATH and WATERMARK_PATH must differ")
	}

	return c, nil
}

// LoadCalendar builds a Calendar config from environment variables.
func LoadCalendar() (*Calendar, error) {
	loadEnvFiles()

	c := &Calendar{
		FeedURL:      getEnv("CALENDAR_FEED_URL", "https://www.federalreserve.gov/json/calendar.json"),
		UserAgent:    getEnv("FED_USER_AGENT", defaultUserAgent),
		FetchTimeout: getDuration("FETCH_TIMEOUT", "30s"),
		RunDatesPath: getEnv("RUN_DATES_PATH", "release_calendar.txt"),
	}

	if c.FetchTimeout <= 0 {
		return nil, fmt.Errorf("FETCH_TIMEOUT must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	loadEnvFiles()

	c := &API{
		Common:       loadCommon(),
		BindAddr:     getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage:  getInt("API_PAGE_SIZE", 20),
		MaxPage:      getInt("API_MAX_PAGE_SIZE", 100),
		RunDatesPath: getEnv("RUN_DATES_PATH", "release_calendar.txt"),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
