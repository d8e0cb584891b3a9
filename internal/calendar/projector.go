// Package calendar turns the Federal Reserve event calendar feed into the list
// of T+1 run dates: the day after each FOMC decision or minutes release.
package calendar

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/DeafMist/fomc-tracker/internal/models"
	"github.com/DeafMist/fomc-tracker/internal/storage"
)

var titles = map[string]struct{}{
	"FOMC Meeting": {},
	"FOMC Minutes": {},
}

// Days holds the comma-separated day list of an event. The feed sends it as a
// string, occasionally as a bare number.
type Days string

func (d *Days) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Days(s)
		return nil
	}
	*d = Days(data)
	return nil
}

// Event is one entry of the calendar feed.
type Event struct {
	Title string `json:"title"`
	Month string `json:"month"`
	Days  Days   `json:"days"`
}

// Feed is the decoded calendar document.
type Feed struct {
	Events []Event `json:"events"`
}

// DecodeFeed reads the calendar JSON, tolerating a leading byte order mark.
func DecodeFeed(r io.Reader) (*Feed, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	var feed Feed
	if err := json.NewDecoder(decoded).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode calendar feed: %w", err)
	}
	return &feed, nil
}

// Project returns the distinct T+1 run dates of every FOMC meeting and minutes
// event, newest first. Events with malformed month or days are skipped.
func Project(events []Event) []time.Time {
	seen := make(map[time.Time]struct{})
	out := make([]time.Time, 0, len(events))

	for _, ev := range events {
		if _, ok := titles[strings.TrimSpace(ev.Title)]; !ok {
			continue
		}
		release, err := releaseDay(ev)
		if err != nil {
			continue
		}
		run := release.AddDate(0, 0, 1)
		if _, dup := seen[run]; dup {
			continue
		}
		seen[run] = struct{}{}
		out = append(out, run)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out
}

func releaseDay(ev Event) (time.Time, error) {
	year, month, ok := strings.Cut(strings.TrimSpace(ev.Month), "-")
	if !ok {
		return time.Time{}, fmt.Errorf("month %q is not YYYY-MM", ev.Month)
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return time.Time{}, fmt.Errorf("year %q: %w", year, err)
	}
	m, err := strconv.Atoi(strings.TrimSpace(month))
	if err != nil {
		return time.Time{}, fmt.Errorf("month %q: %w", month, err)
	}

	last := -1
	for _, part := range strings.Split(string(ev.Days), ",") {
		d, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if d > last {
			last = d
		}
	}
	if last < 0 {
		return time.Time{}, fmt.Errorf("no day in %q", ev.Days)
	}

	if m < 1 || m > 12 {
		return time.Time{}, fmt.Errorf("month %d out of range", m)
	}
	t := time.Date(y, time.Month(m), last, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != last {
		return time.Time{}, fmt.Errorf("invalid date %04d-%02d-%02d", y, m, last)
	}
	return t, nil
}

// WriteRunDates replaces path with two metadata lines followed by one date per line.
func WriteRunDates(path, source string, generated time.Time, dates []time.Time) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Source: %s\n", source)
	fmt.Fprintf(&buf, "# Updated: %s\n", models.FormatDate(generated))
	for _, d := range dates {
		buf.WriteString(models.FormatDate(d))
		buf.WriteByte('\n')
	}
	return storage.WriteAtomic(path, buf.Bytes())
}

// ReadRunDates parses a file written by WriteRunDates, skipping comment lines.
func ReadRunDates(path string) ([]time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, &storage.PersistenceError{Op: "open run dates", Path: path, Err: err}
	}
	defer f.Close()

	var out []time.Time
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ts, err := time.Parse(models.DateLayout, line)
		if err != nil {
			return nil, &storage.PersistenceError{Op: "parse run dates", Path: path, Err: err}
		}
		out = append(out, ts)
	}
	if err := scanner.Err(); err != nil {
		return nil, &storage.PersistenceError{Op: "read run dates", Path: path, Err: err}
	}
	return out, nil
}
