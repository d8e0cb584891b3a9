// Package reconcile folds freshly scraped communications into the persisted
// dataset.
//
// The merge is keyed by (Date, Type). Real content (statements and minutes)
// always supersedes a scheduled-meeting placeholder for the same date, and
// when two rows share a key the freshest one wins: new records first, then
// the existing dataset, then placeholders derived from the meeting calendar.
package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/DeafMist/fomc-tracker/internal/models"
)

// Source tells where a rejected record came from.
type Source string

const (
	SourceNew      Source = "new"
	SourceExisting Source = "existing"
)

// MalformedDateError is returned for a record whose date cannot be parsed.
type MalformedDateError struct {
	Field string
	Value string
	Err   error
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("malformed %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *MalformedDateError) Unwrap() error { return e.Err }

// ErrUnknownType marks a record whose type label is not recognised.
var ErrUnknownType = errors.New("unknown communication type")

// Rejected is a record dropped during normalisation.
type Rejected struct {
	Source Source
	Record models.RawRecord
	Err    error
}

// Input bundles everything one merge needs.
type Input struct {
	// New holds the statements and minutes scraped in this run.
	New []models.RawRecord
	// Existing is the persisted dataset; nil on the first run.
	Existing []models.RawRecord
	// MeetingDates lists every known meeting day covered by the source calendar.
	MeetingDates []time.Time
	// Watermark is the latest release date ingested before this run.
	Watermark time.Time
}

// Result is the reconciled dataset and the advanced watermark.
type Result struct {
	Dataset   []models.Communication
	Watermark time.Time
	// Ingested counts valid records from Input.New.
	Ingested int
	Dropped  []Rejected
}

// Merge reconciles new records with the existing dataset. It never fails as a
// whole: records with malformed dates or types are reported in Result.Dropped.
func Merge(in Input) Result {
	var res Result

	fresh := normalizeAll(in.New, SourceNew, &res.Dropped)
	existing := normalizeAll(in.Existing, SourceExisting, &res.Dropped)

	union := make([]models.Communication, 0, len(fresh)+len(existing)+len(in.MeetingDates))
	union = append(union, fresh...)
	union = append(union, existing...)
	union = append(union, scheduled(in.MeetingDates)...)

	published := make(map[time.Time]struct{})
	for _, c := range union {
		if c.Type.IsContent() {
			published[c.Date] = struct{}{}
		}
	}

	seen := make(map[models.Key]struct{}, len(union))
	out := make([]models.Communication, 0, len(union))
	for _, c := range union {
		if c.Type == models.TypeScheduledMeeting {
			if _, ok := published[c.Date]; ok {
				continue
			}
		}
		if _, ok := seen[c.Key()]; ok {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}

	Sort(out)

	res.Dataset = out
	res.Ingested = len(fresh)
	res.Watermark = advance(in.Watermark, fresh)
	return res
}

// Sort orders rows by date descending, then by type name.
func Sort(rows []models.Communication) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.After(rows[j].Date)
		}
		return rows[i].Type < rows[j].Type
	})
}

// Normalize validates a raw record and truncates its dates to calendar days.
func Normalize(raw models.RawRecord) (models.Communication, error) {
	date, err := models.ParseDate(raw.Date)
	if err != nil {
		return models.Communication{}, &MalformedDateError{Field: "date", Value: raw.Date, Err: err}
	}
	release, err := models.ParseDate(raw.ReleaseDate)
	if err != nil {
		return models.Communication{}, &MalformedDateError{Field: "release date", Value: raw.ReleaseDate, Err: err}
	}
	typ, err := models.ParseType(raw.Type)
	if err != nil {
		return models.Communication{}, fmt.Errorf("%w: %q", ErrUnknownType, raw.Type)
	}
	return models.Communication{
		Date:        date,
		ReleaseDate: release,
		Type:        typ,
		Text:        raw.Text,
	}, nil
}

func normalizeAll(raws []models.RawRecord, src Source, dropped *[]Rejected) []models.Communication {
	out := make([]models.Communication, 0, len(raws))
	for _, raw := range raws {
		c, err := Normalize(raw)
		if err != nil {
			*dropped = append(*dropped, Rejected{Source: src, Record: raw, Err: err})
			continue
		}
		out = append(out, c)
	}
	return out
}

func scheduled(dates []time.Time) []models.Communication {
	out := make([]models.Communication, 0, len(dates))
	for _, d := range dates {
		day := models.Day(d)
		out = append(out, models.Communication{
			Date:        day,
			ReleaseDate: day,
			Type:        models.TypeScheduledMeeting,
		})
	}
	return out
}

// advance never moves the watermark backwards and ignores placeholders.
func advance(current time.Time, fresh []models.Communication) time.Time {
	next := current
	for _, c := range fresh {
		if !c.Type.IsContent() {
			continue
		}
		if c.ReleaseDate.After(next) {
			next = c.ReleaseDate
		}
	}
	return next
}
