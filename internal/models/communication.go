package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the on-disk and wire format for every civil date.
const DateLayout = "2006-01-02"

// Type classifies a communication.
type Type string

const (
	TypeStatement        Type = "Statement"
	TypeMinute           Type = "Minute"
	TypeScheduledMeeting Type = "Scheduled Meeting"
)

// IsContent reports whether the type carries real published content.
func (t Type) IsContent() bool {
	return t == TypeStatement || t == TypeMinute
}

// ParseType maps a raw type label to a Type.
func ParseType(raw string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "statement":
		return TypeStatement, nil
	case "minute", "minutes":
		return TypeMinute, nil
	case "scheduled meeting":
		return TypeScheduledMeeting, nil
	default:
		return "", fmt.Errorf("unknown communication type %q", raw)
	}
}

// Communication is one row of the persisted dataset.
type Communication struct {
	Date        time.Time `json:"date"`
	ReleaseDate time.Time `json:"release_date"`
	Type        Type      `json:"type"`
	Text        string    `json:"text"`
}

// Key identifies a communication inside the dataset.
type Key struct {
	Date time.Time
	Type Type
}

// Key returns the (Date, Type) identity of the row.
func (c Communication) Key() Key {
	return Key{Date: c.Date, Type: c.Type}
}

// Raw renders the row back into its untyped form.
func (c Communication) Raw() RawRecord {
	return RawRecord{
		Date:        FormatDate(c.Date),
		ReleaseDate: FormatDate(c.ReleaseDate),
		Type:        string(c.Type),
		Text:        c.Text,
	}
}

// RawRecord is a communication as produced by the extractor or read from disk,
// before dates and type have been validated.
type RawRecord struct {
	Date        string
	ReleaseDate string
	Type        string
	Text        string
}

// Day truncates t to its calendar date, expressed as UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a civil date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
	"January 2, 2006",
}

// ParseDate accepts the date layouts seen in scraped pages and older datasets
// and returns the calendar date, discarding time of day.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return Day(ts), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}
