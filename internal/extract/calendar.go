// Package extract pulls meeting dates, communication links and statement text
// out of Federal Reserve HTML pages.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/DeafMist/fomc-tracker/internal/models"
)

// ErrNoMeetings is returned when a calendars page has no meeting panels.
var ErrNoMeetings = errors.New("no FOMC meeting panels found")

// ParseError reports input whose structure does not match what the extractor expects.
type ParseError struct {
	Page string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Page, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Link points at a statement or minutes page published for one meeting.
type Link struct {
	Date        time.Time
	ReleaseDate time.Time
	Type        models.Type
	URL         string
}

// Calendar is everything extracted from the FOMC calendars page.
type Calendar struct {
	Meetings []time.Time
	Links    []Link
	// Skipped counts meeting rows or links that could not be parsed.
	Skipped int
}

var (
	panelYear     = regexp.MustCompile(`(\d{4})\s+FOMC\s+Meetings`)
	dayNumber     = regexp.MustCompile(`\d+`)
	statementHref = regexp.MustCompile(`monetary(\d{8})a\.htm$`)
	minutesHref   = regexp.MustCompile(`fomcminutes(\d{8})\.htm$`)
	releasedOn    = regexp.MustCompile(`Released\s+([A-Z][a-z]+\.?\s+\d{1,2},\s+\d{4})`)
)

// MeetingDates returns the decision day of every meeting on the calendars page.
func MeetingDates(raw []byte) ([]time.Time, error) {
	cal, err := ParseCalendar(raw, nil)
	if err != nil {
		return nil, err
	}
	return cal.Meetings, nil
}

// Links returns the statement and minutes links on the calendars page,
// resolved against base.
func Links(raw []byte, base *url.URL) ([]Link, error) {
	cal, err := ParseCalendar(raw, base)
	if err != nil {
		return nil, err
	}
	return cal.Links, nil
}

// ParseCalendar walks every year panel of the calendars page once.
func ParseCalendar(raw []byte, base *url.URL) (*Calendar, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Page: "calendar", Err: err}
	}

	cal := &Calendar{}
	seenURL := make(map[string]struct{})
	panels := 0

	for _, panel := range findAll(doc, func(n *html.Node) bool { return hasClass(n, "panel") }) {
		year, ok := panelHeadingYear(panel)
		if !ok {
			continue
		}
		panels++

		for _, row := range findAll(panel, func(n *html.Node) bool { return hasClass(n, "fomc-meeting") }) {
			meeting, err := meetingDate(row, year)
			if err != nil {
				cal.Skipped++
				continue
			}
			cal.Meetings = append(cal.Meetings, meeting)

			for _, link := range rowLinks(row, meeting, base) {
				if link.URL == "" {
					cal.Skipped++
					continue
				}
				if _, dup := seenURL[link.URL]; dup {
					continue
				}
				seenURL[link.URL] = struct{}{}
				cal.Links = append(cal.Links, link)
			}
		}
	}

	if panels == 0 {
		return nil, &ParseError{Page: "calendar", Err: ErrNoMeetings}
	}
	return cal, nil
}

func panelHeadingYear(panel *html.Node) (int, bool) {
	h := findFirst(panel, func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == "h4" })
	if h == nil {
		return 0, false
	}
	m := panelYear.FindStringSubmatch(textOf(h))
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	return year, err == nil
}

// meetingDate resolves the last day of a meeting row such as
// "January / 30-31" or "Apr/May / 30-1*".
func meetingDate(row *html.Node, year int) (time.Time, error) {
	monthCell := findFirst(row, func(n *html.Node) bool { return hasClass(n, "fomc-meeting__month") })
	dateCell := findFirst(row, func(n *html.Node) bool { return hasClass(n, "fomc-meeting__date") })
	if monthCell == nil || dateCell == nil {
		return time.Time{}, errors.New("meeting row without month or date cell")
	}

	var months []time.Month
	for _, part := range strings.Split(textOf(monthCell), "/") {
		m, ok := parseMonth(part)
		if !ok {
			return time.Time{}, fmt.Errorf("unknown month %q", textOf(monthCell))
		}
		months = append(months, m)
	}

	var days []int
	for _, d := range dayNumber.FindAllString(textOf(dateCell), -1) {
		n, err := strconv.Atoi(d)
		if err != nil {
			continue
		}
		days = append(days, n)
	}
	if len(days) == 0 {
		return time.Time{}, fmt.Errorf("no day in %q", textOf(dateCell))
	}

	first, last := days[0], days[len(days)-1]
	month := months[len(months)-1]
	if len(months) == 1 && last < first {
		month++
	}

	return civilDate(year, month, last)
}

func rowLinks(row *html.Node, meeting time.Time, base *url.URL) []Link {
	rowText := textOf(row)

	var links []Link
	for _, a := range findAll(row, func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == "a" }) {
		href := strings.TrimSpace(attr(a, "href"))
		if href == "" {
			continue
		}

		if m := statementHref.FindStringSubmatch(href); m != nil {
			released, err := time.Parse("20060102", m[1])
			if err != nil {
				links = append(links, Link{})
				continue
			}
			links = append(links, Link{
				Date:        meeting,
				ReleaseDate: released,
				Type:        models.TypeStatement,
				URL:         resolve(base, href),
			})
			continue
		}

		if minutesHref.MatchString(href) {
			m := releasedOn.FindStringSubmatch(rowText)
			if m == nil {
				links = append(links, Link{})
				continue
			}
			released, err := models.ParseDate(strings.Replace(m[1], ".", "", 1))
			if err != nil {
				links = append(links, Link{})
				continue
			}
			links = append(links, Link{
				Date:        meeting,
				ReleaseDate: released,
				Type:        models.TypeMinute,
				URL:         resolve(base, href),
			})
		}
	}
	return links
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func parseMonth(raw string) (time.Month, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if len(name) < 3 {
		return 0, false
	}
	for m := time.January; m <= time.December; m++ {
		if strings.HasPrefix(strings.ToLower(m.String()), name[:3]) {
			return m, true
		}
	}
	return 0, false
}

// civilDate rejects dates that time.Date would silently normalise.
func civilDate(year int, month time.Month, day int) (time.Time, error) {
	if month > time.December {
		year++
		month = time.January
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("invalid date %d-%02d-%02d", year, month, day)
	}
	return t, nil
}
