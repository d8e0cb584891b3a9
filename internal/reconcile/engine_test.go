package reconcile_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/fomc-tracker/internal/models"
	"github.com/DeafMist/fomc-tracker/internal/reconcile"
)

func day(raw string) time.Time {
	ts, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		panic(err)
	}
	return ts
}

func raws(rows []models.Communication) []models.RawRecord {
	out := make([]models.RawRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Raw())
	}
	return out
}

func TestMergeFirstRunPlaceholderOnly(t *testing.T) {
	res := reconcile.Merge(reconcile.Input{
		MeetingDates: []time.Time{day("2024-01-31")},
	})

	require.Equal(t, []models.Communication{{
		Date:        day("2024-01-31"),
		ReleaseDate: day("2024-01-31"),
		Type:        models.TypeScheduledMeeting,
		Text:        "",
	}}, res.Dataset)
	require.True(t, res.Watermark.IsZero())
	require.Zero(t, res.Ingested)
	require.Empty(t, res.Dropped)
}

func TestMergeStatementSupersedesPlaceholder(t *testing.T) {
	meetings := []time.Time{day("2024-01-31")}
	first := reconcile.Merge(reconcile.Input{MeetingDates: meetings})

	second := reconcile.Merge(reconcile.Input{
		New: []models.RawRecord{{
			Date:        "2024-01-31",
			ReleaseDate: "2024-01-31",
			Type:        "Statement",
			Text:        "The Committee...",
		}},
		Existing:     raws(first.Dataset),
		MeetingDates: meetings,
		Watermark:    first.Watermark,
	})

	require.Len(t, second.Dataset, 1)
	require.Equal(t, models.TypeStatement, second.Dataset[0].Type)
	require.Equal(t, "The Committee...", second.Dataset[0].Text)
	require.Equal(t, day("2024-01-31"), second.Watermark)
	require.Equal(t, 1, second.Ingested)
}

func TestMergeSupersessionIgnoresInsertionOrder(t *testing.T) {
	// The placeholder arrives through the existing dataset and the statement
	// through the existing dataset too, placeholder first.
	res := reconcile.Merge(reconcile.Input{
		Existing: []models.RawRecord{
			{Date: "2024-03-20", ReleaseDate: "2024-03-20", Type: "Scheduled Meeting"},
			{Date: "2024-03-20", ReleaseDate: "2024-04-10", Type: "Minute", Text: "Minutes of the meeting"},
		},
		MeetingDates: []time.Time{day("2024-03-20")},
	})

	require.Len(t, res.Dataset, 1)
	require.Equal(t, models.TypeMinute, res.Dataset[0].Type)
}

func TestMergeStatementAndMinuteCoexist(t *testing.T) {
	res := reconcile.Merge(reconcile.Input{
		New: []models.RawRecord{
			{Date: "2024-01-31", ReleaseDate: "2024-02-21", Type: "Minute", Text: "minutes"},
			{Date: "2024-01-31", ReleaseDate: "2024-01-31", Type: "Statement", Text: "statement"},
		},
		MeetingDates: []time.Time{day("2024-01-31")},
	})

	require.Len(t, res.Dataset, 2)
	require.Equal(t, models.TypeMinute, res.Dataset[0].Type)
	require.Equal(t, day("2024-02-21"), res.Dataset[0].ReleaseDate)
	require.Equal(t, models.TypeStatement, res.Dataset[1].Type)
	require.Equal(t, day("2024-01-31"), res.Dataset[1].ReleaseDate)
	require.Equal(t, day("2024-02-21"), res.Watermark)
}

func TestMergeNewRecordWinsOverExisting(t *testing.T) {
	res := reconcile.Merge(reconcile.Input{
		New: []models.RawRecord{
			{Date: "2024-01-31", ReleaseDate: "2024-01-31", Type: "Statement", Text: "corrected"},
		},
		Existing: []models.RawRecord{
			{Date: "2024-01-31T00:00:00Z", ReleaseDate: "2024-01-31", Type: "Statement", Text: "original"},
		},
		Watermark: day("2024-01-31"),
	})

	require.Len(t, res.Dataset, 1)
	require.Equal(t, "corrected", res.Dataset[0].Text)
}

func TestMergeDropsMalformedRecords(t *testing.T) {
	res := reconcile.Merge(reconcile.Input{
		New: []models.RawRecord{
			{Date: "not-a-date", ReleaseDate: "2024-01-31", Type: "Statement", Text: "bad"},
			{Date: "2024-01-31", ReleaseDate: "2024-01-31", Type: "Statement", Text: "good"},
			{Date: "2024-01-31", ReleaseDate: "2024-01-31", Type: "Press Conference", Text: "odd"},
		},
		Existing: []models.RawRecord{
			{Date: "2023-12-13", ReleaseDate: "yesterday", Type: "Statement"},
		},
	})

	require.Len(t, res.Dataset, 1)
	require.Equal(t, "good", res.Dataset[0].Text)
	require.Equal(t, 1, res.Ingested)
	require.Len(t, res.Dropped, 3)

	var dateErr *reconcile.MalformedDateError
	require.True(t, errors.As(res.Dropped[0].Err, &dateErr))
	require.Equal(t, "date", dateErr.Field)
	require.Equal(t, reconcile.SourceNew, res.Dropped[0].Source)
	require.ErrorIs(t, res.Dropped[1].Err, reconcile.ErrUnknownType)
	require.True(t, errors.As(res.Dropped[2].Err, &dateErr))
	require.Equal(t, "release date", dateErr.Field)
	require.Equal(t, reconcile.SourceExisting, res.Dropped[2].Source)
}

func TestMergeWatermarkNeverRegresses(t *testing.T) {
	old := day("2024-06-12")

	res := reconcile.Merge(reconcile.Input{
		New: []models.RawRecord{
			{Date: "2024-01-31", ReleaseDate: "2024-01-31", Type: "Statement", Text: "late rescrape"},
		},
		Watermark: old,
	})
	require.Equal(t, old, res.Watermark)

	res = reconcile.Merge(reconcile.Input{
		MeetingDates: []time.Time{day("2024-12-18")},
		Watermark:    old,
	})
	require.Equal(t, old, res.Watermark, "placeholders must not advance the watermark")
}

func TestMergeProperties(t *testing.T) {
	meetings := []time.Time{
		day("2024-01-31"),
		day("2024-03-20"),
		day("2024-05-01"),
		day("2024-06-12"),
		day("2024-06-12"),
	}
	existing := []models.RawRecord{
		{Date: "2024-01-31", ReleaseDate: "2024-01-31", Type: "Statement", Text: "jan"},
		{Date: "2024-03-20", ReleaseDate: "2024-03-20", Type: "Scheduled Meeting"},
		{Date: "2023-12-13", ReleaseDate: "2023-12-13", Type: "Statement", Text: "dec"},
	}
	fresh := []models.RawRecord{
		{Date: "2024-03-20", ReleaseDate: "2024-03-20", Type: "Statement", Text: "mar"},
		{Date: "2024-01-31", ReleaseDate: "2024-02-21", Type: "Minute", Text: "jan minutes"},
		{Date: "2024-03-20", ReleaseDate: "2024-03-20", Type: "Statement", Text: "mar duplicate"},
	}

	once := reconcile.Merge(reconcile.Input{
		New:          fresh,
		Existing:     existing,
		MeetingDates: meetings,
		Watermark:    day("2024-01-31"),
	})

	t.Run("key uniqueness", func(t *testing.T) {
		seen := map[models.Key]bool{}
		for _, row := range once.Dataset {
			require.False(t, seen[row.Key()], "duplicate key %v", row.Key())
			seen[row.Key()] = true
		}
	})

	t.Run("supersession", func(t *testing.T) {
		content := map[time.Time]bool{}
		for _, row := range once.Dataset {
			if row.Type.IsContent() {
				content[row.Date] = true
			}
		}
		for _, row := range once.Dataset {
			if row.Type == models.TypeScheduledMeeting {
				require.False(t, content[row.Date], "placeholder kept for %s", models.FormatDate(row.Date))
			}
		}
	})

	t.Run("sort order", func(t *testing.T) {
		for i := 1; i < len(once.Dataset); i++ {
			require.False(t, once.Dataset[i].Date.After(once.Dataset[i-1].Date))
		}
	})

	t.Run("first encountered wins", func(t *testing.T) {
		for _, row := range once.Dataset {
			if row.Type == models.TypeStatement && row.Date.Equal(day("2024-03-20")) {
				require.Equal(t, "mar", row.Text)
			}
		}
	})

	t.Run("placeholders for unpublished meetings", func(t *testing.T) {
		var got []string
		for _, row := range once.Dataset {
			if row.Type == models.TypeScheduledMeeting {
				got = append(got, models.FormatDate(row.Date))
			}
		}
		require.Equal(t, []string{"2024-06-12", "2024-05-01"}, got)
	})

	t.Run("watermark", func(t *testing.T) {
		require.Equal(t, day("2024-03-20"), once.Watermark)
	})

	t.Run("idempotent", func(t *testing.T) {
		twice := reconcile.Merge(reconcile.Input{
			New:          fresh,
			Existing:     raws(once.Dataset),
			MeetingDates: meetings,
			Watermark:    once.Watermark,
		})
		require.Equal(t, once.Dataset, twice.Dataset)
		require.Equal(t, once.Watermark, twice.Watermark)
	})
}

func TestSortTieBreaksByType(t *testing.T) {
	rows := []models.Communication{
		{Date: day("2024-01-31"), Type: models.TypeStatement},
		{Date: day("2023-12-13"), Type: models.TypeStatement},
		{Date: day("2024-01-31"), Type: models.TypeMinute},
	}
	reconcile.Sort(rows)

	require.Equal(t, models.TypeMinute, rows[0].Type)
	require.Equal(t, models.TypeStatement, rows[1].Type)
	require.Equal(t, day("2023-12-13"), rows[2].Date)
}
