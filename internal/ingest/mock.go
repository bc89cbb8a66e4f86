package ingest

import (
	"context"
	"sort"
	"strconv"
	"time"
)

// Mock is an in-memory API implementation for tests and local runs.
// It serves records newer than the requested watermark in pages of
// PageSize, mimicking the hosted service's pagination contract.
type Mock struct {
	Messages []MessageRecord
	Events   []CalendarEventRecord
	PageSize int

	// Err, when set, is returned by every call.
	Err error

	// MessageCalls and CalendarCalls count API invocations.
	MessageCalls  int
	CalendarCalls int
}

// NewMock creates a mock with the default page size.
func NewMock() *Mock {
	return &Mock{PageSize: 100}
}

// FetchMessages returns one page of messages newer than since.
func (m *Mock) FetchMessages(ctx context.Context, userID string, since time.Time, pageToken string) (*MessagePage, error) {
	m.MessageCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var filtered []MessageRecord
	for _, rec := range m.Messages {
		if since.IsZero() || rec.Timestamp.After(since) {
			filtered = append(filtered, rec)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	start, next := m.window(pageToken, len(filtered))
	page := &MessagePage{NextPageToken: next}
	end := start + m.pageSize()
	if end > len(filtered) {
		end = len(filtered)
	}
	page.Records = filtered[start:end]
	if end >= len(filtered) {
		page.NextPageToken = ""
	}
	return page, nil
}

// FetchCalendarEvents returns one page of calendar events newer than since.
func (m *Mock) FetchCalendarEvents(ctx context.Context, userID string, since time.Time, pageToken string) (*CalendarPage, error) {
	m.CalendarCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var filtered []CalendarEventRecord
	for _, rec := range m.Events {
		if since.IsZero() || rec.StartsAt.After(since) {
			filtered = append(filtered, rec)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].StartsAt.Before(filtered[j].StartsAt)
	})

	start, next := m.window(pageToken, len(filtered))
	page := &CalendarPage{NextPageToken: next}
	end := start + m.pageSize()
	if end > len(filtered) {
		end = len(filtered)
	}
	page.Records = filtered[start:end]
	if end >= len(filtered) {
		page.NextPageToken = ""
	}
	return page, nil
}

func (m *Mock) pageSize() int {
	if m.PageSize <= 0 {
		return 100
	}
	return m.PageSize
}

// window decodes a page token (a numeric offset) and returns the start
// offset plus the token for the following page.
func (m *Mock) window(token string, total int) (start int, next string) {
	if token != "" {
		start, _ = strconv.Atoi(token)
	}
	if start > total {
		start = total
	}
	end := start + m.pageSize()
	if end < total {
		next = strconv.Itoa(end)
	}
	return start, next
}
