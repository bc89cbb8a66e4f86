// Package ingest provides the client for the hosted ingestion service,
// which caches raw per-message and per-event records fetched from the
// user's communication providers.
package ingest

import "time"

// MessageRecord is one raw message (email or chat) as cached by the
// ingestion service. Records are immutable inputs to the pipeline.
type MessageRecord struct {
	ID         string    `json:"id"`          // provider-scoped record ID
	Provider   string    `json:"provider"`    // "gmail", "outlook", "slack", ...
	MessageID  string    `json:"message_id"`  // RFC 5322 Message-ID header, may be empty
	InReplyTo  string    `json:"in_reply_to"` // Message-ID this record replies to
	References []string  `json:"references"`  // References header chain, oldest first
	Subject    string    `json:"subject"`
	From       string    `json:"from"` // raw address, possibly "Name <addr>"
	To         []string  `json:"to"`
	Cc         []string  `json:"cc"`
	Timestamp  time.Time `json:"timestamp"`
	Snippet    string    `json:"snippet"` // leading body text, may be empty
	IsChat     bool      `json:"is_chat"` // chat message rather than email
}

// CalendarEventRecord is one raw calendar event as cached by the
// ingestion service.
type CalendarEventRecord struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Title     string    `json:"title"`
	Organizer string    `json:"organizer"`
	Attendees []string  `json:"attendees"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
}

// DurationMinutes returns the event length in whole minutes, never negative.
func (e *CalendarEventRecord) DurationMinutes() int {
	if !e.EndsAt.After(e.StartsAt) {
		return 0
	}
	return int(e.EndsAt.Sub(e.StartsAt) / time.Minute)
}

// MessagePage is one page of message records.
type MessagePage struct {
	Records       []MessageRecord `json:"records"`
	NextPageToken string          `json:"next_page_token"`
}

// CalendarPage is one page of calendar event records.
type CalendarPage struct {
	Records       []CalendarEventRecord `json:"records"`
	NextPageToken string                `json:"next_page_token"`
}
