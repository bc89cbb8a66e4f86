// Package timeline merges messages and calendar events into one
// chronological stream and derives workload metrics from it.
package timeline

import (
	"sort"
	"time"

	"github.com/commsight/commsight/internal/contacts"
	"github.com/commsight/commsight/internal/ingest"
)

// EventType classifies a timeline entry.
type EventType string

const (
	EmailSent     EventType = "email_sent"
	EmailReceived EventType = "email_received"
	Meeting       EventType = "meeting"
	ChatMessage   EventType = "chat_message"
)

// Event is one entry in the unified timeline. Events are derived from
// raw records and recomputed per run; SourceID back-references the raw
// record for idempotent persistence.
type Event struct {
	SourceID        string
	Type            EventType
	Timestamp       time.Time
	Participants    []string // canonical identities
	Subject         string
	DurationMinutes int // meetings only, zero otherwise
	Context         string
}

// LoadWeights are the cognitive-load formula coefficients. All four
// must be non-negative for the score to stay monotone in its inputs.
type LoadWeights struct {
	Meeting       float64
	Email         float64
	Switch        float64
	MeetingMinute float64
}

// DefaultWeights returns the suggested coefficients.
func DefaultWeights() LoadWeights {
	return LoadWeights{Meeting: 3.0, Email: 0.5, Switch: 2.0, MeetingMinute: 0.1}
}

// Config holds the externally supplied timeline knobs.
type Config struct {
	Weights LoadWeights

	// EventEstimate is the fixed time credited to non-meeting events in
	// time-by-context totals. It is a simplifying assumption, not a
	// measurement.
	EventEstimate time.Duration

	Categories []Category
}

// DefaultConfig returns the standard knobs.
func DefaultConfig() Config {
	return Config{
		Weights:       DefaultWeights(),
		EventEstimate: 5 * time.Minute,
		Categories:    DefaultCategories(),
	}
}

// Builder accumulates events for one pipeline owner and answers metric
// queries over them. Not safe for concurrent mutation.
type Builder struct {
	owner      string // canonical owner identity
	resolver   *contacts.Normalizer
	classifier *Classifier
	cfg        Config

	events []Event
	seen   map[string]bool // SourceIDs already added; first wins
	sorted bool
}

// NewBuilder creates a Builder. owner must already be resolved to its
// canonical form by the given resolver.
func NewBuilder(resolver *contacts.Normalizer, owner string, cfg Config) *Builder {
	return &Builder{
		owner:      owner,
		resolver:   resolver,
		classifier: NewClassifier(cfg.Categories),
		cfg:        cfg,
		seen:       make(map[string]bool),
	}
}

// AddMessages converts raw messages into timeline events. Direction is
// inferred from the sender: the owner's own address means sent.
func (b *Builder) AddMessages(msgs []ingest.MessageRecord) {
	for i := range msgs {
		m := &msgs[i]
		if b.seen[m.ID] {
			continue
		}

		typ := EmailReceived
		if b.resolver.Canonical(m.From) == b.owner {
			typ = EmailSent
		}
		if m.IsChat {
			typ = ChatMessage
		}

		b.append(Event{
			SourceID:     m.ID,
			Type:         typ,
			Timestamp:    m.Timestamp,
			Participants: b.canonicalSet(append([]string{m.From}, append(m.To, m.Cc...)...)),
			Subject:      m.Subject,
			Context:      b.classifier.Classify(m.Subject + " " + m.Snippet),
		})
	}
}

// AddCalendarEvents converts raw calendar events into meeting entries.
func (b *Builder) AddCalendarEvents(events []ingest.CalendarEventRecord) {
	for i := range events {
		e := &events[i]
		if b.seen[e.ID] {
			continue
		}

		b.append(Event{
			SourceID:        e.ID,
			Type:            Meeting,
			Timestamp:       e.StartsAt,
			Participants:    b.canonicalSet(append([]string{e.Organizer}, e.Attendees...)),
			Subject:         e.Title,
			DurationMinutes: e.DurationMinutes(),
			Context:         b.classifier.Classify(e.Title),
		})
	}
}

// AddEvents merges already-derived events (typically loaded from the
// store for incremental metric recomputation). Events whose SourceID
// was already added are skipped, so fresh derivations win.
func (b *Builder) AddEvents(events []Event) {
	for _, e := range events {
		if b.seen[e.SourceID] {
			continue
		}
		b.append(e)
	}
}

func (b *Builder) append(e Event) {
	if e.SourceID != "" {
		b.seen[e.SourceID] = true
	}
	b.events = append(b.events, e)
	b.sorted = false
}

func (b *Builder) canonicalSet(raw []string) []string {
	out := make([]string, 0, len(raw))
	dup := make(map[string]bool, len(raw))
	for _, addr := range raw {
		c := b.resolver.Canonical(addr)
		if c == "" || dup[c] {
			continue
		}
		dup[c] = true
		out = append(out, c)
	}
	return out
}

// ensureSorted orders events strictly ascending by timestamp; the
// stable sort preserves insertion order for equal timestamps.
func (b *Builder) ensureSorted() {
	if b.sorted {
		return
	}
	sort.SliceStable(b.events, func(i, j int) bool {
		return b.events[i].Timestamp.Before(b.events[j].Timestamp)
	})
	b.sorted = true
}

// Timeline returns events within [from, to), sorted ascending. Zero
// bounds are open-ended.
func (b *Builder) Timeline(from, to time.Time) []Event {
	b.ensureSorted()
	var out []Event
	for _, e := range b.events {
		if inRange(e.Timestamp, from, to) {
			out = append(out, e)
		}
	}
	return out
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && !ts.Before(to) {
		return false
	}
	return true
}

// ContextSwitches counts context transitions in the sorted timeline
// within the range. Zero or one event means zero switches.
func (b *Builder) ContextSwitches(from, to time.Time) int {
	return countSwitches(b.Timeline(from, to))
}

func countSwitches(events []Event) int {
	switches := 0
	for i := 1; i < len(events); i++ {
		if events[i].Context != events[i-1].Context {
			switches++
		}
	}
	return switches
}

// SwitchesByHour buckets a single day's events by hour of start time
// and counts switches independently per bucket. An event spanning an
// hour boundary is attributed entirely to its start hour; the buckets
// are an approximation, not an apportionment.
func (b *Builder) SwitchesByHour(date time.Time) map[int]int {
	out := make(map[int]int)
	for hour, events := range b.hourBuckets(date) {
		out[hour] = countSwitches(events)
	}
	return out
}

// TimeByContext totals time per context category across all events:
// meetings contribute their true duration, every other event the
// configured fixed estimate.
func (b *Builder) TimeByContext() map[string]time.Duration {
	return b.TimeByContextRange(time.Time{}, time.Time{})
}

// TimeByContextRange is TimeByContext restricted to [from, to).
func (b *Builder) TimeByContextRange(from, to time.Time) map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, e := range b.Timeline(from, to) {
		if e.Type == Meeting {
			out[e.Context] += time.Duration(e.DurationMinutes) * time.Minute
		} else {
			out[e.Context] += b.cfg.EventEstimate
		}
	}
	return out
}

// CognitiveLoad scores the range with the configured weights:
//
//	load = meetings*w_m + messages*w_e + switches*w_s + meetingMinutes*w_d
//
// With non-negative weights the score is monotonically non-decreasing
// in each term.
func (b *Builder) CognitiveLoad(from, to time.Time) float64 {
	events := b.Timeline(from, to)
	return b.loadOf(events, countSwitches(events))
}

func (b *Builder) loadOf(events []Event, switches int) float64 {
	meetings, messages, meetingMinutes := 0, 0, 0
	for _, e := range events {
		if e.Type == Meeting {
			meetings++
			meetingMinutes += e.DurationMinutes
		} else {
			messages++
		}
	}
	w := b.cfg.Weights
	return float64(meetings)*w.Meeting +
		float64(messages)*w.Email +
		float64(switches)*w.Switch +
		float64(meetingMinutes)*w.MeetingMinute
}

// LoadByHour computes the load independently per hour bucket of one day.
func (b *Builder) LoadByHour(date time.Time) map[int]float64 {
	out := make(map[int]float64)
	for hour, events := range b.hourBuckets(date) {
		out[hour] = b.loadOf(events, countSwitches(events))
	}
	return out
}

// hourBuckets splits one calendar day's events by hour of start time.
func (b *Builder) hourBuckets(date time.Time) map[int][]Event {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	buckets := make(map[int][]Event)
	for _, e := range b.Timeline(dayStart, dayEnd) {
		hour := e.Timestamp.In(date.Location()).Hour()
		buckets[hour] = append(buckets[hour], e)
	}
	return buckets
}

// MeetingMinutes totals true meeting duration within the range.
func (b *Builder) MeetingMinutes(from, to time.Time) int {
	total := 0
	for _, e := range b.Timeline(from, to) {
		if e.Type == Meeting {
			total += e.DurationMinutes
		}
	}
	return total
}

// Counts returns the meeting and non-meeting event counts in the range.
func (b *Builder) Counts(from, to time.Time) (meetings, messages int) {
	for _, e := range b.Timeline(from, to) {
		if e.Type == Meeting {
			meetings++
		} else {
			messages++
		}
	}
	return meetings, messages
}
