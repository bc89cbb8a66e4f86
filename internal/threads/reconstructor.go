// Package threads groups raw messages into conversation threads and
// derives per-thread response statistics.
package threads

import (
	"time"

	"github.com/commsight/commsight/internal/contacts"
	"github.com/commsight/commsight/internal/ingest"
	"github.com/commsight/commsight/internal/workhours"
)

// Config holds the externally supplied thread-reconstruction knobs.
type Config struct {
	// SubjectWindow bounds fuzzy subject grouping: a message only joins
	// a thread with a matching subject if it arrives within this window
	// of the thread's latest message.
	SubjectWindow time.Duration

	// AbandonAfter flags a thread abandoned when its newest message was
	// received (not sent by the owner) longer ago than this.
	AbandonAfter time.Duration

	// AutoReplyFloor excludes near-instant replies from the response
	// statistic as probable autoresponders.
	AutoReplyFloor time.Duration

	// WorkHours restricts response-time deltas to business time so
	// overnight and weekend gaps don't inflate the statistic.
	WorkHours workhours.Schedule
}

// DefaultConfig returns the standard knobs.
func DefaultConfig() Config {
	return Config{
		SubjectWindow:  72 * time.Hour,
		AbandonAfter:   7 * 24 * time.Hour,
		AutoReplyFloor: time.Minute,
		WorkHours:      workhours.Default(),
	}
}

// Thread is one reconstructed conversation. Threads are fully derived:
// each run recomputes them from the current message set.
type Thread struct {
	// ID is the record id of the thread's earliest message, which makes
	// reconstruction deterministic and persistence idempotent.
	ID string

	Subject      string
	MessageIDs   []string // ordered by timestamp
	HasReplied   bool
	LastReceived string // record id of the newest received message, if any

	// MedianResponse is the median business-time reply delta. Valid
	// only when HasResponseStat is true; a thread with no qualifying
	// replies has no statistic rather than a zero one.
	MedianResponse  time.Duration
	HasResponseStat bool

	IsAbandoned  bool
	LastActivity time.Time
}

// Reconstructor groups messages for one pipeline owner.
type Reconstructor struct {
	owner    string // canonical owner identity
	resolver *contacts.Normalizer
	cfg      Config
	now      func() time.Time
}

// New creates a Reconstructor. owner must already be resolved to its
// canonical form by the given resolver.
func New(resolver *contacts.Normalizer, owner string, cfg Config) *Reconstructor {
	return &Reconstructor{
		owner:    owner,
		resolver: resolver,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock overrides the abandonment clock, for tests.
func (r *Reconstructor) WithClock(now func() time.Time) *Reconstructor {
	r.now = now
	return r
}

// Reconstruct groups the batch into threads. Duplicate record ids keep
// only their first occurrence. Messages with no usable headers each
// form a singleton thread.
func (r *Reconstructor) Reconstruct(msgs []ingest.MessageRecord) []*Thread {
	deduped := dedupe(msgs)
	sortByTimestamp(deduped)

	idx := newIndex(r)
	matchers := idx.cascade()

	for i := range deduped {
		msg := &deduped[i]
		var tb *threadBuilder
		for _, match := range matchers {
			if found := match(msg); found != nil {
				tb = found
				break
			}
		}
		if tb == nil {
			tb = idx.newThread(msg)
		}
		idx.add(tb, msg)
	}

	out := make([]*Thread, 0, len(idx.threads))
	for _, tb := range idx.threads {
		out = append(out, r.finish(tb))
	}
	return out
}

// dedupe drops repeated record ids, keeping the first occurrence in
// batch order.
func dedupe(msgs []ingest.MessageRecord) []ingest.MessageRecord {
	seen := make(map[string]bool, len(msgs))
	out := make([]ingest.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != "" && seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

// finish derives the thread's statistics from its grouped messages.
func (r *Reconstructor) finish(tb *threadBuilder) *Thread {
	t := &Thread{
		ID:      tb.msgs[0].ID,
		Subject: tb.msgs[0].Subject,
	}

	var deltas []time.Duration
	sawReceived := false
	var prev *ingest.MessageRecord

	for i := range tb.msgs {
		msg := &tb.msgs[i]
		t.MessageIDs = append(t.MessageIDs, msg.ID)
		t.LastActivity = msg.Timestamp

		sent := r.resolver.Canonical(msg.From) == r.owner
		if sent {
			if sawReceived {
				t.HasReplied = true
			}
		} else {
			sawReceived = true
			t.LastReceived = msg.ID
		}

		if prev != nil && r.resolver.Canonical(prev.From) != r.resolver.Canonical(msg.From) {
			wall := msg.Timestamp.Sub(prev.Timestamp)
			if wall >= r.cfg.AutoReplyFloor {
				deltas = append(deltas, r.cfg.WorkHours.Between(prev.Timestamp, msg.Timestamp))
			}
		}
		prev = msg
	}

	if len(deltas) > 0 {
		t.MedianResponse = median(deltas)
		t.HasResponseStat = true
	}

	last := &tb.msgs[len(tb.msgs)-1]
	lastReceived := r.resolver.Canonical(last.From) != r.owner
	if lastReceived && r.now().Sub(last.Timestamp) > r.cfg.AbandonAfter {
		t.IsAbandoned = true
	}

	return t
}
