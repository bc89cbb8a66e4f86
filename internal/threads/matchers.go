package threads

import (
	"sort"
	"strings"
	"time"

	"github.com/commsight/commsight/internal/ingest"
)

// matcher tries to place a message into an existing thread. The
// grouping cascade is an ordered list of these, short-circuiting on the
// first success, so new strategies can be inserted without touching
// existing ones.
type matcher func(msg *ingest.MessageRecord) *threadBuilder

// threadBuilder accumulates one thread's messages during grouping.
type threadBuilder struct {
	msgs         []ingest.MessageRecord
	participants map[string]bool // canonical identities
	subjectKey   string
	lastAt       time.Time
}

// index holds the lookup structures the matchers consult.
type index struct {
	r         *Reconstructor
	threads   []*threadBuilder
	byMsgID   map[string]*threadBuilder   // Message-ID header or record id -> thread
	bySubject map[string][]*threadBuilder // normalized subject -> threads, creation order
}

func newIndex(r *Reconstructor) *index {
	return &index{
		r:         r,
		byMsgID:   make(map[string]*threadBuilder),
		bySubject: make(map[string][]*threadBuilder),
	}
}

// cascade returns the grouping strategies in priority order.
func (ix *index) cascade() []matcher {
	return []matcher{
		ix.matchReplyHeader,
		ix.matchReferences,
		ix.matchFuzzySubject,
	}
}

// matchReplyHeader links a message whose In-Reply-To header points at
// an already-seen message.
func (ix *index) matchReplyHeader(msg *ingest.MessageRecord) *threadBuilder {
	if msg.InReplyTo == "" {
		return nil
	}
	return ix.byMsgID[msg.InReplyTo]
}

// matchReferences walks the References chain, newest reference first,
// and links to the first already-seen message.
func (ix *index) matchReferences(msg *ingest.MessageRecord) *threadBuilder {
	for i := len(msg.References) - 1; i >= 0; i-- {
		if tb := ix.byMsgID[msg.References[i]]; tb != nil {
			return tb
		}
	}
	return nil
}

// matchFuzzySubject groups unlinked messages that share a normalized
// subject, overlap in at least one participant, and fall within the
// configured time window of the candidate thread's latest message.
func (ix *index) matchFuzzySubject(msg *ingest.MessageRecord) *threadBuilder {
	key := normalizeSubject(msg.Subject)
	if key == "" {
		return nil
	}
	participants := ix.r.canonicalParticipants(msg)
	for _, tb := range ix.bySubject[key] {
		if msg.Timestamp.Sub(tb.lastAt) > ix.r.cfg.SubjectWindow {
			continue
		}
		if overlaps(participants, tb.participants) {
			return tb
		}
	}
	return nil
}

// newThread starts a singleton thread for a message no strategy matched.
func (ix *index) newThread(msg *ingest.MessageRecord) *threadBuilder {
	tb := &threadBuilder{
		participants: make(map[string]bool),
		subjectKey:   normalizeSubject(msg.Subject),
	}
	ix.threads = append(ix.threads, tb)
	if tb.subjectKey != "" {
		ix.bySubject[tb.subjectKey] = append(ix.bySubject[tb.subjectKey], tb)
	}
	return tb
}

// add appends a message to a thread and updates the lookup structures.
func (ix *index) add(tb *threadBuilder, msg *ingest.MessageRecord) {
	tb.msgs = append(tb.msgs, *msg)
	tb.lastAt = msg.Timestamp
	for _, p := range ix.r.canonicalParticipants(msg) {
		tb.participants[p] = true
	}
	if msg.MessageID != "" {
		ix.byMsgID[msg.MessageID] = tb
	}
	if msg.ID != "" {
		ix.byMsgID[msg.ID] = tb
	}
}

// canonicalParticipants resolves every participant of a message to its
// canonical identity.
func (r *Reconstructor) canonicalParticipants(msg *ingest.MessageRecord) []string {
	raw := make([]string, 0, 1+len(msg.To)+len(msg.Cc))
	raw = append(raw, msg.From)
	raw = append(raw, msg.To...)
	raw = append(raw, msg.Cc...)

	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, addr := range raw {
		c := r.resolver.Canonical(addr)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func overlaps(participants []string, set map[string]bool) bool {
	for _, p := range participants {
		if set[p] {
			return true
		}
	}
	return false
}

// subjectPrefixes are the reply/forward markers stripped during subject
// normalization.
var subjectPrefixes = []string{"re:", "fwd:", "fw:"}

// normalizeSubject lowercases, trims, and strips any number of leading
// Re:/Fwd: tokens so replies and forwards group with their origin.
func normalizeSubject(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	for {
		stripped := false
		for _, prefix := range subjectPrefixes {
			if strings.HasPrefix(s, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				stripped = true
			}
		}
		if !stripped {
			return s
		}
	}
}

// sortByTimestamp orders messages ascending, preserving input order for
// equal timestamps.
func sortByTimestamp(msgs []ingest.MessageRecord) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

// median returns the middle value of the durations; for an even count,
// the mean of the two middle values.
func median(durations []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
