package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/commsight/commsight/internal/ingest"
	"github.com/commsight/commsight/internal/pipeline"
	"github.com/commsight/commsight/internal/store"
)

// newDemoRunner is newRunner with the hosted client replaced by an
// in-memory mock preloaded with two weeks of synthetic activity, so
// the pipeline can be tried without an ingestion service account.
func newDemoRunner(s *store.Store, email string) *pipeline.Runner {
	opts := pipelineOptions()
	if opts.OwnerDomain == "" {
		opts.OwnerDomain = emailDomain(email)
	}
	return pipeline.New(demoMock(email), s, opts).WithLogger(logger)
}

func emailDomain(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[i+1:]
	}
	return ""
}

// demoMock generates a plausible fortnight for the given user: a daily
// standup, client email threads with replies, teammate chat, a weekly
// vendor meeting, and one old unanswered thread.
func demoMock(owner string) *ingest.Mock {
	domain := emailDomain(owner)
	if domain == "" {
		domain = "acme.test"
	}
	bob := "bob@" + domain
	carol := "carol@" + domain
	alice := "alice@client.example"
	dana := "dana@vendor.example"

	m := ingest.NewMock()
	now := time.Now().AddDate(0, 0, -13)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)

	n := 0
	id := func(kind string) string {
		n++
		return fmt.Sprintf("demo-%s-%d", kind, n)
	}

	for d := 0; d < 14; d++ {
		day := start.AddDate(0, 0, d)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		m.Events = append(m.Events, ingest.CalendarEventRecord{
			ID:        id("evt"),
			Provider:  "gcal",
			Title:     "Team standup",
			Organizer: bob,
			Attendees: []string{owner, bob, carol},
			StartsAt:  day.Add(9*time.Hour + 30*time.Minute),
			EndsAt:    day.Add(9*time.Hour + 45*time.Minute),
		})

		// A client thread the owner answers the same morning. The
		// reply delay grows through the fortnight so the response
		// statistics have some spread.
		inbound := id("msg")
		inboundMID := "<" + inbound + "@client.example>"
		m.Messages = append(m.Messages,
			ingest.MessageRecord{
				ID:        inbound,
				Provider:  "gmail",
				MessageID: inboundMID,
				Subject:   fmt.Sprintf("Contract questions, week %d", d/7+1),
				From:      "Alice Chen <" + alice + ">",
				To:        []string{owner},
				Cc:        []string{bob},
				Timestamp: day.Add(10 * time.Hour),
				Snippet:   "Following up on the open items from our call.",
			},
			ingest.MessageRecord{
				ID:         id("msg"),
				Provider:   "gmail",
				MessageID:  fmt.Sprintf("<demo-reply-%d@%s>", n, domain),
				InReplyTo:  inboundMID,
				References: []string{inboundMID},
				Subject:    fmt.Sprintf("Re: Contract questions, week %d", d/7+1),
				From:       owner,
				To:         []string{alice},
				Cc:         []string{bob},
				Timestamp:  day.Add(10*time.Hour + time.Duration(20+d*7)*time.Minute),
				Snippet:    "Answers inline.",
			})

		m.Messages = append(m.Messages, ingest.MessageRecord{
			ID:        id("msg"),
			Provider:  "slack",
			From:      "Carol Diaz <" + carol + ">",
			To:        []string{owner},
			Timestamp: day.Add(14*time.Hour + 5*time.Minute),
			Snippet:   "Got a minute to look at the deploy?",
			IsChat:    true,
		})

		if day.Weekday() == time.Wednesday {
			m.Events = append(m.Events, ingest.CalendarEventRecord{
				ID:        id("evt"),
				Provider:  "gcal",
				Title:     "Vendor review",
				Organizer: dana,
				Attendees: []string{owner, dana, bob},
				StartsAt:  day.Add(15 * time.Hour),
				EndsAt:    day.Add(16 * time.Hour),
			})
		}
	}

	// Old enough to land past the abandonment window.
	m.Messages = append(m.Messages, ingest.MessageRecord{
		ID:        id("msg"),
		Provider:  "gmail",
		MessageID: "<demo-renewal@vendor.example>",
		Subject:   "Renewal quote for next year",
		From:      "Dana Patel <" + dana + ">",
		To:        []string{owner},
		Timestamp: start.Add(11 * time.Hour),
		Snippet:   "Attached is the renewal quote we discussed.",
	})

	return m
}
