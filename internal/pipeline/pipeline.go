// Package pipeline orchestrates the full analysis flow: fetch raw
// records, normalize contacts, reconstruct threads, build the timeline,
// and persist every derived artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/commsight/commsight/internal/contacts"
	"github.com/commsight/commsight/internal/ingest"
	"github.com/commsight/commsight/internal/store"
	"github.com/commsight/commsight/internal/threads"
	"github.com/commsight/commsight/internal/timeline"
)

// ErrRunInProgress indicates another run is already active for the user.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// ErrNoWatermark indicates an incremental run was requested before any
// completed full run established a watermark.
var ErrNoWatermark = errors.New("no watermark - run full pipeline first")

// Mode selects how much history a run covers.
type Mode string

const (
	// ModeFull reprocesses the entire history and rebuilds every
	// derived artifact.
	ModeFull Mode = "full"

	// ModeIncremental processes only records newer than the watermark
	// left by the last completed run.
	ModeIncremental Mode = "incremental"
)

// Options configures pipeline behavior.
type Options struct {
	// OwnerDomain classifies contacts as internal or external.
	OwnerDomain string

	// Threads configures thread reconstruction.
	Threads threads.Config

	// Timeline configures timeline derivation and metric weights.
	Timeline timeline.Config

	// FetchBudget bounds the wall-clock time spent fetching pages. When
	// exceeded, the run keeps what it has and finishes as partial.
	// Zero means no budget.
	FetchBudget time.Duration

	// StaleRunAge is how old an unfinished run must be before a new run
	// reaps it instead of refusing to start (default: 2h).
	StaleRunAge time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Threads:     threads.DefaultConfig(),
		Timeline:    timeline.DefaultConfig(),
		StaleRunAge: 2 * time.Hour,
	}
}

// Summary describes one finished pipeline run.
type Summary struct {
	RunID     string
	Mode      Mode
	Status    string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Counts    store.RunCounts
	Watermark time.Time
	Truncated bool
}

// Runner executes pipeline runs.
type Runner struct {
	client ingest.API
	store  *store.Store
	opts   *Options
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates a Runner.
func New(client ingest.API, st *store.Store, opts *Options) *Runner {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.StaleRunAge <= 0 {
		opts.StaleRunAge = 2 * time.Hour
	}

	return &Runner{
		client: client,
		store:  st,
		opts:   opts,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// WithLogger sets the logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithClock overrides the clock, for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run executes one pipeline run for the user. Only one run per user may
// be active at a time; a second concurrent attempt fails with
// ErrRunInProgress.
func (r *Runner) Run(ctx context.Context, email string, mode Mode) (summary *Summary, err error) {
	start := r.now()

	user, err := r.store.GetOrCreateUser(email)
	if err != nil {
		return nil, fmt.Errorf("get/create user: %w", err)
	}

	if reaped, err := r.store.FailStaleRuns(user.ID, r.opts.StaleRunAge); err != nil {
		return nil, fmt.Errorf("reap stale runs: %w", err)
	} else if reaped > 0 {
		r.logger.Warn("reaped stale runs", "user", email, "count", reaped)
	}

	active, err := r.store.GetActiveRun(user.ID)
	if err != nil {
		return nil, fmt.Errorf("check active run: %w", err)
	}
	if active != nil {
		return nil, fmt.Errorf("run %s started %s: %w", active.ID, active.StartedAt.Format(time.RFC3339), ErrRunInProgress)
	}

	since := time.Time{}
	if mode == ModeIncremental {
		if user.Watermark.IsZero() {
			return nil, ErrNoWatermark
		}
		since = user.Watermark
	}

	runID := r.newID()
	if err := r.store.CreateRun(runID, user.ID, string(mode)); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	// Recover panics as a failed run so the user isn't left with a
	// phantom active run.
	defer func() {
		if rec := recover(); rec != nil {
			stack := debug.Stack()
			r.logger.Error("pipeline panic recovered", "panic", rec, "stack", string(stack))
			if failErr := r.store.FailRun(runID, fmt.Sprintf("panic: %v", rec)); failErr != nil {
				r.logger.Error("failed to record run failure", "error", failErr)
			}
			summary = nil
			err = fmt.Errorf("pipeline panicked: %v", rec)
		}
	}()

	if err := r.store.MarkRunProcessing(runID); err != nil {
		return nil, fmt.Errorf("mark run processing: %w", err)
	}

	r.logger.Info("pipeline run started",
		"run_id", runID, "user", email, "mode", mode, "since", since)

	msgs, events, truncated, err := r.fetch(ctx, email, since, start)
	if err != nil {
		_ = r.store.FailRun(runID, err.Error())
		return nil, err
	}

	counts := store.RunCounts{
		MessagesFetched: len(msgs),
		CalendarFetched: len(events),
	}

	// A full run rebuilds every derived artifact from scratch. Contacts
	// survive: they carry manual relationship and weight tags, and the
	// upsert merges new observations into them.
	if mode == ModeFull {
		if err := r.clearDerived(user.ID); err != nil {
			_ = r.store.FailRun(runID, err.Error())
			return nil, err
		}
	}

	d := r.derive(user, email, msgs, events)

	status := store.RunCompleted
	if truncated {
		status = store.RunPartial
	}

	// Persistence stages are independent: one failing category doesn't
	// abort the others, it downgrades the run to partial. Rows the store
	// skipped as bad count as errors the same way.
	stageErrs := 0
	stage := func(name string, written, skipped int, err error) int {
		if err != nil {
			r.logger.Error("persist stage failed", "run_id", runID, "stage", name, "error", err)
			stageErrs++
			return 0
		}
		if skipped > 0 {
			r.logger.Warn("persist stage skipped bad rows", "run_id", runID, "stage", name, "skipped", skipped)
			stageErrs += skipped
		}
		return written
	}

	n, sk, perr := r.store.UpsertContacts(user.ID, d.normalizer.All())
	counts.ContactsUpserted = stage("contacts", n, sk, perr)

	n, sk, perr = r.store.UpsertThreads(user.ID, d.threads)
	counts.ThreadsUpserted = stage("threads", n, sk, perr)

	n, sk, perr = r.store.UpsertEvents(user.ID, d.events)
	counts.TimelineUpserted = stage("timeline", n, sk, perr)

	n, sk, perr = r.persistMetrics(user.ID, d)
	counts.MetricsUpserted = stage("metrics", n, sk, perr)

	counts.ErrorsCount = stageErrs
	if stageErrs > 0 {
		status = store.RunPartial
	}

	// Only a fully completed run may advance the watermark; a partial
	// run leaves it alone so the next incremental run re-fetches the
	// uncovered records.
	watermark := user.Watermark
	if status == store.RunCompleted && d.maxRecordTime.After(watermark) {
		watermark = d.maxRecordTime
		if err := r.store.SetWatermark(user.ID, watermark); err != nil {
			_ = r.store.FailRun(runID, err.Error())
			return nil, fmt.Errorf("set watermark: %w", err)
		}
	}

	if err := r.store.CompleteRun(runID, status, counts, watermark); err != nil {
		return nil, fmt.Errorf("complete run: %w", err)
	}

	end := r.now()
	summary = &Summary{
		RunID:     runID,
		Mode:      mode,
		Status:    status,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Counts:    counts,
		Watermark: watermark,
		Truncated: truncated,
	}

	r.logger.Info("pipeline run finished",
		"run_id", runID, "status", status, "duration", summary.Duration,
		"messages", counts.MessagesFetched, "calendar", counts.CalendarFetched,
		"threads", counts.ThreadsUpserted, "timeline", counts.TimelineUpserted)

	return summary, nil
}

// fetch pages through both record endpoints until exhausted or the
// wall-clock budget runs out.
func (r *Runner) fetch(ctx context.Context, email string, since, start time.Time) ([]ingest.MessageRecord, []ingest.CalendarEventRecord, bool, error) {
	deadline := time.Time{}
	if r.opts.FetchBudget > 0 {
		deadline = start.Add(r.opts.FetchBudget)
	}
	overBudget := func() bool {
		return !deadline.IsZero() && r.now().After(deadline)
	}

	var msgs []ingest.MessageRecord
	truncated := false
	for token := ""; ; {
		page, err := r.client.FetchMessages(ctx, email, since, token)
		if err != nil {
			return nil, nil, false, fmt.Errorf("fetch messages: %w", err)
		}
		msgs = append(msgs, page.Records...)
		token = page.NextPageToken
		if token == "" {
			break
		}
		if overBudget() {
			r.logger.Warn("fetch budget exhausted", "user", email, "messages", len(msgs))
			truncated = true
			break
		}
	}

	var events []ingest.CalendarEventRecord
	for token := ""; !truncated; {
		page, err := r.client.FetchCalendarEvents(ctx, email, since, token)
		if err != nil {
			return nil, nil, false, fmt.Errorf("fetch calendar events: %w", err)
		}
		events = append(events, page.Records...)
		token = page.NextPageToken
		if token == "" {
			break
		}
		if overBudget() {
			r.logger.Warn("fetch budget exhausted", "user", email, "events", len(events))
			truncated = true
		}
	}

	return msgs, events, truncated, nil
}

// clearDerived removes every rebuilt-per-full-run artifact.
func (r *Runner) clearDerived(userID int64) error {
	if err := r.store.DeleteThreads(userID); err != nil {
		return fmt.Errorf("clear threads: %w", err)
	}
	if err := r.store.DeleteEvents(userID); err != nil {
		return fmt.Errorf("clear timeline: %w", err)
	}
	if err := r.store.DeleteMetrics(userID); err != nil {
		return fmt.Errorf("clear metrics: %w", err)
	}
	return nil
}

// derived carries the output of the analysis stages.
type derived struct {
	normalizer    *contacts.Normalizer
	owner         string // canonical owner identity
	threads       []*threads.Thread
	events        []timeline.Event
	builder       *timeline.Builder
	maxRecordTime time.Time
}

// derive runs the analysis stages over the fetched batch. Contact
// resolution happens first and alone: it mutates the normalizer, while
// the thread and timeline stages only read it and can run concurrently.
func (r *Runner) derive(user *store.User, email string, msgs []ingest.MessageRecord, events []ingest.CalendarEventRecord) *derived {
	normalizer := contacts.New(r.opts.OwnerDomain)
	if seeds, err := r.store.ListContacts(user.ID); err != nil {
		r.logger.Warn("seeding contacts failed, resolving from scratch", "error", err)
	} else {
		normalizer.Seed(seeds)
	}

	owner := normalizer.Resolve(email, user.DisplayName, time.Time{})

	var maxRecordTime time.Time
	for i := range msgs {
		m := &msgs[i]
		normalizer.Resolve(m.From, "", m.Timestamp)
		for _, addr := range m.To {
			normalizer.Resolve(addr, "", m.Timestamp)
		}
		for _, addr := range m.Cc {
			normalizer.Resolve(addr, "", m.Timestamp)
		}
		if m.Timestamp.After(maxRecordTime) {
			maxRecordTime = m.Timestamp
		}
	}
	for i := range events {
		e := &events[i]
		normalizer.Resolve(e.Organizer, "", e.StartsAt)
		for _, addr := range e.Attendees {
			normalizer.Resolve(addr, "", e.StartsAt)
		}
		if e.StartsAt.After(maxRecordTime) {
			maxRecordTime = e.StartsAt
		}
	}

	d := &derived{
		normalizer:    normalizer,
		owner:         owner,
		builder:       timeline.NewBuilder(normalizer, owner, r.opts.Timeline),
		maxRecordTime: maxRecordTime,
	}

	reconstructor := threads.New(normalizer, owner, r.opts.Threads).WithClock(r.now)

	var g errgroup.Group
	g.Go(func() error {
		d.threads = reconstructor.Reconstruct(msgs)
		return nil
	})
	g.Go(func() error {
		d.builder.AddMessages(msgs)
		d.builder.AddCalendarEvents(events)
		return nil
	})
	_ = g.Wait()

	d.events = d.builder.Timeline(time.Time{}, time.Time{})
	return d
}

// persistMetrics recomputes and writes the metrics of every day touched
// by this run's events. Stored events from those days are merged in
// first, so an incremental run recomputes whole days, not fragments.
func (r *Runner) persistMetrics(userID int64, d *derived) (written, skipped int, err error) {
	days := touchedDays(d.events)
	if len(days) == 0 {
		return 0, 0, nil
	}

	first := days[0]
	last := days[len(days)-1].AddDate(0, 0, 1)
	stored, err := r.store.ListEvents(userID, first, last)
	if err != nil {
		return 0, 0, fmt.Errorf("load stored events: %w", err)
	}
	d.builder.AddEvents(stored)

	var daily []store.DailyMetric
	var hourly []store.HourlyMetric
	for _, day := range days {
		next := day.AddDate(0, 0, 1)

		byContext := make(map[string]int)
		for ctxName, dur := range d.builder.TimeByContextRange(day, next) {
			byContext[ctxName] = int(dur / time.Minute)
		}
		meetings, messages := d.builder.Counts(day, next)
		daily = append(daily, store.DailyMetric{
			Day:             day.Format("2006-01-02"),
			CognitiveLoad:   d.builder.CognitiveLoad(day, next),
			ContextSwitches: d.builder.ContextSwitches(day, next),
			MeetingCount:    meetings,
			MessageCount:    messages,
			MeetingMinutes:  d.builder.MeetingMinutes(day, next),
			TimeByContext:   byContext,
		})

		loads := d.builder.LoadByHour(day)
		switches := d.builder.SwitchesByHour(day)
		for hour := 0; hour < 24; hour++ {
			if loads[hour] == 0 && switches[hour] == 0 {
				continue
			}
			hourly = append(hourly, store.HourlyMetric{
				Day:             day.Format("2006-01-02"),
				Hour:            hour,
				CognitiveLoad:   loads[hour],
				ContextSwitches: switches[hour],
			})
		}
	}

	nDaily, skDaily, err := r.store.UpsertDailyMetrics(userID, daily)
	if err != nil {
		return 0, 0, err
	}
	nHourly, skHourly, err := r.store.UpsertHourlyMetrics(userID, hourly)
	if err != nil {
		return nDaily, skDaily, err
	}
	return nDaily + nHourly, skDaily + skHourly, nil
}

// touchedDays returns the distinct UTC days of the events, ascending.
func touchedDays(events []timeline.Event) []time.Time {
	seen := make(map[time.Time]bool)
	var days []time.Time
	for _, e := range events {
		ts := e.Timestamp.UTC()
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
