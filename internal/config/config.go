// Package config handles loading and managing commsight configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/commsight/commsight/internal/ingest"
	"github.com/commsight/commsight/internal/threads"
	"github.com/commsight/commsight/internal/timeline"
	"github.com/commsight/commsight/internal/workhours"
)

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"`
}

// OwnerConfig identifies the organization the analyzed mailboxes belong to.
type OwnerConfig struct {
	Domain string `toml:"domain"` // e.g. "acme.com"
}

// IngestConfig holds ingestion service connection settings.
type IngestConfig struct {
	BaseURL      string  `toml:"base_url"`
	APIKey       string  `toml:"api_key"`
	RateLimitQPS float64 `toml:"rate_limit_qps"`
	BatchSize    int     `toml:"batch_size"`
	MaxRetries   int     `toml:"max_retries"`
}

// CategoryConfig is one context category with its keyword list.
type CategoryConfig struct {
	Name     string   `toml:"name"`
	Keywords []string `toml:"keywords"`
}

// PipelineConfig holds analysis tuning knobs. Pointer fields
// distinguish an explicit zero in the file from an unset key, so a
// weight of 0 or a midnight start hour can be configured.
type PipelineConfig struct {
	Workdays  []string `toml:"workdays"`   // e.g. ["mon", "tue", ...]
	StartHour *int     `toml:"start_hour"` // work day start, 24h clock
	EndHour   *int     `toml:"end_hour"`   // work day end, exclusive

	SubjectWindowHours int `toml:"subject_window_hours"`
	AbandonAfterDays   int `toml:"abandon_after_days"`
	AutoReplyFloorSecs int `toml:"auto_reply_floor_secs"`

	MeetingWeight       *float64 `toml:"meeting_weight"`
	EmailWeight         *float64 `toml:"email_weight"`
	SwitchWeight        *float64 `toml:"switch_weight"`
	MeetingMinuteWeight *float64 `toml:"meeting_minute_weight"`

	EventEstimateMins *int `toml:"event_estimate_mins"`

	FetchBudgetMins int `toml:"fetch_budget_mins"`

	Categories []CategoryConfig `toml:"categories"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort int    `toml:"api_port"` // HTTP server port (default: 8080)
	APIKey  string `toml:"api_key"`  // API authentication key
}

// UserSchedule defines the pipeline schedule for a single user.
type UserSchedule struct {
	Email    string `toml:"email"`
	Schedule string `toml:"schedule"` // Cron expression (e.g., "0 2 * * *" for 2am daily)
	Enabled  bool   `toml:"enabled"`
}

// Config represents the commsight configuration.
type Config struct {
	Data     DataConfig     `toml:"data"`
	Owner    OwnerConfig    `toml:"owner"`
	Ingest   IngestConfig   `toml:"ingest"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Server   ServerConfig   `toml:"server"`
	Users    []UserSchedule `toml:"users"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DefaultHome returns the default commsight home directory.
// Respects the COMMSIGHT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("COMMSIGHT_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".commsight"
	}
	return filepath.Join(home, ".commsight")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.commsight/config.toml).
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		// Defaults
		Data: DataConfig{
			DataDir: homeDir,
		},
		Ingest: IngestConfig{
			BaseURL:      "http://localhost:9090",
			RateLimitQPS: 5,
			BatchSize:    200,
			MaxRetries:   4,
		},
		Pipeline: PipelineConfig{
			Workdays:           []string{"mon", "tue", "wed", "thu", "fri"},
			SubjectWindowHours: 72,
			AbandonAfterDays:   7,
			AutoReplyFloorSecs: 60,
		},
		Server: ServerConfig{
			APIPort: 8080,
		},
		Users: []UserSchedule{},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)

	return cfg, nil
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "commsight.db")
}

// ScheduledUsers returns users with scheduling enabled.
func (c *Config) ScheduledUsers() []UserSchedule {
	var scheduled []UserSchedule
	for _, u := range c.Users {
		if u.Enabled && u.Schedule != "" {
			scheduled = append(scheduled, u)
		}
	}
	return scheduled
}

// GetUserSchedule returns the schedule for a specific user email.
// Returns nil if the user is not configured for scheduling.
func (c *Config) GetUserSchedule(email string) *UserSchedule {
	for i := range c.Users {
		if c.Users[i].Email == email {
			return &c.Users[i]
		}
	}
	return nil
}

// IngestOptions converts the ingest section into client options.
func (c *Config) IngestOptions() *ingest.Options {
	opts := ingest.DefaultOptions()
	if c.Ingest.RateLimitQPS > 0 {
		opts.RateLimitQPS = c.Ingest.RateLimitQPS
	}
	if c.Ingest.BatchSize > 0 {
		opts.BatchSize = c.Ingest.BatchSize
	}
	if c.Ingest.MaxRetries > 0 {
		opts.MaxRetries = c.Ingest.MaxRetries
	}
	return opts
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// WorkSchedule converts the pipeline section into a business-hours
// schedule. Unknown day names are ignored; an empty day list falls back
// to the default Monday through Friday schedule.
func (c *Config) WorkSchedule() workhours.Schedule {
	s := workhours.Default()
	if c.Pipeline.StartHour != nil {
		s.StartHour = *c.Pipeline.StartHour
	}
	if c.Pipeline.EndHour != nil {
		s.EndHour = *c.Pipeline.EndHour
	}
	if len(c.Pipeline.Workdays) > 0 {
		days := make(map[time.Weekday]bool)
		for _, name := range c.Pipeline.Workdays {
			if d, ok := weekdayNames[name]; ok {
				days[d] = true
			}
		}
		if len(days) > 0 {
			s.Days = days
		}
	}
	return s
}

// ThreadConfig converts the pipeline section into thread-reconstruction
// knobs.
func (c *Config) ThreadConfig() threads.Config {
	cfg := threads.DefaultConfig()
	cfg.WorkHours = c.WorkSchedule()
	if c.Pipeline.SubjectWindowHours > 0 {
		cfg.SubjectWindow = time.Duration(c.Pipeline.SubjectWindowHours) * time.Hour
	}
	if c.Pipeline.AbandonAfterDays > 0 {
		cfg.AbandonAfter = time.Duration(c.Pipeline.AbandonAfterDays) * 24 * time.Hour
	}
	if c.Pipeline.AutoReplyFloorSecs > 0 {
		cfg.AutoReplyFloor = time.Duration(c.Pipeline.AutoReplyFloorSecs) * time.Second
	}
	return cfg
}

// TimelineConfig converts the pipeline section into timeline knobs.
func (c *Config) TimelineConfig() timeline.Config {
	cfg := timeline.DefaultConfig()
	if v := c.Pipeline.MeetingWeight; v != nil {
		cfg.Weights.Meeting = *v
	}
	if v := c.Pipeline.EmailWeight; v != nil {
		cfg.Weights.Email = *v
	}
	if v := c.Pipeline.SwitchWeight; v != nil {
		cfg.Weights.Switch = *v
	}
	if v := c.Pipeline.MeetingMinuteWeight; v != nil {
		cfg.Weights.MeetingMinute = *v
	}
	if v := c.Pipeline.EventEstimateMins; v != nil {
		cfg.EventEstimate = time.Duration(*v) * time.Minute
	}
	if len(c.Pipeline.Categories) > 0 {
		cats := make([]timeline.Category, 0, len(c.Pipeline.Categories))
		for _, cc := range c.Pipeline.Categories {
			cats = append(cats, timeline.Category{Name: cc.Name, Keywords: cc.Keywords})
		}
		cfg.Categories = cats
	}
	return cfg
}

// FetchBudget returns the wall-clock fetch budget, zero when unset.
func (c *Config) FetchBudget() time.Duration {
	if c.Pipeline.FetchBudgetMins <= 0 {
		return 0
	}
	return time.Duration(c.Pipeline.FetchBudgetMins) * time.Minute
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
