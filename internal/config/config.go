package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"

	"braindump/internal/schedule"
)

// Config models braindump.yml: the user's scheduling preferences.
type Config struct {
	Profile struct {
		ID       string `yaml:"id"`
		Timezone string `yaml:"timezone"`
	} `yaml:"profile"`

	// WorkingHours maps lowercase weekday names to working windows.
	// A missing day is non-working.
	WorkingHours map[string]HoursRange `yaml:"working_hours"`

	TaskTypes map[string]TaskTypeRule `yaml:"task_types"`

	Buffers struct {
		BeforeMinutes int `yaml:"before_minutes"`
		AfterMinutes  int `yaml:"after_minutes"`
	} `yaml:"buffers"`

	// CallSlots restricts call-type tasks to explicit windows when enabled.
	CallSlots struct {
		Enabled bool         `yaml:"enabled"`
		Windows []HoursRange `yaml:"windows"`
	} `yaml:"call_slots"`

	ProtectedSlots []ProtectedSlot `yaml:"protected_slots"`

	// DailySummary gates the cron-driven digest. Explicit configuration,
	// never ambient global state.
	DailySummary struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
	} `yaml:"daily_summary"`

	Proposal struct {
		ExpiryMinutes   int `yaml:"expiry_minutes"`
		HorizonDays     int `yaml:"horizon_days"`
		SuggestionCount int `yaml:"suggestion_count"`
	} `yaml:"proposal"`

	// Webhooks receive the event log over HTTP when the API server runs.
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

type HoursRange struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type TaskTypeRule struct {
	PreferredStart         string `yaml:"preferred_start"`
	PreferredEnd           string `yaml:"preferred_end"`
	DefaultDurationMinutes int    `yaml:"default_duration_minutes"`
}

// ProtectedSlot is either a one-off (Date set) or recurring (RRule set)
// never-schedulable window.
type ProtectedSlot struct {
	Label string `yaml:"label"`
	Date  string `yaml:"date,omitempty"`
	RRule string `yaml:"rrule,omitempty"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with bd prefs import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "braindump.yml")
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Profile.ID == "" {
		return fmt.Errorf("config.profile.id is required")
	}
	if c.Profile.Timezone != "" {
		if _, err := time.LoadLocation(c.Profile.Timezone); err != nil {
			return fmt.Errorf("config.profile.timezone %q is not a valid IANA zone", c.Profile.Timezone)
		}
	}
	if len(c.WorkingHours) == 0 {
		return fmt.Errorf("config.working_hours is required")
	}
	for day, hours := range c.WorkingHours {
		if _, ok := weekdays[strings.ToLower(day)]; !ok {
			return fmt.Errorf("config.working_hours has unknown weekday %q", day)
		}
		if err := validateRange(hours); err != nil {
			return fmt.Errorf("working hours for %s: %w", day, err)
		}
	}
	for name, rule := range c.TaskTypes {
		if (rule.PreferredStart == "") != (rule.PreferredEnd == "") {
			return fmt.Errorf("task type %s must set both or neither preferred hour", name)
		}
		if rule.PreferredStart != "" {
			if err := validateRange(HoursRange{Start: rule.PreferredStart, End: rule.PreferredEnd}); err != nil {
				return fmt.Errorf("task type %s: %w", name, err)
			}
		}
		if rule.DefaultDurationMinutes < 0 {
			return fmt.Errorf("task type %s has negative default duration", name)
		}
	}
	if c.Buffers.BeforeMinutes < 0 || c.Buffers.AfterMinutes < 0 {
		return fmt.Errorf("config.buffers must not be negative")
	}
	if c.CallSlots.Enabled && len(c.CallSlots.Windows) == 0 {
		return fmt.Errorf("config.call_slots.enabled requires at least one window")
	}
	for i, w := range c.CallSlots.Windows {
		if err := validateRange(w); err != nil {
			return fmt.Errorf("call slot window %d: %w", i, err)
		}
	}
	for i, p := range c.ProtectedSlots {
		if err := validateRange(HoursRange{Start: p.Start, End: p.End}); err != nil {
			return fmt.Errorf("protected slot %d: %w", i, err)
		}
		if p.Date == "" && p.RRule == "" {
			return fmt.Errorf("protected slot %d needs a date or an rrule", i)
		}
		if p.Date != "" {
			if _, err := time.Parse(schedule.DateLayout, p.Date); err != nil {
				return fmt.Errorf("protected slot %d: invalid date %q", i, p.Date)
			}
		}
		if p.RRule != "" {
			if _, err := rrule.StrToRRule(p.RRule); err != nil {
				return fmt.Errorf("protected slot %d: invalid rrule: %w", i, err)
			}
		}
	}
	if c.DailySummary.Enabled && c.DailySummary.Cron == "" {
		return fmt.Errorf("config.daily_summary.enabled requires a cron expression")
	}
	if c.Proposal.ExpiryMinutes < 0 || c.Proposal.HorizonDays < 0 || c.Proposal.SuggestionCount < 0 {
		return fmt.Errorf("config.proposal values must not be negative")
	}
	return nil
}

func validateRange(h HoursRange) error {
	ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	start, err := schedule.CombineDateAndTime(ref, h.Start)
	if err != nil {
		return err
	}
	end, err := schedule.CombineDateAndTime(ref, h.End)
	if err != nil {
		return err
	}
	if !end.After(start) {
		return fmt.Errorf("end %s must be after start %s", h.End, h.Start)
	}
	return nil
}

// Location resolves the configured timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	if c.Profile.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Profile.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// WorkingHoursFor returns the working window for a weekday; ok=false means a
// non-working day.
func (c *Config) WorkingHoursFor(day time.Weekday) (schedule.WorkingHours, bool) {
	for name, hours := range c.WorkingHours {
		if weekdays[strings.ToLower(name)] == day {
			return schedule.WorkingHours{Start: hours.Start, End: hours.End}, true
		}
	}
	return schedule.WorkingHours{}, false
}

// RuleFor maps a task type to its scheduling rule; unknown types get a zero
// rule. Call-type tasks fold the call-slot policy into preferred hours when
// the policy is enabled and the type has no explicit preference.
func (c *Config) RuleFor(taskType string) schedule.TaskTypeRule {
	rule := c.TaskTypes[taskType]
	out := schedule.TaskTypeRule{
		PreferredStart:         rule.PreferredStart,
		PreferredEnd:           rule.PreferredEnd,
		DefaultDurationMinutes: rule.DefaultDurationMinutes,
	}
	if taskType == "call" && c.CallSlots.Enabled && out.PreferredStart == "" && len(c.CallSlots.Windows) > 0 {
		out.PreferredStart = c.CallSlots.Windows[0].Start
		out.PreferredEnd = c.CallSlots.Windows[0].End
	}
	return out
}

// SchedulingBuffers returns the default buffer reservation.
func (c *Config) SchedulingBuffers() schedule.Buffers {
	return schedule.Buffers{
		BeforeMinutes: c.Buffers.BeforeMinutes,
		AfterMinutes:  c.Buffers.AfterMinutes,
	}
}

// ProtectedWindows expands protected slots into concrete intervals within
// [from, to), recurring slots via their RRULE. Results are chronological.
func (c *Config) ProtectedWindows(from, to time.Time) ([]schedule.ProtectedWindow, error) {
	loc := c.Location()
	var out []schedule.ProtectedWindow
	for i, p := range c.ProtectedSlots {
		if p.Date != "" {
			day, err := time.ParseInLocation(schedule.DateLayout, p.Date, loc)
			if err != nil {
				return nil, fmt.Errorf("protected slot %d: %w", i, err)
			}
			w, err := windowOnDay(day, p)
			if err != nil {
				return nil, err
			}
			if schedule.RangesOverlap(w.Start, w.End, from, to) {
				out = append(out, w)
			}
			continue
		}
		r, err := rrule.StrToRRule(p.RRule)
		if err != nil {
			return nil, fmt.Errorf("protected slot %d: %w", i, err)
		}
		r.DTStart(time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc))
		for _, day := range r.Between(from.Add(-24*time.Hour), to, true) {
			w, err := windowOnDay(day.In(loc), p)
			if err != nil {
				return nil, err
			}
			if schedule.RangesOverlap(w.Start, w.End, from, to) {
				out = append(out, w)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func windowOnDay(day time.Time, p ProtectedSlot) (schedule.ProtectedWindow, error) {
	start, err := schedule.CombineDateAndTime(day, p.Start)
	if err != nil {
		return schedule.ProtectedWindow{}, err
	}
	end, err := schedule.CombineDateAndTime(day, p.End)
	if err != nil {
		return schedule.ProtectedWindow{}, err
	}
	return schedule.ProtectedWindow{Start: start, End: end, Label: p.Label}, nil
}

// ExpiryMinutes returns the proposal lifetime, defaulted to 15 minutes.
func (c *Config) ExpiryMinutes() int {
	if c.Proposal.ExpiryMinutes > 0 {
		return c.Proposal.ExpiryMinutes
	}
	return 15
}

// HorizonDays returns the replacement-search horizon, defaulted to 7 days.
func (c *Config) HorizonDays() int {
	if c.Proposal.HorizonDays > 0 {
		return c.Proposal.HorizonDays
	}
	return 7
}

// SuggestionCount returns how many candidates to offer per task.
func (c *Config) SuggestionCount() int {
	if c.Proposal.SuggestionCount > 0 {
		return c.Proposal.SuggestionCount
	}
	return 3
}

// GenerateDefault returns default config YAML.
func GenerateDefault(profileID string) string {
	return fmt.Sprintf(defaultTemplate, profileID)
}

// Default returns the default Config struct for a profile.
func Default(profileID string) *Config {
	var cfg Config
	cfg.Profile.ID = profileID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, profileID))).Decode(&cfg)
	return &cfg
}

const defaultTemplate = `profile:
  id: %s
  timezone: ""

working_hours:
  monday: {start: "09:00", end: "17:00"}
  tuesday: {start: "09:00", end: "17:00"}
  wednesday: {start: "09:00", end: "17:00"}
  thursday: {start: "09:00", end: "17:00"}
  friday: {start: "09:00", end: "17:00"}

task_types:
  deep_work:
    preferred_start: "09:00"
    preferred_end: "12:00"
    default_duration_minutes: 90
  admin:
    preferred_start: "14:00"
    preferred_end: "17:00"
    default_duration_minutes: 30
  call:
    default_duration_minutes: 30
  errand:
    default_duration_minutes: 45

buffers:
  before_minutes: 0
  after_minutes: 0

call_slots:
  enabled: false
  windows: []

protected_slots:
  - label: lunch
    rrule: "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"
    start: "12:00"
    end: "13:00"

daily_summary:
  enabled: false
  cron: "0 8 * * *"

proposal:
  expiry_minutes: 15
  horizon_days: 7
  suggestion_count: 3
`
