package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the whole config.json document. It is deliberately flat so the
// admin surface can round-trip it, and it is re-read wherever hot reload
// matters instead of being cached.
type Config struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`

	SecurityQuestionID string `json:"security_question_id,omitempty"`
	SecurityAnswer     string `json:"security_answer,omitempty"`

	Driver string `json:"driver"` // dryrun (built-in) or an externally registered driver

	TargetForums []string          `json:"target_forums"`
	ForumNames   map[string]string `json:"forum_names,omitempty"`

	MaxRepliesPerDay int   `json:"max_replies_per_day"`
	ReplyInterval    []int `json:"reply_interval"` // [min,max] seconds between replies

	SkipKeywords []string `json:"skip_keywords,omitempty"`
	SkipPrefixes []string `json:"skip_prefixes,omitempty"`

	ReplyTemplates []string `json:"reply_templates"`

	EnableAutoReply           *bool `json:"enable_auto_reply"`
	EnableDailyCheckin        *bool `json:"enable_daily_checkin"`
	EnableTestMode            *bool `json:"enable_test_mode"`
	RequireReplyBeforeCheckin *bool `json:"require_reply_before_checkin"`

	EnableScheduler *bool    `json:"enable_scheduler"`
	ScheduleTimes   []string `json:"schedule_times"`          // "HH:MM", local time
	ScheduleCron    string   `json:"schedule_cron,omitempty"` // takes precedence when well-formed

	MaxRetries    int    `json:"max_retries"`
	RetryDelay    string `json:"retry_delay"`    // duration, fixed delay between attempts
	DriverTimeout string `json:"driver_timeout"` // duration, per network-bound driver call

	StatePath   string `json:"state_path"`
	SessionPath string `json:"session_path"`
	RunsPath    string `json:"runs_path"`

	RedisURL string `json:"redis_url,omitempty"` // optional cross-process run lock

	AdminListen string `json:"admin_listen"`

	AI AIConfig `json:"ai"`
}

type AIConfig struct {
	Enabled      *bool   `json:"enabled"`
	Provider     string  `json:"provider"` // openai|anthropic
	APIKey       string  `json:"api_key,omitempty"`
	BaseURL      string  `json:"base_url,omitempty"`
	Model        string  `json:"model,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Timeout      string  `json:"timeout,omitempty"` // duration
}

func DefaultConfig() Config {
	return Config{
		Driver:           "dryrun",
		MaxRepliesPerDay: 10,
		ReplyInterval:    []int{60, 180},
		ReplyTemplates: []string{
			"Thanks for sharing!",
			"Great post, much appreciated.",
			"Nice one, saved for later.",
			"Good content, keep it up.",
		},
		ScheduleTimes: []string{"03:00"},
		MaxRetries:    3,
		RetryDelay:    "300s",
		DriverTimeout: "30s",
		StatePath:     "data/state.json",
		SessionPath:   "data/session.json",
		RunsPath:      "data/runs.jsonl",
		AdminListen:   "127.0.0.1:5000",
		AI: AIConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   200,
			Temperature: 0.8,
			Timeout:     "10s",
		},
	}
}

func (c Config) WithDefaults() Config {
	out := c
	def := DefaultConfig()

	if strings.TrimSpace(out.Driver) == "" {
		out.Driver = def.Driver
	}
	if out.MaxRepliesPerDay <= 0 {
		out.MaxRepliesPerDay = def.MaxRepliesPerDay
	}
	out.ReplyInterval = normalizeInterval(out.ReplyInterval, def.ReplyInterval)
	if len(out.ReplyTemplates) == 0 {
		out.ReplyTemplates = append([]string(nil), def.ReplyTemplates...)
	}

	if out.EnableAutoReply == nil {
		v := true
		out.EnableAutoReply = &v
	}
	if out.EnableDailyCheckin == nil {
		v := true
		out.EnableDailyCheckin = &v
	}
	if out.EnableTestMode == nil {
		v := false
		out.EnableTestMode = &v
	}
	if out.RequireReplyBeforeCheckin == nil {
		v := true
		out.RequireReplyBeforeCheckin = &v
	}
	if out.EnableScheduler == nil {
		v := false
		out.EnableScheduler = &v
	}
	if len(out.ScheduleTimes) == 0 && strings.TrimSpace(out.ScheduleCron) == "" {
		out.ScheduleTimes = append([]string(nil), def.ScheduleTimes...)
	}

	if out.MaxRetries <= 0 {
		out.MaxRetries = def.MaxRetries
	}
	if strings.TrimSpace(out.RetryDelay) == "" {
		out.RetryDelay = def.RetryDelay
	}
	if strings.TrimSpace(out.DriverTimeout) == "" {
		out.DriverTimeout = def.DriverTimeout
	}

	if strings.TrimSpace(out.StatePath) == "" {
		out.StatePath = def.StatePath
	}
	if strings.TrimSpace(out.SessionPath) == "" {
		out.SessionPath = def.SessionPath
	}
	if strings.TrimSpace(out.RunsPath) == "" {
		out.RunsPath = def.RunsPath
	}
	if strings.TrimSpace(out.AdminListen) == "" {
		out.AdminListen = def.AdminListen
	}

	if out.AI.Enabled == nil {
		v := false
		out.AI.Enabled = &v
	}
	if strings.TrimSpace(out.AI.Provider) == "" {
		out.AI.Provider = def.AI.Provider
	}
	if strings.TrimSpace(out.AI.Model) == "" {
		out.AI.Model = def.AI.Model
	}
	if out.AI.MaxTokens <= 0 {
		out.AI.MaxTokens = def.AI.MaxTokens
	}
	if out.AI.Temperature == 0 {
		out.AI.Temperature = def.AI.Temperature
	}
	if strings.TrimSpace(out.AI.Timeout) == "" {
		out.AI.Timeout = def.AI.Timeout
	}
	return out
}

// normalizeInterval accepts the loose forms [min,max], [n] and empty, and
// guarantees 0 <= min <= max on the way out. [0,0] is a valid "no pacing"
// setting; negatives fall back to the default.
func normalizeInterval(raw []int, fallback []int) []int {
	switch len(raw) {
	case 0:
		return append([]int(nil), fallback...)
	case 1:
		if raw[0] < 0 {
			return append([]int(nil), fallback...)
		}
		return []int{raw[0], raw[0]}
	default:
		lo, hi := raw[0], raw[1]
		if lo < 0 || hi < 0 {
			return append([]int(nil), fallback...)
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		return []int{lo, hi}
	}
}

func Load(path string) (Config, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		p = "config.json"
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig().WithDefaults(), nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", p, err)
	}
	return cfg.WithDefaults(), nil
}

// ParseDurationOrDefault is shared by the components that keep durations as
// config strings.
func ParseDurationOrDefault(raw string, fallback time.Duration) time.Duration {
	text := strings.TrimSpace(raw)
	if text == "" {
		return fallback
	}
	d, err := time.ParseDuration(text)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (c Config) SchedulerEnabled() bool {
	return c.EnableScheduler != nil && *c.EnableScheduler
}

func (c Config) AutoReplyEnabled() bool {
	return c.EnableAutoReply == nil || *c.EnableAutoReply
}

func (c Config) DailyCheckinEnabled() bool {
	return c.EnableDailyCheckin == nil || *c.EnableDailyCheckin
}

func (c Config) TestModeEnabled() bool {
	return c.EnableTestMode != nil && *c.EnableTestMode
}

func (c Config) ReplyGateEnabled() bool {
	return c.RequireReplyBeforeCheckin == nil || *c.RequireReplyBeforeCheckin
}

func (c AIConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled && strings.TrimSpace(c.APIKey) != ""
}
