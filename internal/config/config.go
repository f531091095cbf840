// Package config loads the supervisor configuration file: the bot
// roster, budget ceilings, escalation policy and action permissions.
// Connection strings and listen addresses stay on flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"botguard/internal/domain"
)

// Duration parses YAML scalars like "10m" or "2s" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Bot is one supervised bot in the roster.
type Bot struct {
	Name    string   `yaml:"name"`
	Mode    string   `yaml:"mode"`    // live | paper | disabled
	Cadence Duration `yaml:"cadence"` // expected trade interval, 0 = unknown
}

// Budget holds the spend ceilings. Zero means unlimited.
type Budget struct {
	DailyCostCeiling   float64 `yaml:"daily_cost_ceiling"`
	DailyCallCeiling   int     `yaml:"daily_call_ceiling"`
	MonthlyCostCeiling float64 `yaml:"monthly_cost_ceiling"`
	MonthlyCallCeiling int     `yaml:"monthly_call_ceiling"`
	CycleCost          float64 `yaml:"cycle_cost"`
}

// Policy holds detection and escalation tuning.
type Policy struct {
	HardLockAfter      int      `yaml:"hard_lock_after"`
	MaxLossStreak      int      `yaml:"max_loss_streak"`
	DeadAfterMultiple  int      `yaml:"dead_after_multiple"`
	DuplicateEpsilon   Duration `yaml:"duplicate_epsilon"`
	StaleAlertInterval Duration `yaml:"stale_alert_interval"`
	StatsWindow        int      `yaml:"stats_window"`
}

// Permissions maps action kinds to risk tiers by name.
type Permissions struct {
	AutoApproved []string `yaml:"auto_approved"`
	Blocked      []string `yaml:"blocked"`
}

// Config is the full parsed configuration file.
type Config struct {
	Bots        []Bot       `yaml:"bots"`
	Budget      Budget      `yaml:"budget"`
	Policy      Policy      `yaml:"policy"`
	Permissions Permissions `yaml:"permissions"`
}

var validModes = map[string]domain.Mode{
	"live":     domain.ModeLive,
	"paper":    domain.ModePaper,
	"disabled": domain.ModeDisabled,
}

var validKinds = map[string]domain.ActionKind{
	"revert_parameter": domain.ActionRevertParameter,
	"hard_lock":        domain.ActionHardLock,
	"pause_bot":        domain.ActionPauseBot,
	"resume_bot":       domain.ActionResumeBot,
	"disable_filter":   domain.ActionDisableFilter,
	"enable_filter":    domain.ActionEnableFilter,
	"log_observation":  domain.ActionLogObservation,
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Bots) == 0 {
		return fmt.Errorf("config: no bots in roster")
	}

	seen := make(map[string]bool)
	for i, b := range c.Bots {
		if b.Name == "" {
			return fmt.Errorf("config: bot %d has no name", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("config: duplicate bot %q", b.Name)
		}
		seen[b.Name] = true
		if b.Mode != "" {
			if _, ok := validModes[b.Mode]; !ok {
				return fmt.Errorf("config: bot %q has invalid mode %q", b.Name, b.Mode)
			}
		}
		if b.Cadence < 0 {
			return fmt.Errorf("config: bot %q has negative cadence", b.Name)
		}
	}

	if c.Budget.DailyCostCeiling < 0 || c.Budget.MonthlyCostCeiling < 0 {
		return fmt.Errorf("config: budget ceilings must not be negative")
	}

	for _, kind := range append(append([]string{}, c.Permissions.AutoApproved...), c.Permissions.Blocked...) {
		if _, ok := validKinds[kind]; !ok {
			return fmt.Errorf("config: unknown action kind %q in permissions", kind)
		}
	}

	return nil
}

// Roster converts the configured bots to domain identities.
func (c *Config) Roster() []domain.BotIdentity {
	roster := make([]domain.BotIdentity, 0, len(c.Bots))
	for _, b := range c.Bots {
		mode := domain.ModeLive
		if m, ok := validModes[b.Mode]; ok {
			mode = m
		}
		roster = append(roster, domain.BotIdentity{Name: b.Name, Mode: mode})
	}
	return roster
}

// Cadences returns the expected trade interval per bot name.
func (c *Config) Cadences() map[string]time.Duration {
	cadences := make(map[string]time.Duration, len(c.Bots))
	for _, b := range c.Bots {
		cadences[b.Name] = b.Cadence.Std()
	}
	return cadences
}

// AutoApprovedKinds returns the auto-approvable action kinds.
func (c *Config) AutoApprovedKinds() []domain.ActionKind {
	return kinds(c.Permissions.AutoApproved)
}

// BlockedKinds returns the blocked action kinds.
func (c *Config) BlockedKinds() []domain.ActionKind {
	return kinds(c.Permissions.Blocked)
}

func kinds(names []string) []domain.ActionKind {
	out := make([]domain.ActionKind, 0, len(names))
	for _, name := range names {
		if k, ok := validKinds[name]; ok {
			out = append(out, k)
		}
	}
	return out
}
