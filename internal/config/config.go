// Package config loads and validates the daemon's .ai-framework.json
// configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Duration is a time.Duration that marshals/unmarshals from JSON strings like
// "60s" or "2m", mirroring the teacher daemon's TOML Duration wrapper.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if nerr := json.Unmarshal(data, &n); nerr == nil {
			d.Duration = time.Duration(n)
			return nil
		}
		return err
	}
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// Sensitivity is the learning pipeline's confidence-floor knob.
type Sensitivity string

const (
	Conservative Sensitivity = "conservative"
	Moderate     Sensitivity = "moderate"
	Aggressive   Sensitivity = "aggressive"
)

// MinConfidence maps a sensitivity level to the minimum candidate confidence
// required to generate a proposal.
func (s Sensitivity) MinConfidence() float64 {
	switch s {
	case Conservative:
		return 0.7
	case Aggressive:
		return 0.3
	default:
		return 0.5
	}
}

// Config is the top-level shape of .ai-framework.json. Unknown
// top-level keys are preserved verbatim on read-modify-write via extra.
type Config struct {
	Project       ProjectConfig       `json:"project"`
	Learning      LearningConfig      `json:"learning"`
	Retrieval     RetrievalConfig     `json:"retrieval"`
	Orchestration OrchestrationConfig `json:"orchestration"`
	AgentTeams    AgentTeamsConfig    `json:"agent_teams"`

	extra map[string]json.RawMessage
}

type ProjectConfig struct {
	Name string `json:"name"`
	Root string `json:"root"`
}

type LearningConfig struct {
	GlobalEnabled          bool        `json:"global_enabled"`
	Sensitivity            Sensitivity `json:"sensitivity"`
	MaxProposalsPerSession int         `json:"max_proposals_per_session"`
	CooldownDays           int         `json:"cooldown_days"`
	WarmupHours            int         `json:"warmup_hours"`
	CommitsPerTrigger      int         `json:"commits_per_trigger"`
}

type RetrievalConfig struct {
	CodeEnabled       bool   `json:"code_enabled"`
	GovernanceEnabled bool   `json:"governance_enabled"`
	CodeBinary        string `json:"code_binary"`
}

type OrchestrationConfig struct {
	MaxReviewIterations int `json:"max_review_iterations"`
	StaleBusyHours      int `json:"stale_busy_hours"`
}

// AgentTeamsConfig is opaque to the core ; we keep the recognized
// Enabled flag and pass everything else through via extra.
type AgentTeamsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultDataDir is the overridable data directory default.
const DefaultDataDir = "~/.ai-framework/data/"

// Defaults returns a Config populated with the daemon's baseline settings.
func Defaults() *Config {
	return &Config{
		Learning: LearningConfig{
			GlobalEnabled:          false,
			Sensitivity:            Moderate,
			MaxProposalsPerSession: 3,
			CooldownDays:           7,
			WarmupHours:            24,
			CommitsPerTrigger:      5,
		},
		Retrieval: RetrievalConfig{
			CodeEnabled:       true,
			GovernanceEnabled: true,
		},
		Orchestration: OrchestrationConfig{
			MaxReviewIterations: 3,
			StaleBusyHours:      4,
		},
	}
}

// Clone returns a defensive copy of cfg so that concurrent readers holding a
// Get() snapshot never observe a later Set()/Reload() mutation.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.extra != nil {
		out.extra = make(map[string]json.RawMessage, len(c.extra))
		for k, v := range c.extra {
			out.extra[k] = v
		}
	}
	return &out
}

// Load reads and validates the .ai-framework.json file at path, applying
// defaults for any zero-valued fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		known := map[string]bool{"project": true, "learning": true, "retrieval": true, "orchestration": true, "agent_teams": true}
		extra := make(map[string]json.RawMessage)
		for k, v := range raw {
			if !known[k] {
				extra[k] = v
			}
		}
		cfg.extra = extra
	}

	applyDefaults(cfg)
	normalizePaths(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg back to path as JSON, round-tripping any unrecognized
// top-level keys captured at Load time, via atomic temp-file + rename.
func Save(cfg *Config, path string) error {
	merged := map[string]json.RawMessage{}
	for k, v := range cfg.extra {
		merged[k] = v
	}
	for _, kv := range []struct {
		key string
		val any
	}{
		{"project", cfg.Project},
		{"learning", cfg.Learning},
		{"retrieval", cfg.Retrieval},
		{"orchestration", cfg.Orchestration},
		{"agent_teams", cfg.AgentTeams},
	} {
		b, err := json.Marshal(kv.val)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", kv.key, err)
		}
		merged[kv.key] = b
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp config into place: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	defaults := Defaults()
	if cfg.Learning.Sensitivity == "" {
		cfg.Learning.Sensitivity = defaults.Learning.Sensitivity
	}
	if cfg.Learning.MaxProposalsPerSession == 0 {
		cfg.Learning.MaxProposalsPerSession = defaults.Learning.MaxProposalsPerSession
	}
	if cfg.Learning.CooldownDays == 0 {
		cfg.Learning.CooldownDays = defaults.Learning.CooldownDays
	}
	if cfg.Learning.WarmupHours == 0 {
		cfg.Learning.WarmupHours = defaults.Learning.WarmupHours
	}
	if cfg.Learning.CommitsPerTrigger == 0 {
		cfg.Learning.CommitsPerTrigger = defaults.Learning.CommitsPerTrigger
	}
	if cfg.Orchestration.MaxReviewIterations == 0 {
		cfg.Orchestration.MaxReviewIterations = defaults.Orchestration.MaxReviewIterations
	}
	if cfg.Orchestration.StaleBusyHours == 0 {
		cfg.Orchestration.StaleBusyHours = defaults.Orchestration.StaleBusyHours
	}
}

func normalizePaths(cfg *Config) {
	cfg.Project.Root = ExpandHome(strings.TrimSpace(cfg.Project.Root))
	cfg.Retrieval.CodeBinary = ExpandHome(strings.TrimSpace(cfg.Retrieval.CodeBinary))
}

func validate(cfg *Config) error {
	switch cfg.Learning.Sensitivity {
	case Conservative, Moderate, Aggressive:
	default:
		return fmt.Errorf("learning.sensitivity must be one of conservative|moderate|aggressive, got %q", cfg.Learning.Sensitivity)
	}
	if cfg.Orchestration.MaxReviewIterations < 0 {
		return fmt.Errorf("orchestration.max_review_iterations must be >= 0")
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
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

// DataDir resolves the overridable data directory, expanding ~ and falling
// back to DefaultDataDir when override is empty.
func DataDir(override string) string {
	if strings.TrimSpace(override) == "" {
		return ExpandHome(DefaultDataDir)
	}
	return ExpandHome(override)
}
