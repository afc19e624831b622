package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is an optional declarative bootstrap for accounts and rules. It is read
// once at startup and upserted into the database; the admin surface owns the
// rows afterwards.
type Seed struct {
	Accounts     []SeedAccount     `yaml:"accounts"`
	ForwardRules []SeedForwardRule `yaml:"forward_rules"`
	MonitorRules []SeedMonitorRule `yaml:"monitor_rules"`
}

// SeedAccount describes one Telegram identity to run a session for.
type SeedAccount struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"` // user | bot
	Phone    string `yaml:"phone"`
	BotToken string `yaml:"bot_token"`
}

// SeedForwardRule maps a source chat to a target chat.
type SeedForwardRule struct {
	Name       string `yaml:"name"`
	Account    string `yaml:"account"`
	SourceChat int64  `yaml:"source_chat"`
	TargetChat int64  `yaml:"target_chat"`
}

// SeedMonitorRule describes which attachments to capture from a chat.
type SeedMonitorRule struct {
	Name        string   `yaml:"name"`
	Account     string   `yaml:"account"`
	SourceChats []int64  `yaml:"source_chats"`
	MediaTypes  []string `yaml:"media_types"`
	MinSizeMB   float64  `yaml:"min_size_mb"`
	MaxSizeMB   float64  `yaml:"max_size_mb"`
}

// LoadSeed parses and validates a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate rejects malformed seed entries up front instead of letting them
// surface as session errors at runtime.
func (s *Seed) Validate() error {
	names := make(map[string]bool, len(s.Accounts))
	for i, acc := range s.Accounts {
		if acc.Name == "" {
			return fmt.Errorf("accounts[%d]: name is required", i)
		}
		if names[acc.Name] {
			return fmt.Errorf("accounts[%d]: duplicate name %q", i, acc.Name)
		}
		names[acc.Name] = true

		switch acc.Kind {
		case "user":
			if acc.Phone == "" {
				return fmt.Errorf("account %q: user accounts need a phone", acc.Name)
			}
		case "bot":
			if acc.BotToken == "" {
				return fmt.Errorf("account %q: bot accounts need a bot_token", acc.Name)
			}
		default:
			return fmt.Errorf("account %q: kind must be user or bot, got %q", acc.Name, acc.Kind)
		}
	}

	for i, r := range s.ForwardRules {
		if r.SourceChat == 0 || r.TargetChat == 0 {
			return fmt.Errorf("forward_rules[%d]: source_chat and target_chat are required", i)
		}
		if r.Account != "" && !names[r.Account] {
			return fmt.Errorf("forward_rules[%d]: unknown account %q", i, r.Account)
		}
	}

	for i, r := range s.MonitorRules {
		if len(r.SourceChats) == 0 {
			return fmt.Errorf("monitor_rules[%d]: at least one source chat is required", i)
		}
		if r.MinSizeMB < 0 || (r.MaxSizeMB > 0 && r.MaxSizeMB < r.MinSizeMB) {
			return fmt.Errorf("monitor_rules[%d]: invalid size range [%f, %f]", i, r.MinSizeMB, r.MaxSizeMB)
		}
		if r.Account != "" && !names[r.Account] {
			return fmt.Errorf("monitor_rules[%d]: unknown account %q", i, r.Account)
		}
	}

	return nil
}
