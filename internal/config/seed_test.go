package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSeed() Seed {
	return Seed{
		Accounts: []SeedAccount{
			{Name: "main", Kind: "user", Phone: "+15550001"},
			{Name: "helper", Kind: "bot", BotToken: "123:abc"},
		},
		ForwardRules: []SeedForwardRule{
			{Name: "mirror", Account: "main", SourceChat: -100, TargetChat: -200},
		},
		MonitorRules: []SeedMonitorRule{
			{Name: "capture", Account: "main", SourceChats: []int64{-100}, MinSizeMB: 1, MaxSizeMB: 500},
		},
	}
}

func TestSeedValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Seed)
		wantErr string
	}{
		{"valid seed", func(s *Seed) {}, ""},
		{"missing account name", func(s *Seed) {
			s.Accounts[0].Name = ""
		}, "name is required"},
		{"duplicate account name", func(s *Seed) {
			s.Accounts[1].Name = "main"
		}, "duplicate name"},
		{"unknown account kind", func(s *Seed) {
			s.Accounts[0].Kind = "channel"
		}, "kind must be user or bot"},
		{"user without phone", func(s *Seed) {
			s.Accounts[0].Phone = ""
		}, "need a phone"},
		{"bot without token", func(s *Seed) {
			s.Accounts[1].BotToken = ""
		}, "need a bot_token"},
		{"forward rule missing chats", func(s *Seed) {
			s.ForwardRules[0].TargetChat = 0
		}, "source_chat and target_chat are required"},
		{"forward rule unknown account", func(s *Seed) {
			s.ForwardRules[0].Account = "ghost"
		}, "unknown account"},
		{"monitor rule without chats", func(s *Seed) {
			s.MonitorRules[0].SourceChats = nil
		}, "at least one source chat"},
		{"monitor rule inverted size range", func(s *Seed) {
			s.MonitorRules[0].MinSizeMB = 100
			s.MonitorRules[0].MaxSizeMB = 10
		}, "invalid size range"},
		{"monitor rule negative minimum", func(s *Seed) {
			s.MonitorRules[0].MinSizeMB = -1
		}, "invalid size range"},
		{"monitor rule unknown account", func(s *Seed) {
			s.MonitorRules[0].Account = "ghost"
		}, "unknown account"},
		{"rules without account binding", func(s *Seed) {
			s.ForwardRules[0].Account = ""
			s.MonitorRules[0].Account = ""
		}, ""},
		{"zero max size is unbounded", func(s *Seed) {
			s.MonitorRules[0].MaxSizeMB = 0
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed := validSeed()
			tt.mutate(&seed)
			err := seed.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
accounts:
  - name: main
    kind: user
    phone: "+15550001"
forward_rules:
  - name: mirror
    account: main
    source_chat: -100
    target_chat: -200
monitor_rules:
  - name: capture
    source_chats: [-100]
    media_types: [document, video]
    max_size_mb: 2048
`), 0o644))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Accounts, 1)
	assert.Equal(t, "+15550001", seed.Accounts[0].Phone)
	require.Len(t, seed.ForwardRules, 1)
	assert.Equal(t, int64(-200), seed.ForwardRules[0].TargetChat)
	require.Len(t, seed.MonitorRules, 1)
	assert.Equal(t, []string{"document", "video"}, seed.MonitorRules[0].MediaTypes)
	assert.Equal(t, float64(2048), seed.MonitorRules[0].MaxSizeMB)
}

func TestLoadSeed_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
accounts:
  - name: main
    kind: user
`), 0o644))

	_, err := LoadSeed(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need a phone")
}

func TestLoadSeed_MissingFile(t *testing.T) {
	_, err := LoadSeed(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
