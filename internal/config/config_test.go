package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.hcl")
	content := `
telegram_bot_token = "123:abc"
log_channel_id = -100500
database_driver = "postgres"
max_cache = 20
fetch_interval = "3m"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if c.TelegramBotToken != "123:abc" {
		t.Errorf("unexpected token %q", c.TelegramBotToken)
	}
	if c.LogChannelID != -100500 {
		t.Errorf("unexpected log channel %d", c.LogChannelID)
	}
	if c.DatabaseDriver != "postgres" || c.MaxCache != 20 {
		t.Errorf("file values not applied: %+v", c)
	}
	if c.FetchInterval != 3*time.Minute {
		t.Errorf("unexpected interval %v", c.FetchInterval)
	}

	// Значения по умолчанию
	if c.FetchRetries != 30 || c.FetchRetryDelay != 5*time.Second {
		t.Errorf("unexpected retry defaults: %d, %v", c.FetchRetries, c.FetchRetryDelay)
	}
	if c.NewsURL != "https://myanimelist.net/news" {
		t.Errorf("unexpected news url %q", c.NewsURL)
	}
	if c.DigestThreshold != 5 || c.LatestLimit != 5 {
		t.Errorf("unexpected limits: %d, %d", c.DigestThreshold, c.LatestLimit)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MNB_TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("MNB_MAX_CACHE", "7")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.TelegramBotToken != "env-token" || c.MaxCache != 7 {
		t.Errorf("env values not applied: %+v", c)
	}
}

func TestNormalize(t *testing.T) {
	c := Config{
		MaxCache:          0,
		FetchRetries:      0,
		FetchTimeout:      time.Second,
		DigestThreshold:   3,
		LatestLimit:       5,
		FetchInterval:     time.Minute,
		RatePerSec:        25,
		ChatRatePerMinute: 15,
		FanoutWorkers:     4,
		FilterKeywords:    []string{" Manga ", "", "LIVE ACTION"},
	}

	fixed := c.Normalize()

	if len(fixed) != 2 {
		t.Errorf("expected 2 fixes, got %v", fixed)
	}
	if c.MaxCache != 50 || c.FetchRetries != 30 {
		t.Errorf("defaults not restored: %+v", c)
	}
	if c.DigestThreshold != 3 {
		t.Error("valid value must be kept")
	}
	if len(c.FilterKeywords) != 2 || c.FilterKeywords[0] != "manga" || c.FilterKeywords[1] != "live action" {
		t.Errorf("unexpected keywords %q", c.FilterKeywords)
	}
}
