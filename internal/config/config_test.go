package config

import (
	"context"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("MARKET_TIMEOUT_SECONDS", "")
	t.Setenv("MARKET_MAX_RETRIES", "")
	t.Setenv("MARKET_CACHE_TTL_SECONDS", "")
	t.Setenv("COINGECKO_BASE_URL", "")
	t.Setenv("MARKET_CURRENCY", "")
	t.Setenv("COINGECKO_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Market != DefaultMarketConfig() {
		t.Fatalf("unexpected market defaults: %+v", cfg.Market)
	}
}

func TestLoadMarketOverrides(t *testing.T) {
	t.Setenv("COINGECKO_BASE_URL", "http://localhost:9999/api/")
	t.Setenv("MARKET_CURRENCY", "EUR")
	t.Setenv("MARKET_TIMEOUT_SECONDS", "2")
	t.Setenv("MARKET_MAX_RETRIES", "0")
	t.Setenv("MARKET_CACHE_TTL_SECONDS", "-5")

	cfg, err := loadMarketConfig()
	if err != nil {
		t.Fatalf("loadMarketConfig err: %v", err)
	}

	if cfg.BaseURL != "http://localhost:9999/api" {
		t.Fatalf("expected trimmed base url, got %s", cfg.BaseURL)
	}
	if cfg.Currency != "eur" {
		t.Fatalf("expected lower-cased currency, got %s", cfg.Currency)
	}
	if cfg.Timeout != 2*time.Second {
		t.Fatalf("expected 2s timeout, got %s", cfg.Timeout)
	}
	if cfg.MaxRetries != 1 {
		t.Fatalf("expected retries clamped to 1, got %d", cfg.MaxRetries)
	}
	if cfg.CacheTTL != 0 {
		t.Fatalf("expected cache disabled, got %s", cfg.CacheTTL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("MARKET_TIMEOUT_SECONDS", "soon")
	if _, err := loadMarketConfig(); err == nil {
		t.Fatal("expected error for non-numeric timeout")
	}

	t.Setenv("MARKET_TIMEOUT_SECONDS", "0")
	if _, err := loadMarketConfig(); err == nil {
		t.Fatal("expected error for zero timeout")
	}

	t.Setenv("PORT", "80 80")
	if _, err := loadServerConfig(); err == nil {
		t.Fatal("expected error for PORT with spaces")
	}
}

func TestAIConfigEnabled(t *testing.T) {
	cases := []struct {
		name string
		cfg  AIConfig
		want bool
	}{
		{name: "api key", cfg: AIConfig{Model: "m", APIKey: "k"}, want: true},
		{name: "ak sk", cfg: AIConfig{Model: "m", AccessKey: "a", SecretKey: "s"}, want: true},
		{name: "missing model", cfg: AIConfig{APIKey: "k"}, want: false},
		{name: "half pair", cfg: AIConfig{Model: "m", AccessKey: "a"}, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.Enabled(); got != tc.want {
				t.Fatalf("Enabled() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewChatModelBuildsArkClient(t *testing.T) {
	cfg := AIConfig{APIKey: "dummy-key", Model: "dummy-endpoint"}

	chatModel, err := cfg.NewChatModel(context.Background())
	if err != nil {
		t.Fatalf("NewChatModel err: %v", err)
	}
	if chatModel == nil {
		t.Fatal("expected a chat model")
	}

	if _, err := (AIConfig{}).NewChatModel(context.Background()); err == nil {
		t.Fatal("expected an error without credentials")
	}
}
