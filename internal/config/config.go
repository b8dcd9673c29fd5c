// Package config loads process configuration from the environment,
// following the fallback pattern of the Twilio client's Config/New: an
// environment variable wins, otherwise a documented default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ModelPrice is the per-model cost in cents per 1000 audio tokens.
type ModelPrice struct {
	InputCentsPer1K  float64
	OutputCentsPer1K float64
}

// Config is the full process configuration (spec §6 "Process configuration").
type Config struct {
	// SIP trunk
	SIPUser      string
	SIPPassword  string
	SIPServer    string
	SIPPort      int
	PublicIP     string
	STUNServers  []string
	MediaPortMin int
	MediaPortMax int

	// Realtime AI
	OpenAIAPIKey  string
	RealtimeURL   string // template; model is appended as ?model=<id>
	DefaultModel  string
	PremiumModel  string
	Prices        map[string]ModelPrice

	// Security
	UnlockCode string

	// Dashboard
	DashboardAddr string

	// Persistence
	DatabasePath string

	// Logging
	LogLevel  string
	LogFormat string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Load reads configuration from the environment, first loading a local
// .env file if present (missing .env is not an error).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SIPUser:      os.Getenv("SIP_USER"),
		SIPPassword:  os.Getenv("SIP_PASSWORD"),
		SIPServer:    os.Getenv("SIP_SERVER"),
		SIPPort:      getenvInt("SIP_PORT", 5060),
		PublicIP:     os.Getenv("SIP_PUBLIC_IP"),
		MediaPortMin: getenvInt("MEDIA_PORT_MIN", 4000),
		MediaPortMax: getenvInt("MEDIA_PORT_MAX", 4100),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		RealtimeURL:  getenv("REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		DefaultModel: getenv("REALTIME_MODEL_MINI", "gpt-4o-mini-realtime-preview"),
		PremiumModel: getenv("REALTIME_MODEL_PREMIUM", "gpt-realtime"),

		UnlockCode: getenv("UNLOCK_CODE", "7234"),

		DashboardAddr: getenv("DASHBOARD_ADDR", ":8080"),
		DatabasePath:  getenv("DATABASE_PATH", "./data/voiceagent.db"),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "text"),
	}

	if stun := os.Getenv("STUN_SERVERS"); stun != "" {
		cfg.STUNServers = strings.Split(stun, ",")
	} else {
		cfg.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}

	cfg.Prices = map[string]ModelPrice{
		cfg.DefaultModel: {
			InputCentsPer1K:  getenvFloat("PRICE_MINI_INPUT_CENTS_PER_1K", 0.6),
			OutputCentsPer1K: getenvFloat("PRICE_MINI_OUTPUT_CENTS_PER_1K", 2.4),
		},
		cfg.PremiumModel: {
			InputCentsPer1K:  getenvFloat("PRICE_PREMIUM_INPUT_CENTS_PER_1K", 4.0),
			OutputCentsPer1K: getenvFloat("PRICE_PREMIUM_OUTPUT_CENTS_PER_1K", 16.0),
		},
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.UnlockCode == "" {
		return nil, fmt.Errorf("UNLOCK_CODE is required")
	}

	return cfg, nil
}

// PriceFor returns the price table entry for model, or a zero table if unknown.
func (c *Config) PriceFor(model string) ModelPrice {
	return c.Prices[model]
}
