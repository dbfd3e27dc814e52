package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the flowrec server.
type Config struct {
	// CDP connection to the user's browser
	CDPAddress    string
	CDPPort       int
	EvalTimeoutMS int

	// Browser launch, used only when nothing listens on the CDP port
	LaunchBrowser bool
	BrowserPath   string
	ProfileDir    string

	// HTTP API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Flow storage
	DataDir string

	// Replay policy
	ElementTimeoutMS int
	PollIntervalMS   int
	StabilizeMS      int
	ProbeTimeoutMS   int

	// Recording policy
	CancelGraceMS int

	// Logging
	LogLevel string
	LogFile  string

	// Optional ntfy endpoint notified when a replay finishes
	NtfyURL string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		EvalTimeoutMS:    getEnvIntOrDefault("FLOWREC_EVAL_TIMEOUT_MS", 5000),
		LaunchBrowser:    getEnvBoolOrDefault("FLOWREC_LAUNCH_BROWSER", true),
		BrowserPath:      getEnvOrDefault("FLOWREC_BROWSER_PATH", ""),
		ProfileDir:       getEnvOrDefault("FLOWREC_PROFILE_DIR", "./browser_profile"),
		BindAddr:         getEnvOrDefault("FLOWREC_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   getEnvListOrDefault("PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}),
		PortAutoFallback: getEnvBoolOrDefault("PORT_AUTO_FALLBACK", true),
		DataDir:          getEnvOrDefault("FLOWREC_DATA_DIR", "./flowrec_data"),
		ElementTimeoutMS: getEnvIntOrDefault("FLOWREC_ELEMENT_TIMEOUT_MS", 7000),
		PollIntervalMS:   getEnvIntOrDefault("FLOWREC_POLL_INTERVAL_MS", 100),
		StabilizeMS:      getEnvIntOrDefault("FLOWREC_STABILIZE_MS", 500),
		ProbeTimeoutMS:   getEnvIntOrDefault("FLOWREC_PROBE_TIMEOUT_MS", 1000),
		CancelGraceMS:    getEnvIntOrDefault("FLOWREC_CANCEL_GRACE_MS", 300),
		LogLevel:         strings.ToLower(getEnvOrDefault("FLOWREC_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("FLOWREC_LOG_FILE", "logs/flowrec.log"),
		NtfyURL:          getEnvOrDefault("FLOWREC_NTFY_URL", ""),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.PollIntervalMS < 10 {
		cfg.PollIntervalMS = 10
	}
	return cfg, nil
}

// CDPURL returns the DevTools HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func (c *Config) EvalTimeout() time.Duration { return ms(c.EvalTimeoutMS) }

func (c *Config) ElementTimeout() time.Duration { return ms(c.ElementTimeoutMS) }

func (c *Config) PollInterval() time.Duration { return ms(c.PollIntervalMS) }

func (c *Config) Stabilize() time.Duration { return ms(c.StabilizeMS) }

func (c *Config) ProbeTimeout() time.Duration { return ms(c.ProbeTimeoutMS) }

func (c *Config) CancelGrace() time.Duration { return ms(c.CancelGraceMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma separated value, dropping empty items.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
