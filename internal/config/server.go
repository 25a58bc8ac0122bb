package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	commoncfg "github.com/gaspardpetit/pixrelay/core/config"
	"github.com/gaspardpetit/pixrelay/internal/poller"
	"github.com/gaspardpetit/pixrelay/internal/workflow"
)

// ServerConfig holds configuration for the pixrelay server.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	APIKey         string        `yaml:"api_key"`
	EngineURL      string        `yaml:"engine_url"`
	ClientID       string        `yaml:"client_id"`
	DefaultCkpt    string        `yaml:"default_ckpt"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ConfigFile     string        `yaml:"-"`
	LogLevel       string        `yaml:"log_level"`
	RedisAddr      string        `yaml:"redis_addr"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	PollDeadline   time.Duration `yaml:"poll_deadline"`
	LostGracePolls int           `yaml:"lost_grace_polls"`
	SubmitGrace    time.Duration `yaml:"submit_grace"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.EngineURL == "" {
		c.EngineURL = "http://127.0.0.1:8188"
	}
	if c.ClientID == "" {
		c.ClientID = "pixrelay-" + uuid.NewString()
	}
	if c.DefaultCkpt == "" {
		c.DefaultCkpt = workflow.DefaultCkptName
	}
	if c.PollInterval == 0 {
		c.PollInterval = poller.DefaultInterval
	}
	if c.PollDeadline == 0 {
		c.PollDeadline = poller.DefaultDeadline
	}
	if c.LostGracePolls == 0 {
		c.LostGracePolls = poller.DefaultLostGracePolls
	}
	if c.SubmitGrace == 0 {
		c.SubmitGrace = 300 * time.Millisecond
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = c.PollDeadline + 30*time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 5 * time.Minute
	}
	if c.ConfigFile == "" {
		c.ConfigFile = commoncfg.DefaultConfigPath("server.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := commoncfg.GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := commoncfg.GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := commoncfg.GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := commoncfg.GetEnv("METRICS_PORT", ""); v != "" {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
	}
	if v := commoncfg.GetEnv("API_KEY", ""); v != "" {
		c.APIKey = v
	}
	if v := commoncfg.GetEnv("ENGINE_URL", ""); v != "" {
		c.EngineURL = v
	}
	if v := commoncfg.GetEnv("CLIENT_ID", ""); v != "" {
		c.ClientID = v
	}
	if v := commoncfg.GetEnv("DEFAULT_CKPT", ""); v != "" {
		c.DefaultCkpt = v
	}
	if v := commoncfg.GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := commoncfg.GetEnv("REQUEST_TIMEOUT", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RequestTimeout = time.Duration(f * float64(time.Second))
		}
	}
	if v := commoncfg.GetEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v := commoncfg.GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := commoncfg.GetEnv("POLL_INTERVAL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PollInterval = d
		}
	}
	if v := commoncfg.GetEnv("POLL_DEADLINE", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PollDeadline = d
		}
	}
	if v := commoncfg.GetEnv("LOST_GRACE_POLLS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LostGracePolls = n
		}
	}
	if v := commoncfg.GetEnv("SUBMIT_GRACE", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SubmitGrace = d
		}
	}
}

// BindFlagsFromCurrent binds command line flags using the current config values as defaults.
func (c *ServerConfig) BindFlagsFromCurrent() {
	c.BindFlagSet(flag.CommandLine)
}

// BindFlagSet binds the config fields to fs.
func (c *ServerConfig) BindFlagSet(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the public API")
	fs.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; defaults to the value of --port")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "client API key required for HTTP requests; leave empty to disable auth")
	fs.StringVar(&c.EngineURL, "engine-url", c.EngineURL, "base URL of the image engine")
	fs.StringVar(&c.ClientID, "client-id", c.ClientID, "client tag sent with every submitted job")
	fs.StringVar(&c.DefaultCkpt, "default-ckpt", c.DefaultCkpt, "checkpoint used when a request names none")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for server state")
	fs.Func("request-timeout", "request timeout in seconds", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.RequestTimeout = time.Duration(f * float64(time.Second))
		return nil
	})
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for in-flight generations on shutdown (-1 to wait indefinitely, 0 to exit immediately)")
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "interval between job history polls")
	fs.DurationVar(&c.PollDeadline, "poll-deadline", c.PollDeadline, "maximum time to wait for a job to resolve")
	fs.IntVar(&c.LostGracePolls, "lost-grace-polls", c.LostGracePolls, "polls before a job absent from queue and history is declared lost")
	fs.DurationVar(&c.SubmitGrace, "submit-grace", c.SubmitGrace, "pause after submission before the first queue sample")
}

// Finalize resolves values that depend on other settings. It runs once
// every source has been applied.
func (c *ServerConfig) Finalize() {
	switch {
	case c.MetricsAddr == "":
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	case !strings.Contains(c.MetricsAddr, ":"):
		c.MetricsAddr = ":" + c.MetricsAddr
	}
}

// PollParams derives the poll loop parameters from the config.
func (c *ServerConfig) PollParams() poller.Params {
	p := poller.ParamsFor(c.PollInterval, c.PollDeadline)
	if c.LostGracePolls > 0 {
		p.LostGracePolls = c.LostGracePolls
	}
	return p
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadFile populates the config from a YAML file.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}
