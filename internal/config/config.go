package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/cropframe/pkg/cropper"
	"github.com/menta2k/cropframe/pkg/layout"
	"github.com/menta2k/cropframe/pkg/transform"
)

// Config holds the application configuration
type Config struct {
	Session SessionConfig `json:"session" yaml:"session"`
	Output  OutputConfig  `json:"output" yaml:"output"`
	Focus   FocusConfig   `json:"focus" yaml:"focus"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// SessionConfig holds the crop session tuning
type SessionConfig struct {
	MarginFactor float64 `json:"margin_factor" yaml:"margin_factor"`
	Epsilon      float64 `json:"epsilon" yaml:"epsilon"`
	Policy       string  `json:"policy" yaml:"policy"`
	HardMin      float64 `json:"hard_min" yaml:"hard_min"`
	HardMax      float64 `json:"hard_max" yaml:"hard_max"`
	Margin       float64 `json:"margin" yaml:"margin"`
	AspectRatio  string  `json:"aspect_ratio" yaml:"aspect_ratio"`
	// Viewport used by non-interactive commands.
	ViewportWidth  float64 `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight float64 `json:"viewport_height" yaml:"viewport_height"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Width          int    `json:"width" yaml:"width"`
	Height         int    `json:"height" yaml:"height"`
	Format         string `json:"format" yaml:"format"`
	Quality        int    `json:"quality" yaml:"quality"`
	Lossless       bool   `json:"lossless" yaml:"lossless"`
	Filter         string `json:"filter" yaml:"filter"`
	AllowUpscaling bool   `json:"allow_upscaling" yaml:"allow_upscaling"`
	Dir            string `json:"dir" yaml:"dir"`
	Prefix         string `json:"prefix" yaml:"prefix"`
	Suffix         string `json:"suffix" yaml:"suffix"`
}

// FocusConfig selects how the initial crop is framed
type FocusConfig struct {
	// Backend is none, saliency, ollama or llamacpp.
	Backend        string  `json:"backend" yaml:"backend"`
	URL            string  `json:"url" yaml:"url"`
	Model          string  `json:"model" yaml:"model"`
	SendSize       int     `json:"send_size" yaml:"send_size"`
	SendQuality    int     `json:"send_quality" yaml:"send_quality"`
	MinConfidence  float64 `json:"min_confidence" yaml:"min_confidence"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// ServerConfig holds the HTTP host settings
type ServerConfig struct {
	Addr        string `json:"addr" yaml:"addr"`
	BodyLimitMB int    `json:"body_limit_mb" yaml:"body_limit_mb"`
	MaxSessions int    `json:"max_sessions" yaml:"max_sessions"`
	// IdleMinutes after which an untouched session is evicted.
	IdleMinutes int `json:"idle_minutes" yaml:"idle_minutes"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

var (
	focusBackends = []string{"none", "saliency", "ollama", "llamacpp"}
	outputFormats = []string{"jpg", "jpeg", "png", "webp"}
)

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			MarginFactor:   transform.DefaultMarginFactor,
			Epsilon:        transform.DefaultEpsilon,
			Policy:         "coverage",
			HardMin:        transform.DefaultHardMin,
			HardMax:        transform.DefaultHardMax,
			Margin:         layout.DefaultMargin,
			AspectRatio:    "square",
			ViewportWidth:  390,
			ViewportHeight: 844,
		},
		Output: OutputConfig{
			Width:          1024,
			Height:         1024,
			Format:         "jpg",
			Quality:        90,
			Filter:         "lanczos",
			AllowUpscaling: true,
			Dir:            "./output",
			Suffix:         "_cropped",
		},
		Focus: FocusConfig{
			Backend:        "none",
			URL:            "http://localhost:11434",
			Model:          "llava:13b",
			SendSize:       768,
			SendQuality:    85,
			MinConfidence:  0.2,
			TimeoutSeconds: 300,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			BodyLimitMB: 32,
			MaxSessions: 256,
			IdleMinutes: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension. Fields missing from the file keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON or YAML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	s := c.Session
	if s.MarginFactor < 1 {
		return fmt.Errorf("session.margin_factor must be at least 1")
	}
	if s.Epsilon < 0 {
		return fmt.Errorf("session.epsilon must not be negative")
	}
	if _, err := transform.ParsePolicy(s.Policy); err != nil {
		return fmt.Errorf("session.policy: %w", err)
	}
	if s.HardMin <= 0 || s.HardMax <= s.HardMin {
		return fmt.Errorf("session.hard_min must be positive and below session.hard_max")
	}
	if s.Margin < 0 {
		return fmt.Errorf("session.margin must not be negative")
	}
	if _, err := layout.ParseAspectRatio(s.AspectRatio); err != nil {
		return fmt.Errorf("session.aspect_ratio: %w", err)
	}
	if s.ViewportWidth <= 0 || s.ViewportHeight <= 0 {
		return fmt.Errorf("session viewport must be positive")
	}

	o := c.Output
	if o.Width < 0 || o.Height < 0 {
		return fmt.Errorf("output.width and output.height must not be negative")
	}
	if o.Quality < 1 || o.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}
	if !contains(outputFormats, strings.ToLower(o.Format)) {
		return fmt.Errorf("output.format %q is not supported", o.Format)
	}
	if _, err := cropper.ParseFilter(o.Filter); err != nil {
		return fmt.Errorf("output.filter: %w", err)
	}

	f := c.Focus
	if !contains(focusBackends, f.Backend) {
		return fmt.Errorf("focus.backend must be one of %s", strings.Join(focusBackends, ", "))
	}
	if (f.Backend == "ollama" || f.Backend == "llamacpp") && (f.URL == "" || f.Model == "") {
		return fmt.Errorf("focus.url and focus.model are required for the %s backend", f.Backend)
	}
	if f.MinConfidence < 0 || f.MinConfidence > 1 {
		return fmt.Errorf("focus.min_confidence must be between 0 and 1")
	}

	if c.Server.BodyLimitMB < 1 {
		return fmt.Errorf("server.body_limit_mb must be positive")
	}
	if c.Server.MaxSessions < 1 {
		return fmt.Errorf("server.max_sessions must be positive")
	}

	return nil
}

// InitParams returns the session zoom headroom settings
func (c *Config) InitParams() transform.InitParams {
	return transform.InitParams{MarginFactor: c.Session.MarginFactor, Epsilon: c.Session.Epsilon}
}

// Limits returns the live scale policy
func (c *Config) Limits() (transform.Limits, error) {
	policy, err := transform.ParsePolicy(c.Session.Policy)
	if err != nil {
		return transform.Limits{}, err
	}
	return transform.Limits{Policy: policy, HardMin: c.Session.HardMin, HardMax: c.Session.HardMax}, nil
}

// CropConfig returns the extractor settings
func (c *Config) CropConfig() cropper.CropConfig {
	return cropper.CropConfig{
		Width:          c.Output.Width,
		Height:         c.Output.Height,
		AllowUpscaling: c.Output.AllowUpscaling,
		Filter:         c.Output.Filter,
	}
}

// FocusTimeout returns the model request timeout
func (c *Config) FocusTimeout() time.Duration {
	return time.Duration(c.Focus.TimeoutSeconds) * time.Second
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "cropframe", "config.json")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
