package config

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "SCANVIEWER_"

// Config holds the application configuration
type Config struct {
	Canvas     CanvasConfig     `json:"canvas"`
	Annotate   AnnotateConfig   `json:"annotate"`
	Viewport   ViewportConfig   `json:"viewport"`
	Prediction PredictionConfig `json:"prediction"`
	Chat       ChatConfig       `json:"chat"`
	Server     ServerConfig     `json:"server"`
	Output     OutputConfig     `json:"output"`
	Logging    LoggingConfig    `json:"logging"`
}

// CanvasConfig holds configuration for scan normalization
type CanvasConfig struct {
	Filter string `json:"filter"`
}

// AnnotateConfig holds configuration for region outlines
type AnnotateConfig struct {
	StrokeWidth int    `json:"stroke_width"`
	Color       string `json:"color"`
	Workers     int    `json:"workers"`
}

// ViewportConfig holds the default frame size served to clients
type ViewportConfig struct {
	FrameWidth  int `json:"frame_width"`
	FrameHeight int `json:"frame_height"`
}

// PredictionConfig points at the prediction service
type PredictionConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ChatConfig selects the chat backend
type ChatConfig struct {
	Backend string `json:"backend"`
	URL     string `json:"url"`
	Model   string `json:"model"`
	UserID  string `json:"user_id"`
}

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Addr        string   `json:"addr"`
	CORSOrigins []string `json:"cors_origins"`
	MaxUploadMB int      `json:"max_upload_mb"`
}

// OutputConfig holds configuration for exported variants
type OutputConfig struct {
	DefaultFormat string `json:"default_format"`
	Quality       int    `json:"quality"`
	OutputDir     string `json:"output_dir"`
	Prefix        string `json:"prefix"`
	Suffix        string `json:"suffix"`
}

// LoggingConfig holds configuration for the logger
type LoggingConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Canvas: CanvasConfig{
			Filter: "lanczos",
		},
		Annotate: AnnotateConfig{
			StrokeWidth: 2,
			Color:       "#ff0000",
			Workers:     4,
		},
		Viewport: ViewportConfig{
			FrameWidth:  512,
			FrameHeight: 512,
		},
		Prediction: PredictionConfig{
			URL:            "http://localhost:8000",
			TimeoutSeconds: 120,
		},
		Chat: ChatConfig{
			Backend: "service",
			URL:     "http://localhost:8000",
			UserID:  "clinician",
		},
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
			MaxUploadMB: 32,
		},
		Output: OutputConfig{
			DefaultFormat: "png",
			Quality:       90,
			OutputDir:     "./output",
			Prefix:        "",
			Suffix:        "_region",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Fields missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads filename if it exists (defaults otherwise), then .env files and
// SCANVIEWER_* overrides, and validates the result.
func Load(filename string, envFiles ...string) (*Config, error) {
	config := Default()
	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			loaded, err := LoadFromFile(filename)
			if err != nil {
				return nil, err
			}
			config = loaded
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadEnvFiles loads .env style files into the process environment. Missing
// files are skipped; variables already set are not overwritten.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from SCANVIEWER_* environment variables
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("CANVAS_FILTER", &c.Canvas.Filter)
	str("ANNOTATE_COLOR", &c.Annotate.Color)
	str("PREDICTION_URL", &c.Prediction.URL)
	str("CHAT_BACKEND", &c.Chat.Backend)
	str("CHAT_URL", &c.Chat.URL)
	str("CHAT_MODEL", &c.Chat.Model)
	str("CHAT_USER_ID", &c.Chat.UserID)
	str("SERVER_ADDR", &c.Server.Addr)
	str("OUTPUT_DIR", &c.Output.OutputDir)
	str("LOG_LEVEL", &c.Logging.Level)

	if v, ok := os.LookupEnv(EnvPrefix + "LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sLOG_JSON: %w", EnvPrefix, err)
		}
		c.Logging.JSON = b
	}
	if v, ok := os.LookupEnv(EnvPrefix + "SERVER_CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = strings.Split(v, ",")
	}

	for key, dst := range map[string]*int{
		"ANNOTATE_STROKE_WIDTH":      &c.Annotate.StrokeWidth,
		"ANNOTATE_WORKERS":           &c.Annotate.Workers,
		"PREDICTION_TIMEOUT_SECONDS": &c.Prediction.TimeoutSeconds,
		"SERVER_MAX_UPLOAD_MB":       &c.Server.MaxUploadMB,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Annotate.StrokeWidth < 1 {
		return fmt.Errorf("annotate.stroke_width must be positive")
	}

	if c.Annotate.Workers < 1 {
		return fmt.Errorf("annotate.workers must be positive")
	}

	if _, err := ParseColor(c.Annotate.Color); err != nil {
		return fmt.Errorf("annotate.color: %w", err)
	}

	if c.Viewport.FrameWidth < 1 || c.Viewport.FrameHeight < 1 {
		return fmt.Errorf("viewport frame size must be positive")
	}

	if c.Prediction.URL == "" {
		return fmt.Errorf("prediction.url cannot be empty")
	}

	if c.Prediction.TimeoutSeconds < 1 {
		return fmt.Errorf("prediction.timeout_seconds must be positive")
	}

	switch c.Chat.Backend {
	case "service", "ollama", "llamacpp", "none":
	default:
		return fmt.Errorf("chat.backend must be one of service, ollama, llamacpp, none")
	}

	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}

	switch strings.ToLower(c.Output.DefaultFormat) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("output.default_format must be png, jpg or webp")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	return nil
}

// Timeout is the prediction request timeout
func (p PredictionConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// RGBA returns the outline color
func (a AnnotateConfig) RGBA() color.NRGBA {
	c, err := ParseColor(a.Color)
	if err != nil {
		return color.NRGBA{R: 255, A: 255}
	}
	return c
}

// ParseColor parses #rrggbb or #rrggbbaa
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 && len(s) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	if len(s) == 6 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "scan-viewer", "config.json")
}
