package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigRelPath = ".mianshi/config.yaml"
	defaultBaseRelDir    = ".mianshi"
)

type ScoringConfig struct {
	BaseURL      string  `yaml:"base_url"`
	DefaultModel string  `yaml:"default_model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
}

type TranscriptionConfig struct {
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`

	// SessionIdle is how long an untouched client session is kept in memory.
	SessionIdle time.Duration `yaml:"session_idle"`
}

type QuestionsConfig struct {
	File string `yaml:"file"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

type SettingsConfig struct {
	File string `yaml:"file"`
}

type TimeoutConfig struct {
	Transcription time.Duration `yaml:"transcription"`
	Scoring       time.Duration `yaml:"scoring"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Scoring       ScoringConfig       `yaml:"scoring"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Database      DatabaseConfig      `yaml:"database"`
	Server        ServerConfig        `yaml:"server"`
	Questions     QuestionsConfig     `yaml:"questions"`
	Output        OutputConfig        `yaml:"output"`
	Settings      SettingsConfig      `yaml:"settings"`
	Timeouts      TimeoutConfig       `yaml:"timeouts"`
	Log           LogConfig           `yaml:"log"`
}

// BaseDir returns ~/.mianshi.
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, defaultBaseRelDir), nil
}

// Load reads the optional .env files, then the YAML config, then applies env overrides.
func Load(configPath string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	cfg := &Config{}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.Scoring.BaseURL == "" {
		c.Scoring.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Scoring.DefaultModel == "" {
		c.Scoring.DefaultModel = "google/gemini-3-flash-preview"
	}
	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = "https://api.lemonfox.ai/v1"
	}
	if c.Transcription.Model == "" {
		c.Transcription.Model = "whisper-1"
	}
	if c.Transcription.Language == "" {
		c.Transcription.Language = "chinese"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		if dir, err := BaseDir(); err == nil {
			c.Database.DSN = filepath.Join(dir, "mianshi.db")
		} else {
			c.Database.DSN = "mianshi.db"
		}
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8501
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Server.SessionIdle == 0 {
		c.Server.SessionIdle = 2 * time.Hour
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Settings.File == "" {
		if dir, err := BaseDir(); err == nil {
			c.Settings.File = filepath.Join(dir, "settings.yaml")
		} else {
			c.Settings.File = "settings.yaml"
		}
	}
	if c.Timeouts.Transcription == 0 {
		c.Timeouts.Transcription = 60 * time.Second
	}
	if c.Timeouts.Scoring == 0 {
		c.Timeouts.Scoring = 120 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver %q is not one of sqlite, postgres, mysql", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn cannot be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}
	return nil
}

// ValidateExport enforces export-specific requirements.
func (c *Config) ValidateExport() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return errors.New("output.dir cannot be empty")
	}
	if err := ensureWritableDir(c.Output.Dir); err != nil {
		return fmt.Errorf("output.dir not writable: %w", err)
	}
	return nil
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Addr is host:port for the HTTP server.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

func applyEnvOverrides(c *Config) {
	setString(&c.Scoring.BaseURL, "MIANSHI_SCORING_BASE_URL")
	setString(&c.Scoring.DefaultModel, "MIANSHI_SCORING_DEFAULT_MODEL")
	setInt(&c.Scoring.MaxTokens, "MIANSHI_SCORING_MAX_TOKENS")
	setFloat(&c.Scoring.Temperature, "MIANSHI_SCORING_TEMPERATURE")
	setString(&c.Transcription.BaseURL, "MIANSHI_TRANSCRIPTION_BASE_URL")
	setString(&c.Transcription.Language, "MIANSHI_TRANSCRIPTION_LANGUAGE")
	setString(&c.Database.Driver, "MIANSHI_DATABASE_DRIVER")
	setString(&c.Database.DSN, "MIANSHI_DATABASE_DSN")
	setString(&c.Server.Host, "MIANSHI_SERVER_HOST")
	setInt(&c.Server.Port, "MIANSHI_SERVER_PORT")
	setDuration(&c.Server.SessionIdle, "MIANSHI_SERVER_SESSION_IDLE")
	setString(&c.Questions.File, "MIANSHI_QUESTIONS_FILE")
	setString(&c.Output.Dir, "MIANSHI_OUTPUT_DIR")
	setString(&c.Settings.File, "MIANSHI_SETTINGS_FILE")
	setDuration(&c.Timeouts.Transcription, "MIANSHI_TIMEOUT_TRANSCRIPTION")
	setDuration(&c.Timeouts.Scoring, "MIANSHI_TIMEOUT_SCORING")
	setString(&c.Log.Level, "MIANSHI_LOG_LEVEL")
	setString(&c.Log.Format, "MIANSHI_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
