package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/seantiz/webtasks/internal/engine"
	"github.com/seantiz/webtasks/internal/model"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "webtasks.db"
	defaultLogLevel   = "info"

	envConfigPath       = "WEBTASKS_CONFIG"
	envListenAddr       = "WEBTASKS_LISTEN_ADDR"
	envDBPath           = "WEBTASKS_DB_PATH"
	envLogLevel         = "WEBTASKS_LOG_LEVEL"
	envSweepInterval    = "WEBTASKS_SWEEP_INTERVAL"
	envMaxWorkers       = "WEBTASKS_MAX_WORKERS"
	envResultExpiration = "WEBTASKS_RESULT_EXPIRATION"
	envWorkTimeout      = "WEBTASKS_WORK_TIMEOUT"
	envPersistOnRead    = "WEBTASKS_PERSIST_ON_READ"
)

var validate = validator.New()

// Config holds application configuration.
type Config struct {
	ListenAddr string       `yaml:"listen_addr" validate:"required"`
	DBPath     string       `yaml:"db_path" validate:"required"`
	LogLevel   string       `yaml:"log_level" validate:"oneof=debug info warn error"`
	Engine     EngineConfig `yaml:"engine"`
}

// EngineConfig tunes the task registry and the defaults applied to submissions.
type EngineConfig struct {
	SweepInterval    time.Duration `yaml:"sweep_interval" validate:"gte=0"`
	MaxWorkers       int           `yaml:"max_workers" validate:"gte=0"`
	ResultExpiration time.Duration `yaml:"result_expiration" validate:"gte=0"`
	WorkTimeout      time.Duration `yaml:"work_timeout" validate:"gte=0"`
	PersistOnRead    bool          `yaml:"persist_on_read"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   defaultLogLevel,
		Engine: EngineConfig{
			SweepInterval:    engine.DefaultSweepInterval,
			ResultExpiration: model.DefaultResultExpiration,
			WorkTimeout:      model.DefaultWorkTimeout,
			PersistOnRead:    model.DefaultPersistOnRead,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $WEBTASKS_CONFIG when path is empty), then environment overrides.
// The result is validated before it is returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{envSweepInterval, &cfg.Engine.SweepInterval},
		{envResultExpiration, &cfg.Engine.ResultExpiration},
		{envWorkTimeout, &cfg.Engine.WorkTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.env, err)
		}
		*d.dst = parsed
	}

	if v := os.Getenv(envMaxWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envMaxWorkers, err)
		}
		cfg.Engine.MaxWorkers = n
	}
	if v := os.Getenv(envPersistOnRead); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envPersistOnRead, err)
		}
		cfg.Engine.PersistOnRead = b
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

// TaskDefaults returns the task configuration applied to submissions that
// do not carry their own.
func (e EngineConfig) TaskDefaults() model.Config {
	return model.Config{
		ResultExpiration: e.ResultExpiration,
		WorkTimeout:      e.WorkTimeout,
		PersistOnRead:    e.PersistOnRead,
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
