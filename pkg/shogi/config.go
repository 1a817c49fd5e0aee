package shogi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	Engine        string            `json:"engine"`
	EngineOptions map[string]string `json:"engine_options"`
	Millis        int               `json:"millis"`
	ReplyDelayMs  int               `json:"reply_delay_ms"`
	MoveLimit     int               `json:"move_limit"`
	LogLevel      string            `json:"log_level"`
}

// DefaultConfig is used when no config.json is found.
func DefaultConfig() Config {
	return Config{
		Millis:       1000,
		ReplyDelayMs: 500,
		MoveLimit:    DefaultMoveLimit,
		LogLevel:     "info",
	}
}

func FindConfigPath() (string, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", "", err
	}
	dir := cwd
	for {
		path := filepath.Join(dir, "config.json")
		if _, err := os.Stat(path); err == nil {
			return path, filepath.Dir(path), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", "", fmt.Errorf("config.json not found from %s", cwd)
}

// LoadConfig reads path over the defaults, then applies SHOGI_* variables
// from the environment or a .env file next to the config. An empty path
// skips the JSON step.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	envFile := ".env"
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
		envFile = filepath.Join(filepath.Dir(path), ".env")
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SHOGI_ENGINE"); v != "" {
		c.Engine = v
	}
	if v := os.Getenv("SHOGI_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	for name, dst := range map[string]*int{
		"SHOGI_MILLIS":         &c.Millis,
		"SHOGI_REPLY_DELAY_MS": &c.ReplyDelayMs,
		"SHOGI_MOVE_LIMIT":     &c.MoveLimit,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}
	return nil
}

func (c Config) ReplyDelay() time.Duration {
	return time.Duration(c.ReplyDelayMs) * time.Millisecond
}

// Level parses LogLevel, defaulting to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}

// EnginePath resolves a relative engine path against the config directory.
func (c Config) EnginePath(root string) string {
	if c.Engine == "" || filepath.IsAbs(c.Engine) {
		return c.Engine
	}
	return filepath.Join(root, c.Engine)
}
