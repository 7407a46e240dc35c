package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	HTTP          struct {
		Listen string `json:"listen"`
	} `json:"http"`
	Desktop struct {
		BaseURL     string `json:"base_url"`
		APIKey      string `json:"api_key"`
		IdleMinutes int    `json:"idle_minutes"`
		ReapCron    string `json:"reap_cron"`
	} `json:"desktop"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
}

func Load(path string) (*Config, error) {
	// Secrets commonly live in a .env next to the binary; missing is fine.
	godotenv.Load()

	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".deskpilot"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.HTTP.Listen = ":8088"
	cfg.Desktop.BaseURL = "https://api.e2b.dev/v1"
	cfg.Desktop.IdleMinutes = 10
	cfg.Desktop.ReapCron = "*/5 * * * *"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("DESKTOP_API_KEY"); apiKey != "" {
		cfg.Desktop.APIKey = apiKey
	}
	if baseURL := os.Getenv("DESKTOP_BASE_URL"); baseURL != "" {
		cfg.Desktop.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if tgChat := os.Getenv("TELEGRAM_CHAT_ID"); tgChat != "" {
		if id, err := strconv.ParseInt(tgChat, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}

	return cfg, nil
}

// Save writes the config to path atomically, creating parent directories
// as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts the config to a nested map via its JSON representation.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns all config values as a flat map with dot-separated
// keys. If mask is true, secret values are masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads the config at path and returns the value for a
// dot-separated key. Keys outside the Config struct are still readable
// so SetValue and GetValue stay symmetric.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(path); err == nil {
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err == nil {
			for k, v := range Flatten(raw) {
				if _, ok := flat[k]; !ok {
					flat[k] = v
				}
			}
		}
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue sets a dot-separated key in the config file at path. The raw
// value is parsed as JSON when possible (numbers, booleans) and falls
// back to a plain string. Unknown keys are preserved in the file so the
// struct can grow without clobbering user settings.
func SetValue(path, key, raw string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	flat := Flatten(m)
	flat[key] = value
	nested := Unflatten(flat)

	out, err := json.MarshalIndent(nested, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	out = append(out, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
