package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Audio         AudioConfig      `yaml:"audio"`
	Transcribe    TranscribeConfig `yaml:"transcribe"`
	Rewrite       RewriteConfig    `yaml:"rewrite"`
	Inject        InjectConfig     `yaml:"inject"`
	Hotkey        HotkeyConfig     `yaml:"hotkey"`
	Retry         RetryConfig      `yaml:"retry"`
	Control       ControlConfig    `yaml:"control"`
	Notifications bool             `yaml:"notifications"`
	LogLevel      string           `yaml:"log_level"`
}

// AudioConfig holds audio capture settings. The artifact format itself
// (16 kHz, 16-bit, mono) is fixed and not configurable.
type AudioConfig struct {
	Device           string        `yaml:"device"` // input device name substring, or "default"
	MinDuration      time.Duration `yaml:"min_duration"`
	MaxDuration      time.Duration `yaml:"max_duration"`
	SilenceThreshold float64       `yaml:"silence_threshold"` // RMS in [0,1]
	SecureDelete     bool          `yaml:"secure_delete"`
	TempDir          string        `yaml:"temp_dir"` // empty means the OS temp dir
}

// TranscribeConfig holds speech-to-text backend settings.
type TranscribeConfig struct {
	Backend  string             `yaml:"backend"` // "cloud" or "local"
	BaseURL  string             `yaml:"base_url"`
	APIKey   string             `yaml:"api_key"`
	Model    string             `yaml:"model"`
	Language string             `yaml:"language"` // BCP 47 code or "auto"
	Local    LocalServiceConfig `yaml:"local"`
}

// LocalServiceConfig describes the local transcription service and how it
// is kept running.
type LocalServiceConfig struct {
	Supervisor     string        `yaml:"supervisor"` // "docker" or "exec"
	Command        string        `yaml:"command"`    // exec supervisor command line
	Image          string        `yaml:"image"`      // overrides the CPU/GPU default
	Container      string        `yaml:"container"`
	Port           int           `yaml:"port"`
	GPU            bool          `yaml:"gpu"`
	Model          string        `yaml:"model"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// BaseURL is the API root of the local service.
func (l LocalServiceConfig) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/v1", l.Port)
}

// HealthURL is the health endpoint of the local service.
func (l LocalServiceConfig) HealthURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/health", l.Port)
}

// RewriteConfig holds LLM rewrite settings.
type RewriteConfig struct {
	Provider      string            `yaml:"provider"` // "none", "openai", "ollama" or "custom"
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	Model         string            `yaml:"model"`
	Template      string            `yaml:"template"`
	Templates     map[string]string `yaml:"templates"` // user templates by name
	Temperature   float64           `yaml:"temperature"`
	MaxTokens     int               `yaml:"max_tokens"`
	MaxDivergence float64           `yaml:"max_divergence"` // 0 disables the guard
}

// InjectConfig holds text injection settings.
type InjectConfig struct {
	Method          string        `yaml:"method"` // "clipboard", "typing" or "hybrid"
	TypingDelay     time.Duration `yaml:"typing_delay"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	ClipboardBackup bool          `yaml:"clipboard_backup"`
	NewlineChord    []string      `yaml:"newline_chord"` // key followed by modifiers
	PasteBlocklist  []string      `yaml:"paste_blocklist"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Keys       []string `yaml:"keys"`
	Mode       string   `yaml:"mode"` // "hold" or "toggle"
	CancelKeys []string `yaml:"cancel_keys"`
}

// RetryConfig holds the backoff policy for transient backend failures.
type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
}

// ControlConfig holds the localhost control API settings.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "dictaflow")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Device:           "default",
			MinDuration:      300 * time.Millisecond,
			MaxDuration:      5 * time.Minute,
			SilenceThreshold: 0.003,
		},
		Transcribe: TranscribeConfig{
			Backend:  "cloud",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "whisper-1",
			Language: "auto",
			Local: LocalServiceConfig{
				Supervisor:     "docker",
				Container:      "dictaflow-whisper",
				Port:           8000,
				Model:          "Systran/faster-whisper-base",
				StartupTimeout: 5 * time.Minute,
			},
		},
		Rewrite: RewriteConfig{
			Provider:    "none",
			Template:    "balanced",
			Temperature: 0.7,
			MaxTokens:   500,
		},
		Inject: InjectConfig{
			Method:          "hybrid",
			TypingDelay:     time.Millisecond,
			SettleDelay:     100 * time.Millisecond,
			ClipboardBackup: true,
			NewlineChord:    []string{"enter", "shift"},
		},
		Hotkey: HotkeyConfig{
			Keys:       []string{"ctrl", "shift", "space"},
			Mode:       "toggle",
			CancelKeys: []string{"ctrl", "shift", "escape"},
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: 2 * time.Second,
		},
		Control: ControlConfig{
			Enabled: true,
			Addr:    "127.0.0.1:7788",
		},
		Notifications: true,
		LogLevel:      "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory,
// and empty credentials fall back to OPENAI_API_KEY.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Audio.TempDir = expandTilde(cfg.Audio.TempDir)
	cfg.applyEnv()

	return cfg, nil
}

// applyEnv fills empty OpenAI credentials from the environment.
func (c *Config) applyEnv() {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return
	}
	if c.Transcribe.APIKey == "" && c.Transcribe.Backend == "cloud" {
		c.Transcribe.APIKey = key
	}
	if c.Rewrite.APIKey == "" && c.Rewrite.Provider == "openai" {
		c.Rewrite.APIKey = key
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Audio.MinDuration < 0 {
		return fmt.Errorf("audio.min_duration must be >= 0")
	}
	if c.Audio.MaxDuration != 0 && c.Audio.MaxDuration < c.Audio.MinDuration {
		return fmt.Errorf("audio.max_duration must be 0 or >= audio.min_duration")
	}
	if c.Audio.SilenceThreshold < 0 || c.Audio.SilenceThreshold >= 1 {
		return fmt.Errorf("audio.silence_threshold must be in [0, 1), got %v", c.Audio.SilenceThreshold)
	}

	switch c.Transcribe.Backend {
	case "cloud":
		if c.Transcribe.BaseURL == "" {
			return fmt.Errorf("transcribe.base_url must not be empty for the cloud backend")
		}
	case "local":
		if err := c.Transcribe.Local.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("transcribe.backend must be \"cloud\" or \"local\", got %q", c.Transcribe.Backend)
	}

	switch c.Rewrite.Provider {
	case "none", "openai", "ollama":
	case "custom":
		if c.Rewrite.BaseURL == "" {
			return fmt.Errorf("rewrite.base_url must not be empty for the custom provider")
		}
	default:
		return fmt.Errorf("rewrite.provider must be none, openai, ollama, or custom, got %q", c.Rewrite.Provider)
	}
	if c.Rewrite.Temperature < 0 || c.Rewrite.Temperature > 2 {
		return fmt.Errorf("rewrite.temperature must be in [0, 2], got %v", c.Rewrite.Temperature)
	}
	if c.Rewrite.MaxTokens <= 0 {
		return fmt.Errorf("rewrite.max_tokens must be > 0")
	}
	if c.Rewrite.MaxDivergence < 0 {
		return fmt.Errorf("rewrite.max_divergence must be >= 0")
	}
	if c.Rewrite.Provider != "none" && c.Rewrite.Template == "" {
		return fmt.Errorf("rewrite.template must not be empty")
	}

	switch c.Inject.Method {
	case "clipboard", "typing", "hybrid":
	default:
		return fmt.Errorf("inject.method must be \"clipboard\", \"typing\" or \"hybrid\", got %q", c.Inject.Method)
	}
	if c.Inject.TypingDelay < 0 || c.Inject.SettleDelay < 0 {
		return fmt.Errorf("inject delays must be >= 0")
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}
	switch c.Hotkey.Mode {
	case "hold", "toggle":
	default:
		return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
	}

	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be >= 1")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must be >= 0")
	}

	if c.Control.Enabled && c.Control.Addr == "" {
		return fmt.Errorf("control.addr must not be empty when control is enabled")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

func (l LocalServiceConfig) validate() error {
	if l.Port <= 0 || l.Port > 65535 {
		return fmt.Errorf("transcribe.local.port must be in 1-65535, got %d", l.Port)
	}
	if l.StartupTimeout <= 0 {
		return fmt.Errorf("transcribe.local.startup_timeout must be > 0")
	}
	switch l.Supervisor {
	case "docker":
	case "exec":
		if strings.TrimSpace(l.Command) == "" {
			return fmt.Errorf("transcribe.local.command must not be empty for the exec supervisor")
		}
	default:
		return fmt.Errorf("transcribe.local.supervisor must be \"docker\" or \"exec\", got %q", l.Supervisor)
	}
	return nil
}

// ParseLogLevel maps a log_level string to a slog level. Unknown values
// map to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# dictaflow configuration
#
# transcribe.backend: cloud (OpenAI-compatible API) or local (faster-whisper in docker)
# rewrite.provider:   none, openai, ollama, or custom (any OpenAI-compatible base_url)
# inject.method:      clipboard, typing, or hybrid (paste, fall back to typing)
# Empty api_key values fall back to the OPENAI_API_KEY environment variable.

`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the written path, or "" if a file was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// clone returns a deep copy of c.
func (c *Config) clone() *Config {
	out := *c
	out.Inject.NewlineChord = append([]string(nil), c.Inject.NewlineChord...)
	out.Inject.PasteBlocklist = append([]string(nil), c.Inject.PasteBlocklist...)
	out.Hotkey.Keys = append([]string(nil), c.Hotkey.Keys...)
	out.Hotkey.CancelKeys = append([]string(nil), c.Hotkey.CancelKeys...)
	if c.Rewrite.Templates != nil {
		out.Rewrite.Templates = make(map[string]string, len(c.Rewrite.Templates))
		for k, v := range c.Rewrite.Templates {
			out.Rewrite.Templates[k] = v
		}
	}
	return &out
}
