package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Transcribe TranscribeConfig  `yaml:"transcribe"`
	Cleanup    CleanupConfig     `yaml:"cleanup"`
	Pipeline   PipelineConfig    `yaml:"pipeline"`
	Hotkey     HotkeyConfig      `yaml:"hotkey"`
	Audio      AudioConfig       `yaml:"audio"`
	Inject     InjectConfig      `yaml:"inject"`
	Dictionary DictionaryConfig  `yaml:"dictionary"`
	History    HistoryConfig     `yaml:"history"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Apps       map[string]string `yaml:"apps"` // app name -> category override
	LogLevel   string            `yaml:"log_level"`
}

// TranscribeConfig holds speech-to-text settings.
type TranscribeConfig struct {
	Model     string `yaml:"model"`      // model id ("base.en") or absolute path to a ggml file
	ModelsDir string `yaml:"models_dir"` // where downloaded models live
	Language  string `yaml:"language"`   // "en", "de", ... or "auto"
	Streaming bool   `yaml:"streaming"`  // live preview while recording

	StreamInterval time.Duration `yaml:"stream_interval"`
}

// CleanupConfig holds language-model cleanup settings.
type CleanupConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Provider       string        `yaml:"provider"` // "openai", "ollama", "llamacpp", "llamafile"
	BaseURL        string        `yaml:"base_url"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	Model          string        `yaml:"model"`
	Formality      string        `yaml:"formality"`      // "casual", "neutral", "formal"
	Aggressiveness string        `yaml:"aggressiveness"` // "light", "medium", "heavy"
	CustomStyle    string        `yaml:"custom_style"`
	Timeout        time.Duration `yaml:"timeout"`
}

// SameEngine reports whether a language-model engine built for c can keep
// serving o: the model and how it is reached are unchanged. Prompt style
// settings are read per run and do not matter.
func (c CleanupConfig) SameEngine(o CleanupConfig) bool {
	return c.Enabled == o.Enabled && c.Model == o.Model && c.Provider == o.Provider &&
		c.BaseURL == o.BaseURL && c.APIKeyEnv == o.APIKeyEnv && c.Timeout == o.Timeout
}

// SameConnection reports whether only the model id could differ between c
// and o.
func (c CleanupConfig) SameConnection(o CleanupConfig) bool {
	return c.Provider == o.Provider && c.BaseURL == o.BaseURL &&
		c.APIKeyEnv == o.APIKeyEnv && c.Timeout == o.Timeout
}

// PipelineConfig holds the tuned thresholds of the processing pipeline.
type PipelineConfig struct {
	FastPathWords    int           `yaml:"fast_path_words"`
	MinOverlapRatio  float64       `yaml:"min_overlap_ratio"`
	MaxLengthRatio   float64       `yaml:"max_length_ratio"`
	MaxArtifactLen   int           `yaml:"max_artifact_len"`
	KeepAlive        time.Duration `yaml:"keep_alive"`
	MinAudioDuration time.Duration `yaml:"min_audio_duration"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Keys       []string `yaml:"keys"`
	CancelKeys []string `yaml:"cancel_keys"`
	Mode       string   `yaml:"mode"` // "hold" or "toggle"
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	SampleRate  uint32        `yaml:"sample_rate"`
	Channels    uint32        `yaml:"channels"`
	Device      string        `yaml:"device"` // substring of the capture device name; empty = default
	MaxErrors   int           `yaml:"max_conversion_errors"`
	DevicePoll  time.Duration `yaml:"device_poll_interval"`
	DebugWAVDir string        `yaml:"debug_wav_dir"`
}

// InjectConfig holds text injection settings.
type InjectConfig struct {
	Method        string        `yaml:"method"` // "type" or "paste"
	TrailingSpace bool          `yaml:"trailing_space"`
	FocusDelay    time.Duration `yaml:"focus_delay"`
}

// DictionaryConfig points at the personal dictionary file.
type DictionaryConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig holds audit and analytics settings.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	NATSURL       string `yaml:"nats_url"`
	NATSSubject   string `yaml:"nats_subject"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. "127.0.0.1:9464"; empty disables
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "voxpipe")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultDataDir returns the directory for models, history and the dictionary.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "voxpipe")
}

// DefaultModelsDir returns the default directory for downloaded models.
func DefaultModelsDir() string {
	return filepath.Join(DefaultDataDir(), "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	dataDir := DefaultDataDir()

	return &Config{
		Transcribe: TranscribeConfig{
			Model:          "base.en",
			ModelsDir:      DefaultModelsDir(),
			Language:       "en",
			Streaming:      false,
			StreamInterval: time.Second,
		},
		Cleanup: CleanupConfig{
			Enabled:        true,
			Provider:       "ollama",
			BaseURL:        "http://127.0.0.1:11434",
			Model:          "qwen2.5:3b",
			Formality:      "neutral",
			Aggressiveness: "medium",
			Timeout:        8 * time.Second,
		},
		Pipeline: PipelineConfig{
			FastPathWords:    20,
			MinOverlapRatio:  0.5,
			MaxLengthRatio:   1.3,
			MaxArtifactLen:   30,
			KeepAlive:        15 * time.Minute,
			MinAudioDuration: 300 * time.Millisecond,
		},
		Hotkey: HotkeyConfig{
			Keys:       []string{"ctrl", "shift", "r"},
			CancelKeys: []string{"esc"},
			Mode:       "hold",
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			MaxErrors:  10,
			DevicePoll: 2 * time.Second,
		},
		Inject: InjectConfig{
			Method:     "paste",
			FocusDelay: 60 * time.Millisecond,
		},
		Dictionary: DictionaryConfig{
			Path: filepath.Join(DefaultConfigDir(), "dictionary.yaml"),
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          filepath.Join(dataDir, "history.db"),
			RetentionDays: 30,
			NATSSubject:   "voxpipe.transcriptions",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Transcribe.Model = expandTilde(cfg.Transcribe.Model)
	cfg.Transcribe.ModelsDir = expandTilde(cfg.Transcribe.ModelsDir)
	cfg.Dictionary.Path = expandTilde(cfg.Dictionary.Path)
	cfg.History.Path = expandTilde(cfg.History.Path)
	cfg.Audio.DebugWAVDir = expandTilde(cfg.Audio.DebugWAVDir)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Transcribe.Model == "" {
		return fmt.Errorf("transcribe.model must not be empty")
	}
	if c.Transcribe.Language == "" {
		return fmt.Errorf("transcribe.language must not be empty (use \"auto\" to detect)")
	}
	if c.Transcribe.Streaming && c.Transcribe.StreamInterval <= 0 {
		return fmt.Errorf("transcribe.stream_interval must be > 0 when streaming is enabled")
	}

	if c.Cleanup.Enabled {
		switch c.Cleanup.Provider {
		case "openai", "ollama", "llamacpp", "llamafile":
		default:
			return fmt.Errorf("cleanup.provider must be openai, ollama, llamacpp, or llamafile, got %q", c.Cleanup.Provider)
		}
		if c.Cleanup.Model == "" {
			return fmt.Errorf("cleanup.model must not be empty when cleanup is enabled")
		}
	}

	switch c.Cleanup.Formality {
	case "casual", "neutral", "formal":
	default:
		return fmt.Errorf("cleanup.formality must be casual, neutral, or formal, got %q", c.Cleanup.Formality)
	}

	switch c.Cleanup.Aggressiveness {
	case "light", "medium", "heavy":
	default:
		return fmt.Errorf("cleanup.aggressiveness must be light, medium, or heavy, got %q", c.Cleanup.Aggressiveness)
	}

	if c.Pipeline.FastPathWords < 0 {
		return fmt.Errorf("pipeline.fast_path_words must be >= 0")
	}
	if c.Pipeline.MinOverlapRatio < 0 || c.Pipeline.MinOverlapRatio > 1 {
		return fmt.Errorf("pipeline.min_overlap_ratio must be within [0, 1], got %v", c.Pipeline.MinOverlapRatio)
	}
	if c.Pipeline.MaxLengthRatio < 1 {
		return fmt.Errorf("pipeline.max_length_ratio must be >= 1, got %v", c.Pipeline.MaxLengthRatio)
	}
	if c.Pipeline.MaxArtifactLen <= 0 {
		return fmt.Errorf("pipeline.max_artifact_len must be > 0")
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}

	switch c.Hotkey.Mode {
	case "hold", "toggle":
	default:
		return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
	}

	if c.Audio.SampleRate == 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	if c.Audio.Channels == 0 {
		return fmt.Errorf("audio.channels must be > 0")
	}

	if c.Audio.MaxErrors <= 0 {
		return fmt.Errorf("audio.max_conversion_errors must be > 0")
	}

	switch c.Inject.Method {
	case "type", "paste":
	default:
		return fmt.Errorf("inject.method must be \"type\" or \"paste\", got %q", c.Inject.Method)
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path must not be empty when history is enabled")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel converts a config log level to a slog.Level.
// Unknown values fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
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

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the written path, or "" when a config file
// was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	header := "# voxpipe configuration\n# Edit and save; the running service reloads this file automatically.\n\n"
	if err := os.WriteFile(path, append([]byte(header), body...), 0644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
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
