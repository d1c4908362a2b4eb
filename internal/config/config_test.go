package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Transcribe.Model != "base.en" {
		t.Errorf("Transcribe.Model = %q, want %q", cfg.Transcribe.Model, "base.en")
	}
	if cfg.Hotkey.Mode != "hold" {
		t.Errorf("Hotkey.Mode = %q, want %q", cfg.Hotkey.Mode, "hold")
	}
	if len(cfg.Hotkey.Keys) != 3 {
		t.Errorf("Hotkey.Keys length = %d, want 3", len(cfg.Hotkey.Keys))
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Audio.SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Errorf("Audio.Channels = %d, want 1", cfg.Audio.Channels)
	}
	if cfg.Audio.MaxErrors != 10 {
		t.Errorf("Audio.MaxErrors = %d, want 10", cfg.Audio.MaxErrors)
	}
	if cfg.Pipeline.FastPathWords != 20 {
		t.Errorf("Pipeline.FastPathWords = %d, want 20", cfg.Pipeline.FastPathWords)
	}
	if cfg.Pipeline.MinOverlapRatio != 0.5 {
		t.Errorf("Pipeline.MinOverlapRatio = %v, want 0.5", cfg.Pipeline.MinOverlapRatio)
	}
	if cfg.Pipeline.MaxLengthRatio != 1.3 {
		t.Errorf("Pipeline.MaxLengthRatio = %v, want 1.3", cfg.Pipeline.MaxLengthRatio)
	}
	if cfg.Pipeline.KeepAlive != 15*time.Minute {
		t.Errorf("Pipeline.KeepAlive = %v, want 15m", cfg.Pipeline.KeepAlive)
	}
	if cfg.Inject.Method != "paste" {
		t.Errorf("Inject.Method = %q, want %q", cfg.Inject.Method, "paste")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
transcribe:
  model: small.en
  language: auto
  streaming: true
  stream_interval: 500ms
cleanup:
  provider: openai
  base_url: http://127.0.0.1:8080/v1
  model: llama-3.2-3b
  formality: formal
  aggressiveness: heavy
pipeline:
  fast_path_words: 12
  min_overlap_ratio: 0.6
  keep_alive: 5m
hotkey:
  keys: ["alt", "d"]
  mode: toggle
audio:
  device: USB
  max_conversion_errors: 4
inject:
  method: type
apps:
  Obsidian: document
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transcribe.Model != "small.en" {
		t.Errorf("Transcribe.Model = %q, want %q", cfg.Transcribe.Model, "small.en")
	}
	if cfg.Transcribe.Language != "auto" {
		t.Errorf("Transcribe.Language = %q, want auto", cfg.Transcribe.Language)
	}
	if !cfg.Transcribe.Streaming || cfg.Transcribe.StreamInterval != 500*time.Millisecond {
		t.Errorf("streaming = %v/%v, want true/500ms", cfg.Transcribe.Streaming, cfg.Transcribe.StreamInterval)
	}
	if cfg.Cleanup.Provider != "openai" || cfg.Cleanup.Model != "llama-3.2-3b" {
		t.Errorf("Cleanup = %+v", cfg.Cleanup)
	}
	if cfg.Pipeline.FastPathWords != 12 {
		t.Errorf("Pipeline.FastPathWords = %d, want 12", cfg.Pipeline.FastPathWords)
	}
	// Unset fields keep their defaults.
	if cfg.Pipeline.MaxLengthRatio != 1.3 {
		t.Errorf("Pipeline.MaxLengthRatio = %v, want default 1.3", cfg.Pipeline.MaxLengthRatio)
	}
	if cfg.Pipeline.KeepAlive != 5*time.Minute {
		t.Errorf("Pipeline.KeepAlive = %v, want 5m", cfg.Pipeline.KeepAlive)
	}
	if len(cfg.Hotkey.Keys) != 2 || cfg.Hotkey.Keys[0] != "alt" || cfg.Hotkey.Keys[1] != "d" {
		t.Errorf("Hotkey.Keys = %v, want [alt d]", cfg.Hotkey.Keys)
	}
	if cfg.Audio.Device != "USB" || cfg.Audio.MaxErrors != 4 {
		t.Errorf("Audio = %+v", cfg.Audio)
	}
	if cfg.Inject.Method != "type" {
		t.Errorf("Inject.Method = %q, want %q", cfg.Inject.Method, "type")
	}
	if cfg.Apps["Obsidian"] != "document" {
		t.Errorf("Apps[Obsidian] = %q, want document", cfg.Apps["Obsidian"])
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
transcribe:
  model: ~/models/test.bin
dictionary:
  path: ~/dict.yaml
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(home, "models/test.bin"); cfg.Transcribe.Model != want {
		t.Errorf("Transcribe.Model = %q, want %q", cfg.Transcribe.Model, want)
	}
	if want := filepath.Join(home, "dict.yaml"); cfg.Dictionary.Path != want {
		t.Errorf("Dictionary.Path = %q, want %q", cfg.Dictionary.Path, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("hotkey: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid hotkey mode",
			modify:  func(c *Config) { c.Hotkey.Mode = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid inject method",
			modify:  func(c *Config) { c.Inject.Method = "invalid" },
			wantErr: true,
		},
		{
			name:    "empty hotkey keys",
			modify:  func(c *Config) { c.Hotkey.Keys = nil },
			wantErr: true,
		},
		{
			name:    "zero sample rate",
			modify:  func(c *Config) { c.Audio.SampleRate = 0 },
			wantErr: true,
		},
		{
			name:    "zero channels",
			modify:  func(c *Config) { c.Audio.Channels = 0 },
			wantErr: true,
		},
		{
			name:    "zero error threshold",
			modify:  func(c *Config) { c.Audio.MaxErrors = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "empty transcribe model",
			modify:  func(c *Config) { c.Transcribe.Model = "" },
			wantErr: true,
		},
		{
			name:    "unknown cleanup provider",
			modify:  func(c *Config) { c.Cleanup.Provider = "skynet" },
			wantErr: true,
		},
		{
			name: "unknown provider ignored when cleanup disabled",
			modify: func(c *Config) {
				c.Cleanup.Enabled = false
				c.Cleanup.Provider = "skynet"
			},
			wantErr: false,
		},
		{
			name:    "overlap ratio above one",
			modify:  func(c *Config) { c.Pipeline.MinOverlapRatio = 1.5 },
			wantErr: true,
		},
		{
			name:    "length ratio below one",
			modify:  func(c *Config) { c.Pipeline.MaxLengthRatio = 0.9 },
			wantErr: true,
		},
		{
			name:    "invalid formality",
			modify:  func(c *Config) { c.Cleanup.Formality = "pirate" },
			wantErr: true,
		},
		{
			name: "streaming without interval",
			modify: func(c *Config) {
				c.Transcribe.Streaming = true
				c.Transcribe.StreamInterval = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "voxpipe", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# voxpipe") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Hotkey.Mode != "hold" {
		t.Errorf("written config Hotkey.Mode = %q, want %q", cfg.Hotkey.Mode, "hold")
	}
	if cfg.Pipeline.FastPathWords != 20 {
		t.Errorf("written config Pipeline.FastPathWords = %d, want 20", cfg.Pipeline.FastPathWords)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "voxpipe")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("transcribe:\n  model: tiny.en\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
