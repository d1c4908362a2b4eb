package main

import (
	"context"
	"testing"
	"time"

	"github.com/chaz8081/voxpipe/internal/config"
)

type fakeLoader struct {
	preloads, reloads int
}

func (f *fakeLoader) Preload(context.Context) error       { f.preloads++; return nil }
func (f *fakeLoader) ReloadCleanup(context.Context) error { f.reloads++; return nil }

func TestModelReload(t *testing.T) {
	tests := []struct {
		name              string
		edit              func(*config.Config)
		preloads, reloads int
	}{
		{"nothing", func(*config.Config) {}, 0, 0},
		{"style only", func(c *config.Config) { c.Cleanup.Formality = "formal" }, 0, 0},
		{"speech model", func(c *config.Config) { c.Transcribe.Model = "small.en" }, 1, 0},
		{"cleanup model", func(c *config.Config) { c.Cleanup.Model = "llama3.2:3b" }, 1, 0},
		{"provider", func(c *config.Config) { c.Cleanup.Provider = "openai" }, 0, 1},
		{"base url", func(c *config.Config) { c.Cleanup.BaseURL = "http://10.0.0.2:11434" }, 0, 1},
		{"api key env", func(c *config.Config) { c.Cleanup.APIKeyEnv = "LLM_KEY" }, 0, 1},
		{"timeout", func(c *config.Config) { c.Cleanup.Timeout = 20 * time.Second }, 0, 1},
		{"cleanup disabled", func(c *config.Config) { c.Cleanup.Enabled = false }, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev, next := config.Default(), config.Default()
			tt.edit(next)

			var f fakeLoader
			if load := modelReload(prev, next, &f); load != nil {
				if err := load(context.Background()); err != nil {
					t.Fatal(err)
				}
			}
			if f.preloads != tt.preloads || f.reloads != tt.reloads {
				t.Errorf("preloads = %d, reloads = %d; want %d, %d", f.preloads, f.reloads, tt.preloads, tt.reloads)
			}
		})
	}
}
