package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validTestConfig() *Config {
	return &Config{
		mode:           modeWord,
		port:           8080,
		roundDuration:  60 * time.Second,
		maxGuessLength: 30,
		maxTopics:      50,
		topicWorkers:   2,
		comboThreshold: 3,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"trivia mode", func(c *Config) { c.mode = modeTrivia }, false},
		{"unknown mode", func(c *Config) { c.mode = "karaoke" }, true},
		{"port too low", func(c *Config) { c.port = 0 }, true},
		{"port too high", func(c *Config) { c.port = 70000 }, true},
		{"cert without key", func(c *Config) { c.tlsCert = "cert.pem" }, true},
		{"key without cert", func(c *Config) { c.tlsKey = "key.pem" }, true},
		{"cert and key", func(c *Config) { c.tlsCert, c.tlsKey = "cert.pem", "key.pem" }, false},
		{"round too short", func(c *Config) { c.roundDuration = time.Second }, true},
		{"zero guess length", func(c *Config) { c.maxGuessLength = 0 }, true},
		{"zero workers", func(c *Config) { c.topicWorkers = 0 }, true},
		{"zero max topics", func(c *Config) { c.maxTopics = 0 }, true},
		{"zero combo threshold", func(c *Config) { c.comboThreshold = 0 }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(cfg)

			err := cfg.validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigScheme(t *testing.T) {
	cfg := validTestConfig()
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	assert.Equal(t, "https", cfg.scheme())
}
