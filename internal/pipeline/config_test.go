package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"skysweep/internal/frame"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero reference resolution", func(c *Config) { c.ReferenceResolution = frame.Resolution{} }, true},
		{"negative buffer capacity", func(c *Config) { c.BufferCapacity = -1 }, true},
		{"no detectors enabled", func(c *Config) {
			c.EnableMotion = false
			c.EnableColor = false
			c.EnableAnomaly = false
		}, true},
		{"negative latency budget", func(c *Config) { c.LatencyBudget = -time.Second }, true},
		{"negative max detections", func(c *Config) { c.MaxDetections = -1 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	p, err := New(Config{EnableMotion: true}, nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, DefaultConfig().ReferenceResolution, p.cfg.ReferenceResolution)
	assert.Equal(t, DefaultConfig().FusionMode, p.cfg.FusionMode)
	assert.Equal(t, DefaultConfig().LatencyBudget, p.cfg.LatencyBudget)
	assert.NotNil(t, p.motion)
	assert.Nil(t, p.color)
	assert.Nil(t, p.anomaly)
}

func TestNewRejectsEmptyConfig(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.Error(t, err)
}
