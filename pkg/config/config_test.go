package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := FromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 10000, cfg.DefaultIterations)
	assert.Equal(t, 3, cfg.IterationMaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.ResultCacheTTL)
	assert.Equal(t, 720*time.Hour, cfg.RunRetention)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.CorsOrigins)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestFromViper_EnvOverrides(t *testing.T) {
	t.Setenv("DEFAULT_ITERATIONS", "500")
	t.Setenv("ENV", "production")

	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.DefaultIterations)
	assert.True(t, cfg.IsProduction())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero iterations", mutate: func(c *Config) { c.DefaultIterations = 0 }, wantErr: true},
		{name: "max below default", mutate: func(c *Config) { c.MaxIterations = 10 }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.IterationMaxRetries = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{DefaultIterations: 100, MaxIterations: 1000, IterationMaxRetries: 1}
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
