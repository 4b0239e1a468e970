// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elara-sec/verdict/api/schemas"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 8, cfg.Engine.WorkerConcurrency)
	assert.Equal(t, 1000, cfg.Engine.QueueSize)
	assert.Equal(t, 60*time.Second, cfg.Engine.ScanTimeout)
	assert.Equal(t, 3, cfg.Engine.MaxJobAttempts)
	assert.Equal(t, 0.75, cfg.Pipeline.Stage2Threshold)
	assert.Equal(t, 0.3, cfg.Pipeline.Stage1Weight)
	assert.Equal(t, 0.7, cfg.Pipeline.Stage2Weight)
	assert.Equal(t, 3, cfg.Pipeline.ConsensusModels)
	assert.Equal(t, 0.10, cfg.Calibration.Alpha)
	assert.Equal(t, 1000, cfg.Intel.ChunkSize)
	assert.Equal(t, 168*time.Hour, cfg.Intel.GracePeriod)
	assert.Equal(t, ProviderGemini, cfg.LLM.Fast.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Fast.Model)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Powerful.Model)
	assert.True(t, cfg.Explainer.Enabled)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate(), "default config must validate")

		cfgInvalidEngine := *cfg
		cfgInvalidEngine.Engine.WorkerConcurrency = 0
		err := cfgInvalidEngine.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "engine.worker_concurrency must be a positive integer")

		cfgInvalidAttempts := *cfg
		cfgInvalidAttempts.Engine.MaxJobAttempts = 0
		assert.Error(t, cfgInvalidAttempts.Validate())
	})

	t.Run("Pipeline Validation", func(t *testing.T) {
		p := PipelineConfig{Stage2Threshold: 0.75, Stage1Weight: 0.3, Stage2Weight: 0.7, ConsensusModels: 3}
		assert.NoError(t, p.Validate())

		p.Stage2Threshold = 1.2
		assert.Error(t, p.Validate())

		p = PipelineConfig{Stage2Threshold: 0.5, Stage1Weight: 0.5, Stage2Weight: 0.6, ConsensusModels: 3}
		err := p.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stage weights must sum to 1.0")

		p = PipelineConfig{Stage2Threshold: 0.5, Stage1Weight: -0.1, Stage2Weight: 1.1, ConsensusModels: 3}
		assert.Error(t, p.Validate())

		p = PipelineConfig{Stage2Threshold: 0.5, Stage1Weight: 0.3, Stage2Weight: 0.7, ConsensusModels: 0}
		assert.Error(t, p.Validate())
	})

	t.Run("Calibration Validation", func(t *testing.T) {
		c := CalibrationConfig{Alpha: 0.10}
		assert.NoError(t, c.Validate())

		for _, alpha := range []float64{0, 1, -0.2, 1.5} {
			c.Alpha = alpha
			assert.Error(t, c.Validate(), "alpha %f must be rejected", alpha)
		}
	})

	t.Run("Intel Validation", func(t *testing.T) {
		i := IntelConfig{ChunkSize: 1000}
		assert.NoError(t, i.Validate())

		i.ChunkSize = 0
		assert.Error(t, i.Validate())

		i = IntelConfig{
			ChunkSize: 500,
			Sources: []schemas.SourceConfig{
				{Name: "feedx", URL: "https://feeds.example/x", SyncFrequencyMinutes: 60, Enabled: true},
			},
		}
		assert.NoError(t, i.Validate())

		i.Sources[0].Name = ""
		assert.Error(t, i.Validate())

		i.Sources[0].Name = "feedx"
		i.Sources[0].URL = ""
		assert.Error(t, i.Validate(), "enabled source without url must be rejected")

		i.Sources[0].URL = "https://feeds.example/x"
		i.Sources[0].SyncFrequencyMinutes = 0
		assert.Error(t, i.Validate())

		// Disabled sources only need a name.
		i.Sources[0].Enabled = false
		i.Sources[0].URL = ""
		assert.NoError(t, i.Validate())
	})
}

func TestNewConfigFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("pipeline.stage2_threshold", 0.5)
	v.Set("engine.worker_concurrency", 4)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Pipeline.Stage2Threshold)
	assert.Equal(t, 4, cfg.Engine.WorkerConcurrency)
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("pipeline.stage1_weight", 0.9)

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestAPIKeyEnvBinding(t *testing.T) {
	t.Setenv("VERDICT_LLM_API_KEY", "test-key-123")

	v := viper.New()
	SetDefaults(v)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "test-key-123", cfg.LLM.Fast.APIKey)
	assert.Equal(t, "test-key-123", cfg.LLM.Powerful.APIKey)
}
