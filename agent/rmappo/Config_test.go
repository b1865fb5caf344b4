package rmappo

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/initwfn"
	"github.com/samuelfneumann/rmappo/recurrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	c, err := LoadConfig(strings.NewReader(`{
		"hidden_size": 32,
		"use_recurrent_policy": true,
		"use_rims_policy_GRU": true,
		"num_units": 4,
		"top_k": 2,
		"env_name": "SISL-multiwalker",
		"lr": 0.0007
	}`))
	require.NoError(t, err)

	assert.Equal(t, 32, c.HiddenSize)
	assert.Equal(t, 2, c.TopK)
	assert.Equal(t, "SISL-multiwalker", c.EnvName)

	// Unset fields keep their defaults
	assert.True(t, c.UseOrthogonal)
	assert.Equal(t, 0.01, c.Gain)

	kind, err := c.RecurrentKind()
	require.NoError(t, err)
	assert.Equal(t, recurrent.ModularGRU, kind)
}

func TestLoadConfigWithInit(t *testing.T) {
	c, err := LoadConfig(strings.NewReader(`{
		"init": {"Type": "GlorotU", "Config": {"Gain": 2}}
	}`))
	require.NoError(t, err)
	require.NotNil(t, c.Init)
	assert.Equal(t, initwfn.GlorotUConfig{Gain: 2}, c.Init.Config)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		target error
	}{
		{
			name: "ConflictingRecurrence",
			modify: func(c *Config) {
				c.UseRecurrentPolicy = true
				c.UseLSTMPolicy = true
				c.UseRIMsPolicyLSTM = true
			},
			target: recurrent.ErrInvalidRecurrence,
		},
		{
			name:   "RecurrenceWithoutVariant",
			modify: func(c *Config) { c.UseNaiveRecurrentPolicy = true },
			target: recurrent.ErrInvalidRecurrence,
		},
		{
			name: "UnitsDivisibility",
			modify: func(c *Config) {
				c.HiddenSize = 63
				c.UseRecurrentPolicy = true
				c.UseRIMsPolicyLSTM = true
			},
			target: recurrent.ErrUnitsDivisibility,
		},
		{
			name:   "Device",
			modify: func(c *Config) { c.Device = "cuda:0" },
			target: ErrDevice,
		},
		{
			name:   "HiddenSize",
			modify: func(c *Config) { c.HiddenSize = 0 },
		},
		{
			name:   "Gain",
			modify: func(c *Config) { c.Gain = 0 },
		},
		{
			name: "TopK",
			modify: func(c *Config) {
				c.UseRecurrentPolicy = true
				c.UseRIMsPolicyGRU = true
				c.TopK = 5
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := DefaultConfig()
			test.modify(&c)

			err := c.Validate()
			require.Error(t, err)
			if test.target != nil {
				assert.True(t, errors.Is(err, test.target), "%v", err)
			}
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	assert.NoError(t, c.Validate())

	// Variants are ignored while recurrence is disabled
	c.UseLSTMPolicy = true
	kind, err := c.validate()
	require.NoError(t, err)
	assert.Equal(t, recurrent.Disabled, kind)

	c.Device = "CPU"
	assert.NoError(t, c.Validate())
}
