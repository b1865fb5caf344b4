package rmappo

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/initwfn"
	"github.com/samuelfneumann/rmappo/recurrent"
)

// ErrDevice is returned for devices the networks cannot run on
var ErrDevice = errors.New("unsupported device")

// CPU is the only device supported by the tape machine
const CPU = "cpu"

// Config configures actor and critic networks. JSON field names match
// the command line arguments of the training scripts.
type Config struct {
	// HiddenSize is the width of the MLP base and of recurrent units
	HiddenSize int `json:"hidden_size"`

	// LayerN is the number of hidden layers after the first in the
	// MLP base
	LayerN int `json:"layer_N"`

	// RecurrentN is the number of layers of a stacked recurrent unit
	RecurrentN int `json:"recurrent_N"`

	// NumUnits is the number of modules of a modular recurrent cell,
	// of which TopK read the input each step
	NumUnits int `json:"num_units"`
	TopK     int `json:"top_k"`

	// Recurrence is enabled by UseNaiveRecurrentPolicy or
	// UseRecurrentPolicy, and then exactly one of the variants must be
	// selected
	UseNaiveRecurrentPolicy bool `json:"use_naive_recurrent_policy"`
	UseRecurrentPolicy      bool `json:"use_recurrent_policy"`
	UseRIMsPolicyLSTM       bool `json:"use_rims_policy_LSTM"`
	UseRIMsPolicyGRU        bool `json:"use_rims_policy_GRU"`
	UseLSTMPolicy           bool `json:"use_lstm_policy"`

	// MaskModularState applies reset masks to modular cells
	MaskModularState bool `json:"mask_modular_state"`

	UseOrthogonal           bool `json:"use_orthogonal"`
	UseFeatureNormalization bool `json:"use_feature_normalization"`
	UseReLU                 bool `json:"use_ReLU"`

	UsePopArt             bool `json:"use_popart"`
	PopArtPreserveOutputs bool `json:"popart_preserve_outputs"`

	UsePolicyActiveMasks bool `json:"use_policy_active_masks"`

	// Gain scales the initial weights of action heads
	Gain float64 `json:"gain"`

	// EnvName selects the action head
	EnvName string `json:"env_name"`

	Device string `json:"device"`
	Seed   uint64 `json:"seed"`

	// Init overrides the initializer of all weights that would
	// otherwise be orthogonal or Glorot uniform
	Init *initwfn.InitWFn `json:"init,omitempty"`
}

// DefaultConfig returns the default configuration: an MLP base of 64
// units with feature normalization, no recurrence, orthogonal weights
// and active masks, acting in MPE simple spread
func DefaultConfig() Config {
	return Config{
		HiddenSize:              64,
		LayerN:                  1,
		RecurrentN:              1,
		NumUnits:                4,
		TopK:                    1,
		UseOrthogonal:           true,
		UseFeatureNormalization: true,
		UseReLU:                 true,
		UsePolicyActiveMasks:    true,
		Gain:                    0.01,
		EnvName:                 "MPE-simple.spread",
		Device:                  CPU,
	}
}

// LoadConfig decodes a JSON configuration from r over the defaults and
// validates it. Unknown fields are ignored so that full training
// configurations can be loaded.
func LoadConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Config{}, errors.Wrap(err, "loadConfig")
	}
	if err := c.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "loadConfig")
	}
	return c, nil
}

// Validate returns an error describing why the configuration is
// invalid, or nil if it is valid
func (c Config) Validate() error {
	_, err := c.validate()
	return err
}

// validate validates the configuration and returns the resolved kind
// of recurrent unit
func (c Config) validate() (recurrent.Kind, error) {
	const none = recurrent.Disabled

	if c.HiddenSize <= 0 {
		return none, errors.Errorf("validate: hidden_size must be positive "+
			"but got %d", c.HiddenSize)
	}
	if c.LayerN < 0 {
		return none, errors.Errorf("validate: layer_N must be non-negative "+
			"but got %d", c.LayerN)
	}
	if c.Gain <= 0 {
		return none, errors.Errorf("validate: gain must be positive but got "+
			"%v", c.Gain)
	}
	if dev := strings.ToLower(c.Device); dev != "" && dev != CPU {
		return none, errors.Wrapf(ErrDevice, "validate: %q", c.Device)
	}

	kind, err := c.RecurrentKind()
	if err != nil {
		return none, errors.Wrap(err, "validate")
	}

	switch kind {
	case recurrent.Stacked:
		if c.RecurrentN <= 0 {
			return none, errors.Errorf("validate: recurrent_N must be "+
				"positive but got %d", c.RecurrentN)
		}
	case recurrent.ModularLSTM, recurrent.ModularGRU:
		if c.NumUnits <= 0 || c.HiddenSize%c.NumUnits != 0 {
			return none, errors.Wrapf(recurrent.ErrUnitsDivisibility,
				"validate: hidden_size %d with num_units %d", c.HiddenSize,
				c.NumUnits)
		}
		if c.TopK < 0 || c.TopK > c.NumUnits {
			return none, errors.Errorf("validate: top_k must be in [1, %d] "+
				"but got %d", c.NumUnits, c.TopK)
		}
	}
	return kind, nil
}

// RecurrentKind resolves the recurrence flags to a recurrent unit kind
func (c Config) RecurrentKind() (recurrent.Kind, error) {
	return recurrent.KindFromFlags(recurrent.Flags{
		Naive:       c.UseNaiveRecurrentPolicy,
		Recurrent:   c.UseRecurrentPolicy,
		ModularLSTM: c.UseRIMsPolicyLSTM,
		ModularGRU:  c.UseRIMsPolicyGRU,
		Stacked:     c.UseLSTMPolicy,
	})
}

// initFactory returns the weight initializer factory described by the
// configuration, with seeds offset by offset
func (c Config) initFactory(offset uint64) initwfn.Factory {
	switch {
	case c.Init != nil:
		return initwfn.FixedFactory(c.Init)
	case c.UseOrthogonal:
		return initwfn.OrthogonalFactory(c.Seed + offset)
	default:
		return initwfn.GlorotUFactory()
	}
}
