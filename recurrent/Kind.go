// Package recurrent implements the recurrent memory units that carry
// state between the steps of an actor or critic: a stack of GRU layers
// and a modular cell of independent, attention-gated LSTM or GRU
// modules that only update when they attend to the input.
package recurrent

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrInvalidRecurrence is returned when recurrence is requested
	// without exactly one recurrent variant
	ErrInvalidRecurrence = errors.New("invalid recurrence configuration")

	// ErrUnitsDivisibility is returned when the hidden size cannot be
	// split evenly between the modules of a modular cell
	ErrUnitsDivisibility = errors.New("hidden size not divisible by units")

	// ErrState is returned when a State does not match a unit
	ErrState = errors.New("invalid recurrent state")
)

// Kind is the kind of recurrent unit
type Kind int

const (
	// Disabled passes the embedding through and returns any given
	// state unchanged
	Disabled Kind = iota

	// Stacked is a stack of GRU layers followed by layer normalization
	Stacked

	// ModularLSTM is a modular cell whose modules are LSTM cells
	ModularLSTM

	// ModularGRU is a modular cell whose modules are GRU cells
	ModularGRU
)

func (k Kind) String() string {
	switch k {
	case Disabled:
		return "Disabled"
	case Stacked:
		return "Stacked"
	case ModularLSTM:
		return "ModularLSTM"
	case ModularGRU:
		return "ModularGRU"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsModular returns whether k is a modular cell
func (k Kind) IsModular() bool {
	return k == ModularLSTM || k == ModularGRU
}

// Flags are the boolean switches that select a recurrent unit
type Flags struct {
	Naive     bool
	Recurrent bool

	ModularLSTM bool
	ModularGRU  bool
	Stacked     bool
}

// KindFromFlags resolves the flags to a single Kind. Recurrence is
// enabled by Naive or Recurrent, in which case exactly one variant
// must be selected. Variants selected while recurrence is disabled are
// ignored.
func KindFromFlags(f Flags) (Kind, error) {
	var selected []Kind
	if f.ModularLSTM {
		selected = append(selected, ModularLSTM)
	}
	if f.ModularGRU {
		selected = append(selected, ModularGRU)
	}
	if f.Stacked {
		selected = append(selected, Stacked)
	}

	if !f.Naive && !f.Recurrent {
		if len(selected) > 0 {
			klog.Warningf("recurrent variants %v selected but recurrence "+
				"is disabled; ignoring", selected)
		}
		return Disabled, nil
	}

	switch len(selected) {
	case 0:
		return Disabled, errors.Wrap(ErrInvalidRecurrence,
			"recurrence enabled but no recurrent variant selected")
	case 1:
		return selected[0], nil
	default:
		return Disabled, errors.Wrapf(ErrInvalidRecurrence,
			"conflicting recurrent variants %v", selected)
	}
}
