package recurrent

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		flags   Flags
		want    Kind
		wantErr bool
	}{
		{
			name:  "NoRecurrence",
			flags: Flags{},
			want:  Disabled,
		},
		{
			name:  "VariantWithoutRecurrence",
			flags: Flags{Stacked: true},
			want:  Disabled,
		},
		{
			name:  "Stacked",
			flags: Flags{Recurrent: true, Stacked: true},
			want:  Stacked,
		},
		{
			name:  "NaiveModularLSTM",
			flags: Flags{Naive: true, ModularLSTM: true},
			want:  ModularLSTM,
		},
		{
			name:  "ModularGRU",
			flags: Flags{Recurrent: true, ModularGRU: true},
			want:  ModularGRU,
		},
		{
			name:    "NoVariant",
			flags:   Flags{Recurrent: true},
			wantErr: true,
		},
		{
			name:    "ConflictingVariants",
			flags:   Flags{Recurrent: true, ModularLSTM: true, Stacked: true},
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := KindFromFlags(test.flags)
			if test.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRecurrence))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Stacked", Stacked.String())
	assert.Equal(t, "ModularGRU", ModularGRU.String())
	assert.True(t, ModularLSTM.IsModular())
	assert.False(t, Stacked.IsModular())
}
