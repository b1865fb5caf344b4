package rmappo

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/environment"
	"github.com/samuelfneumann/rmappo/initwfn"
	"github.com/samuelfneumann/rmappo/network"
	"github.com/samuelfneumann/rmappo/recurrent"
	"github.com/samuelfneumann/rmappo/utils/nancheck"
	"github.com/samuelfneumann/rmappo/utils/tensorutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"k8s.io/klog/v2"
)

// ErrShape is returned for inputs whose shape does not match the
// networks
var ErrShape = errors.New("invalid input shape")

// trunk is the part shared by actors and critics: an observation input
// feeding an encoder and a recurrent unit in a single graph run by a
// tape machine
type trunk struct {
	name string

	mu  sync.Mutex
	g   *G.ExprGraph
	vm  G.VM
	obs *G.Node

	obsShape []int
	batch    int
	steps    int

	encoder network.Encoder
	rnn     recurrent.Unit
	nan     *nancheck.Checker
}

// newTrunk adds the trunk for observations obs to a new graph and
// returns it together with its output embedding
func newTrunk(name string, c Config, kind recurrent.Kind,
	obs environment.Spec, batch, steps int, init initwfn.Factory,
	seed uint64) (*trunk, *G.Node, error) {
	if batch <= 0 || steps <= 0 {
		return nil, nil, errors.Errorf("invalid batch %d and steps %d", batch,
			steps)
	}
	if obs.Type != environment.Observation {
		return nil, nil, errors.Errorf("expected an observation specification "+
			"but got %v", obs.Type)
	}

	layout := obs.Layout()
	obsShape := append([]int{batch * steps}, layout...)

	g := G.NewGraph()
	obsNode := G.NewTensor(
		g,
		tensor.Float64,
		len(obsShape),
		G.WithShape(obsShape...),
		G.WithName(name+"Obs"),
		G.WithInit(G.Zeroes()),
	)

	// Image encoders are always initialized orthogonally
	encoderInit := init
	if len(layout) == 3 && c.Init == nil {
		encoderInit = initwfn.OrthogonalFactory(c.Seed + 1<<16)
	}
	encoder, err := network.NewEncoder(g, layout, network.EncoderConfig{
		Name:                    name,
		HiddenSize:              c.HiddenSize,
		LayerN:                  c.LayerN,
		UseFeatureNormalization: c.UseFeatureNormalization,
		UseReLU:                 c.UseReLU,
	}, encoderInit)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not create encoder")
	}
	embedding, err := encoder.Fwd(obsNode)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not encode observations")
	}

	rc := recurrentConfig(c)
	rc.Name = name
	rc.Init = init
	rc.Seed = seed + moduleSeedOffset
	rnn, err := recurrent.New(g, kind, rc, batch, steps, encoder.OutputSize())
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not create recurrent unit")
	}
	features, err := rnn.Fwd(embedding)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not add recurrent unit")
	}

	t := &trunk{
		name:     name,
		g:        g,
		obs:      obsNode,
		obsShape: obsShape,
		batch:    batch,
		steps:    steps,
		encoder:  encoder,
		rnn:      rnn,
	}
	return t, features, nil
}

// compile creates the tape machine once every node has been added
func (t *trunk) compile(learnables G.Nodes, envName string) {
	t.vm = G.NewTapeMachine(t.g)

	klog.V(1).Infof("%s for %s: %v recurrence, %d x %d rows, %s parameters",
		t.name, envName, t.rnn.Kind(), t.steps, t.batch,
		humanize.Comma(int64(network.NumParams(learnables))))
}

// bind validates the inputs of a call and binds them to the graph
func (t *trunk) bind(obs tensor.Tensor, state recurrent.State,
	masks []float64) error {
	if obs == nil {
		return errors.Wrap(ErrShape, "nil observations")
	}
	if !obs.Shape().Eq(tensor.Shape(t.obsShape)) {
		return errors.Wrapf(ErrShape, "expected observations of shape %v "+
			"but got %v", t.obsShape, obs.Shape())
	}

	data, err := tensorutils.Float64(obs)
	if err != nil {
		return errors.Wrap(err, "could not convert observations")
	}
	t.nan.Check(fmt.Sprintf("%s/observation", t.name), data)

	if err := network.SetInput(t.obs, data); err != nil {
		return errors.Wrap(err, "could not set observations")
	}
	return t.rnn.SetState(state, masks)
}

// run runs the graph and calls read before resetting the machine
func (t *trunk) run(read func() error) error {
	defer t.vm.Reset()
	if err := t.vm.RunAll(); err != nil {
		return errors.Wrap(err, "could not run graph")
	}

	return read()
}

func (t *trunk) learnables() G.Nodes {
	return append(t.encoder.Learnables(), t.rnn.Learnables()...)
}

func (t *trunk) close() error {
	if t.vm == nil {
		return nil
	}
	return t.vm.Close()
}

// moduleSeedOffset separates the seeds of modular cell weights from
// those of layer initializers
const moduleSeedOffset = 1 << 17

// recurrentConfig returns the configuration of recurrent units
// described by c
func recurrentConfig(c Config) recurrent.Config {
	return recurrent.Config{
		HiddenSize:       c.HiddenSize,
		Layers:           c.RecurrentN,
		Units:            c.NumUnits,
		TopK:             c.TopK,
		MaskModularState: c.MaskModularState,
	}
}
