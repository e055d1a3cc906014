// MODUL: registry
// ZWECK: Registry der Graph-Architekturen
// INPUT: fs.Config mit den Metadaten eines Artefakts
// OUTPUT: Definition fuer die Architektur aus general.architecture
// NEBENEFFEKTE: RegisterArchitecture veraendert die globale Registry
// ABHAENGIGKEITEN: fs (Config)
// HINWEISE: Eingebaut sind "sequential" (Definition in nnhost.graph) und
//           "mnist_mlp" (Referenz-Modell 784 -> 100 -> 10).

package nn

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nnhost/nnhost/fs"
	"github.com/nnhost/nnhost/ml"
)

// ============================================================================
// Fehler-Definitionen
// ============================================================================

var (
	ErrUnsupportedArchitecture = errors.New("architecture not supported")
	ErrMissingGraph            = errors.New("artifact has no graph definition")
)

// GraphKey ist der Metadaten-Key fuer eine JSON-Definition.
const GraphKey = "nnhost.graph"

// DefaultArchitecture gilt, wenn general.architecture fehlt.
const DefaultArchitecture = "sequential"

// ============================================================================
// Architecture Registry
// ============================================================================

// Architecture baut eine Definition aus den Metadaten eines Artefakts.
type Architecture func(fs.Config) (Definition, error)

var (
	architecturesMu sync.RWMutex
	architectures   = make(map[string]Architecture)
)

// RegisterArchitecture registriert einen Builder fuer name.
func RegisterArchitecture(name string, f Architecture) {
	architecturesMu.Lock()
	defer architecturesMu.Unlock()

	if _, ok := architectures[name]; ok {
		panic("nn: architecture already registered: " + name)
	}

	architectures[name] = f
}

// Architectures gibt die registrierten Namen sortiert zurueck.
func Architectures() []string {
	architecturesMu.RLock()
	defer architecturesMu.RUnlock()

	names := make([]string, 0, len(architectures))
	for name := range architectures {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ForConfig baut die Definition fuer die Architektur aus c.
func ForConfig(c fs.Config) (Definition, error) {
	arch := cmp.Or(c.Architecture(), DefaultArchitecture)

	architecturesMu.RLock()
	f, ok := architectures[arch]
	architecturesMu.RUnlock()

	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnsupportedArchitecture, arch)
	}

	return f(c)
}

func init() {
	RegisterArchitecture(DefaultArchitecture, sequential)
	RegisterArchitecture("mnist_mlp", func(c fs.Config) (Definition, error) {
		return MNIST(MNISTOptions{
			BatchSize:  int(c.Uint("batch_size", 1)),
			InputSize:  int(c.Uint("input_size", 784)),
			HiddenSize: int(c.Uint("hidden_size", 100)),
			OutputSize: int(c.Uint("output_size", 10)),
			BlockCount: int(c.Uint("block_count", 3)),
		}), nil
	})
}

func sequential(c fs.Config) (Definition, error) {
	s := c.String(GraphKey)
	if s == "" {
		return Definition{}, ErrMissingGraph
	}
	return ParseDefinition([]byte(s))
}

// ============================================================================
// mnist_mlp
// ============================================================================

// MNISTOptions beschreibt die Groessen des Referenz-Modells.
type MNISTOptions struct {
	BatchSize  int
	InputSize  int
	HiddenSize int
	OutputSize int
	BlockCount int
}

// MNIST baut das Referenz-Modell: fc1 (ohne Bias), fc2 (ohne Bias, mit
// innerer ones-initialisierter Schicht l1) und BlockCount Bloecke
// "layers.N" derselben Struktur mit Bias.
func MNIST(o MNISTOptions) Definition {
	d := Definition{
		Inputs: []ml.TensorSpec{{Name: "input", Type: ml.DTypeF32, Shape: []int{o.BatchSize, o.InputSize}}},
		Outputs: []OutputSpec{{
			TensorSpec: ml.TensorSpec{Name: "output", Type: ml.DTypeF32, Shape: []int{o.BatchSize, o.OutputSize}},
		}},
	}

	d.Layers = append(d.Layers, LayerSpec{Op: "linear", Out: "fc1", Weight: "fc1.weight", Units: o.HiddenSize})
	d.Layers = append(d.Layers, custom("fc2", o.OutputSize, false)...)
	for i := range o.BlockCount {
		d.Layers = append(d.Layers, custom(fmt.Sprintf("layers.%d", i), o.OutputSize, true)...)
	}

	return d
}

// custom ist eine linear-Schicht gefolgt von einer inneren Schicht l1
// gleicher Breite mit Bias und ones-Initialisierung.
func custom(prefix string, units int, bias bool) []LayerSpec {
	outer := LayerSpec{Op: "linear", Out: prefix, Weight: prefix + ".weight", Units: units}
	if bias {
		outer.Bias = prefix + ".bias"
	}

	return []LayerSpec{outer, {
		Op:     "linear",
		Out:    prefix + ".l1",
		Weight: prefix + ".l1.weight",
		Bias:   prefix + ".l1.bias",
		Units:  units,
		Init:   "ones",
	}}
}
