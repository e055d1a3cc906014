// MODUL: definition
// ZWECK: Beschreibung eines Graph-Programms als JSON (Eingaben, Schichten, Ausgaben)
// INPUT: JSON aus Artefakt-Metadaten (nnhost.graph) oder Architektur-Buildern
// OUTPUT: Definition mit validierter Topologie und abgeleiteten Parameter-Formen
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: ml (TensorSpec), go-ordered-map (Parameter-Reihenfolge)
// HINWEISE: Werte werden ueber Namen verbunden. Eine Schicht ohne "in" liest die
//           Ausgabe der vorherigen Schicht, die erste Schicht die erste Eingabe.

package nn

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/nnhost/nnhost/fs"
	"github.com/nnhost/nnhost/ml"
)

// ============================================================================
// Definition
// ============================================================================

// LayerSpec beschreibt eine Schicht.
type LayerSpec struct {
	Op     string   `json:"op"`
	In     []string `json:"in,omitempty"`
	Out    string   `json:"out,omitempty"`
	Weight string   `json:"weight,omitempty"`
	Bias   string   `json:"bias,omitempty"`

	// Units ist die Ausgabe-Breite einer linear- oder embedding-Schicht.
	// 0 bedeutet, dass sie aus der Form des Gewichts abgeleitet wird.
	Units int `json:"units,omitempty"`

	// Vocab ist die Anzahl der Zeilen einer embedding-Tabelle.
	Vocab int `json:"vocab,omitempty"`

	// Eps ist das epsilon von rms_norm, 0 steht fuer 1e-5.
	Eps float32 `json:"eps,omitempty"`

	// Init waehlt die Initialisierung der Parameter: "normal" (Standard) oder "ones".
	Init string `json:"init,omitempty"`
}

// OutputSpec ist ein Ausgabe-Slot mit dem Namen des Wertes, den er liefert.
type OutputSpec struct {
	ml.TensorSpec
	Value string `json:"value,omitempty"`
}

// Definition ist ein Graph-Programm.
type Definition struct {
	Inputs  []ml.TensorSpec `json:"inputs"`
	Outputs []OutputSpec    `json:"outputs"`
	Layers  []LayerSpec     `json:"layers"`
}

// ParseDefinition dekodiert eine Definition aus JSON.
func ParseDefinition(bts []byte) (Definition, error) {
	var d Definition
	if err := json.Unmarshal(bts, &d); err != nil {
		return Definition{}, fmt.Errorf("parse graph definition: %w", err)
	}
	return d, nil
}

// Marshal kodiert die Definition als JSON.
func (d Definition) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// Signature gibt die Slot-Signatur der Definition zurueck.
func (d Definition) Signature() ml.Signature {
	s := ml.Signature{
		Inputs:  make([]ml.TensorSpec, len(d.Inputs)),
		Outputs: make([]ml.TensorSpec, len(d.Outputs)),
	}
	for i, in := range d.Inputs {
		s.Inputs[i] = ml.TensorSpec{Name: in.Name, Type: in.Type, Shape: slices.Clone(in.Shape)}
	}
	for i, out := range d.Outputs {
		s.Outputs[i] = ml.TensorSpec{Name: out.Name, Type: out.Type, Shape: slices.Clone(out.Shape)}
	}
	return s
}

// ============================================================================
// Aufloesung der Werte-Namen
// ============================================================================

// resolved ist eine Schicht mit aufgeloesten Ein- und Ausgabe-Namen.
type resolved struct {
	LayerSpec
	index int
}

// resolve setzt fehlende In/Out-Namen und prueft, dass jeder gelesene Wert
// vorher definiert wurde.
func (d Definition) resolve() ([]resolved, error) {
	if len(d.Inputs) == 0 {
		return nil, errors.New("graph definition has no inputs")
	}

	if len(d.Layers) == 0 {
		return nil, errors.New("graph definition has no layers")
	}

	defined := make(map[string]bool)
	for _, in := range d.Inputs {
		if in.Name == "" {
			return nil, errors.New("graph input without name")
		}
		if defined[in.Name] {
			return nil, fmt.Errorf("duplicate value %q", in.Name)
		}
		defined[in.Name] = true
	}

	prev := d.Inputs[0].Name
	layers := make([]resolved, len(d.Layers))
	for i, l := range d.Layers {
		l.In = slices.Clone(l.In)
		if len(l.In) == 0 {
			l.In = []string{prev}
		}

		for _, in := range l.In {
			if !defined[in] {
				return nil, fmt.Errorf("layer %d (%s): undefined value %q", i, l.Op, in)
			}
		}

		if l.Out == "" {
			l.Out = fmt.Sprintf("%s.%d", l.Op, i)
		}

		if defined[l.Out] {
			return nil, fmt.Errorf("layer %d (%s): duplicate value %q", i, l.Op, l.Out)
		}
		defined[l.Out] = true

		layers[i] = resolved{LayerSpec: l, index: i}
		prev = l.Out
	}

	return layers, nil
}

// outputValue gibt den Wert-Namen eines Ausgabe-Slots zurueck.
func (d Definition) outputValue(layers []resolved, i int) string {
	if v := d.Outputs[i].Value; v != "" {
		return v
	}
	return layers[len(layers)-1].Out
}

// ============================================================================
// Parameter-Formen
// ============================================================================

// ParamShapes leitet die Formen aller referenzierten Parameter ab. Jede
// linear-Schicht muss dafuer Units setzen, jede embedding-Schicht Units und
// Vocab. Die Reihenfolge folgt den Schichten.
func (d Definition) ParamShapes() (*orderedmap.OrderedMap[string, []int], error) {
	layers, err := d.resolve()
	if err != nil {
		return nil, err
	}

	shapes := make(map[string][]int)
	for _, in := range d.Inputs {
		shapes[in.Name] = in.Shape
	}

	params := orderedmap.New[string, []int]()
	declare := func(name string, shape []int) error {
		if _, err := fs.Elements(shape, 4); err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
		if prev, ok := params.Get(name); ok && !slices.Equal(prev, shape) {
			return fmt.Errorf("parameter %s used with shapes %v and %v", name, prev, shape)
		}
		params.Set(name, shape)
		return nil
	}

	for _, l := range layers {
		in := make([][]int, len(l.In))
		for i, name := range l.In {
			in[i] = shapes[name]
		}

		if weighted(l.Op) && l.Weight == "" {
			return nil, fmt.Errorf("layer %d (%s): weight not set", l.index, l.Op)
		}

		switch l.Op {
		case "linear":
			if l.Units <= 0 {
				return nil, fmt.Errorf("layer %d (linear): units not set", l.index)
			}
			if len(in[0]) == 0 {
				return nil, fmt.Errorf("layer %d (linear): scalar input", l.index)
			}
			if err := declare(l.Weight, []int{in[0][len(in[0])-1], l.Units}); err != nil {
				return nil, err
			}
			if l.Bias != "" {
				if err := declare(l.Bias, []int{l.Units}); err != nil {
					return nil, err
				}
			}
		case "embedding":
			if l.Units <= 0 || l.Vocab <= 0 {
				return nil, fmt.Errorf("layer %d (embedding): units and vocab not set", l.index)
			}
			if err := declare(l.Weight, []int{l.Vocab, l.Units}); err != nil {
				return nil, err
			}
		case "rms_norm":
			if len(in[0]) == 0 {
				return nil, fmt.Errorf("layer %d (rms_norm): scalar input", l.index)
			}
			if err := declare(l.Weight, []int{in[0][len(in[0])-1]}); err != nil {
				return nil, err
			}
		}

		out, err := inferShape(l, in, l.Units)
		if err != nil {
			return nil, err
		}
		shapes[l.Out] = out
	}

	return params, nil
}
