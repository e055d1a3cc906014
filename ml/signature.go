// signature.go - Slot-Signatur eines geladenen Graphen
// Dieses Modul beschreibt die deklarierten Ein- und Ausgabe-Slots.
package ml

import (
	"fmt"
	"slices"

	"github.com/nnhost/nnhost/fs"
)

// TensorSpec beschreibt einen Ein- oder Ausgabe-Slot.
type TensorSpec struct {
	Name  string `json:"name"`
	Type  DType  `json:"type"`
	Shape []int  `json:"shape"`
}

// Len gibt die Elementanzahl des Slots zurueck.
func (s TensorSpec) Len() int {
	return mul(s.Shape...)
}

// Size gibt die Groesse des Slots in Bytes zurueck.
func (s TensorSpec) Size() int {
	return s.Len() * s.Type.Size()
}

// Matches prueft ob ein Tensor exakt zur Slot-Deklaration passt.
// Es gibt weder Reshape noch Typ-Konvertierung.
func (s TensorSpec) Matches(t Tensor) error {
	if t.Type != s.Type {
		return fmt.Errorf("%w: slot %q expects %v, got %v", ErrShapeMismatch, s.Name, s.Type, t.Type)
	}

	if !slices.Equal(t.Shape, s.Shape) {
		return fmt.Errorf("%w: slot %q expects shape %v, got %v", ErrShapeMismatch, s.Name, s.Shape, t.Shape)
	}

	return nil
}

func (s TensorSpec) String() string {
	return fmt.Sprintf("%s %v%v", s.Name, s.Type, s.Shape)
}

// Signature listet die Slots eines Graphen. Der Slot-Index ist die Position.
type Signature struct {
	Inputs  []TensorSpec `json:"inputs"`
	Outputs []TensorSpec `json:"outputs"`
}

// Validate prueft ob die Signatur in sich stimmig ist.
func (s Signature) Validate() error {
	if len(s.Inputs) == 0 {
		return fmt.Errorf("signature has no inputs")
	}

	if len(s.Outputs) == 0 {
		return fmt.Errorf("signature has no outputs")
	}

	for _, spec := range slices.Concat(s.Inputs, s.Outputs) {
		if spec.Type.Size() == 0 {
			return fmt.Errorf("slot %q: unknown element type", spec.Name)
		}

		if len(spec.Shape) == 0 {
			return fmt.Errorf("slot %q: empty shape", spec.Name)
		}

		for _, d := range spec.Shape {
			if d <= 0 {
				return fmt.Errorf("slot %q: invalid shape %v", spec.Name, spec.Shape)
			}
		}

		if _, err := fs.Elements(spec.Shape, spec.Type.Size()); err != nil {
			return fmt.Errorf("slot %q: %w", spec.Name, err)
		}
	}

	return nil
}
