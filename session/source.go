// source.go - Eingabe-Quellen fuer Sitzungen
// Dieses Modul enthaelt RandomSource, FixedSource und FileSource.
package session

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/nnhost/nnhost/ml"
)

// InputSource liefert den Tensor fuer einen Eingabe-Slot. spec ist die
// Deklaration des Slots laut Graph-Signatur.
type InputSource interface {
	Tensor(slot int, spec ml.TensorSpec) (ml.Tensor, error)
}

// RandomSource erzeugt gleichverteilte Werte in [0, 1) fuer Float-Typen und
// in [0, 256) fuer Ganzzahl-Typen. Gleiche Seeds liefern gleiche Tensoren.
type RandomSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandomSource erstellt eine RandomSource mit seed.
func NewRandomSource(seed uint64) *RandomSource {
	return &RandomSource{r: rand.New(rand.NewPCG(seed, seed))}
}

func (s *RandomSource) Tensor(_ int, spec ml.TensorSpec) (ml.Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([]float32, spec.Len())
	switch spec.Type {
	case ml.DTypeF16, ml.DTypeF32, ml.DTypeF64, ml.DTypeBF16:
		for i := range values {
			values[i] = s.r.Float32()
		}
	default:
		for i := range values {
			values[i] = float32(s.r.IntN(256))
		}
	}

	return ml.NewTensor(spec.Type, spec.Shape, ml.EncodeFloats(spec.Type, values))
}

// FixedSource liefert vorgegebene Tensoren, einen pro Slot.
type FixedSource []ml.Tensor

func (s FixedSource) Tensor(slot int, _ ml.TensorSpec) (ml.Tensor, error) {
	if slot < 0 || slot >= len(s) {
		return ml.Tensor{}, fmt.Errorf("no tensor for input slot %d", slot)
	}
	return s[slot], nil
}

// FileSource liest Rohdaten (little-endian, Zeilen-Reihenfolge) aus einer
// Datei pro Slot. Typ und Form kommen aus der Slot-Deklaration.
type FileSource []string

func (s FileSource) Tensor(slot int, spec ml.TensorSpec) (ml.Tensor, error) {
	if slot < 0 || slot >= len(s) {
		return ml.Tensor{}, fmt.Errorf("no input file for slot %d (%s)", slot, spec.Name)
	}

	bts, err := os.ReadFile(s[slot])
	if err != nil {
		return ml.Tensor{}, err
	}

	if len(bts) != spec.Size() {
		return ml.Tensor{}, fmt.Errorf("%w: %s has %d bytes, slot %q needs %d", ml.ErrShapeMismatch, s[slot], len(bts), spec.Name, spec.Size())
	}

	return ml.NewTensor(spec.Type, spec.Shape, bts)
}
