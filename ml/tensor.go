// tensor.go - Tensor-Puffer fuer Ein- und Ausgaben
// Dieses Modul definiert den typisierten, geformten, flachen Tensor-Puffer
// sowie die Konvertierung zwischen Rohbytes und float32.
package ml

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/nnhost/nnhost/fs"
)

// Tensor ist ein flacher Puffer mit Elementtyp und Form.
// Data enthaelt die Elemente little-endian in Zeilen-Reihenfolge.
type Tensor struct {
	Type  DType
	Shape []int
	Data  []byte
}

// NewTensor erstellt einen Tensor und prueft die Invariante
// len(data) == product(shape) * dtype.Size().
func NewTensor(dtype DType, shape []int, data []byte) (Tensor, error) {
	t := Tensor{Type: dtype, Shape: slices.Clone(shape), Data: data}
	if err := t.Validate(); err != nil {
		return Tensor{}, err
	}
	return t, nil
}

// FromFloat32 erstellt einen F32-Tensor aus einem float32-Slice.
func FromFloat32(shape []int, s []float32) (Tensor, error) {
	return NewTensor(DTypeF32, shape, EncodeFloats(DTypeF32, s))
}

// Len gibt die Anzahl der Elemente laut Form zurueck.
func (t Tensor) Len() int {
	return mul(t.Shape...)
}

// Validate prueft Form und Datenlaenge.
func (t Tensor) Validate() error {
	if t.Type.Size() == 0 {
		return fmt.Errorf("%w: unknown element type %v", ErrShapeMismatch, t.Type)
	}

	if len(t.Shape) == 0 {
		return fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}

	for i, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: dimension %d is %d", ErrShapeMismatch, i, d)
		}
	}

	want, err := fs.Elements(t.Shape, t.Type.Size())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}

	if len(t.Data)%t.Type.Size() != 0 {
		return fmt.Errorf("%w: %d bytes is not a multiple of %v", ErrShapeMismatch, len(t.Data), t.Type)
	}

	if n := len(t.Data) / t.Type.Size(); n != want {
		return fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShapeMismatch, t.Shape, want, n)
	}

	return nil
}

// Clone gibt eine tiefe Kopie zurueck.
func (t Tensor) Clone() Tensor {
	return Tensor{Type: t.Type, Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// Floats dekodiert die Elemente nach float32.
func (t Tensor) Floats() []float32 {
	return DecodeFloats(t.Type, t.Data)
}

func (t Tensor) String() string {
	return fmt.Sprintf("tensor(%v, %v)", t.Type, t.Shape)
}

// ============================================================================
// Konvertierung
// ============================================================================

// DecodeFloats dekodiert little-endian Rohdaten eines Typs nach float32.
func DecodeFloats(dtype DType, b []byte) []float32 {
	switch dtype {
	case DTypeF32:
		f32s := make([]float32, len(b)/4)
		for i := range f32s {
			f32s[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
		return f32s
	case DTypeF16:
		f32s := make([]float32, len(b)/2)
		for i := range f32s {
			f32s[i] = float16.Frombits(binary.LittleEndian.Uint16(b[i*2:])).Float32()
		}
		return f32s
	case DTypeBF16:
		return bfloat16.DecodeFloat32(b)
	case DTypeF64:
		f32s := make([]float32, len(b)/8)
		for i := range f32s {
			f32s[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:])))
		}
		return f32s
	case DTypeU8:
		f32s := make([]float32, len(b))
		for i := range f32s {
			f32s[i] = float32(b[i])
		}
		return f32s
	case DTypeI32:
		f32s := make([]float32, len(b)/4)
		for i := range f32s {
			f32s[i] = float32(int32(binary.LittleEndian.Uint32(b[i*4:])))
		}
		return f32s
	case DTypeI64:
		f32s := make([]float32, len(b)/8)
		for i := range f32s {
			f32s[i] = float32(int64(binary.LittleEndian.Uint64(b[i*8:])))
		}
		return f32s
	default:
		return nil
	}
}

// EncodeFloats kodiert float32-Werte in den Zieltyp (little-endian).
func EncodeFloats(dtype DType, f32s []float32) []byte {
	b := make([]byte, len(f32s)*dtype.Size())
	switch dtype {
	case DTypeF32:
		for i, f := range f32s {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
		}
	case DTypeF16:
		for i, f := range f32s {
			binary.LittleEndian.PutUint16(b[i*2:], float16.Fromfloat32(f).Bits())
		}
	case DTypeBF16:
		copy(b, bfloat16.EncodeFloat32(f32s))
	case DTypeF64:
		for i, f := range f32s {
			binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(float64(f)))
		}
	case DTypeU8:
		for i, f := range f32s {
			b[i] = uint8(f)
		}
	case DTypeI32:
		for i, f := range f32s {
			binary.LittleEndian.PutUint32(b[i*4:], uint32(int32(f)))
		}
	case DTypeI64:
		for i, f := range f32s {
			binary.LittleEndian.PutUint64(b[i*8:], uint64(int64(f)))
		}
	}
	return b
}
