// Package gguf - Tensor-Infos und Tensor-Typen
//
// Dieses Modul enthaelt TensorInfo und die unterstuetzten TensorType-Werte.
// Quantisierte Typen werden nicht unterstuetzt.
package gguf

import (
	"fmt"

	"github.com/nnhost/nnhost/fs"
)

// TensorType ist der GGML-Elementtyp eines Tensors
type TensorType uint32

const (
	TensorTypeF32  TensorType = 0
	TensorTypeF16  TensorType = 1
	TensorTypeI8   TensorType = 24
	TensorTypeI16  TensorType = 25
	TensorTypeI32  TensorType = 26
	TensorTypeI64  TensorType = 27
	TensorTypeF64  TensorType = 28
	TensorTypeBF16 TensorType = 30
)

// Size gibt die Groesse eines Elements in Bytes zurueck, 0 fuer unbekannte Typen
func (t TensorType) Size() int64 {
	switch t {
	case TensorTypeI8:
		return 1
	case TensorTypeF16, TensorTypeBF16, TensorTypeI16:
		return 2
	case TensorTypeF32, TensorTypeI32:
		return 4
	case TensorTypeF64, TensorTypeI64:
		return 8
	default:
		return 0
	}
}

func (t TensorType) String() string {
	switch t {
	case TensorTypeF32:
		return "F32"
	case TensorTypeF16:
		return "F16"
	case TensorTypeI8:
		return "I8"
	case TensorTypeI16:
		return "I16"
	case TensorTypeI32:
		return "I32"
	case TensorTypeI64:
		return "I64"
	case TensorTypeF64:
		return "F64"
	case TensorTypeBF16:
		return "BF16"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// TensorInfo beschreibt einen Tensor. Shape ist in GGML-Reihenfolge
// gespeichert, die schnellste Dimension zuerst.
type TensorInfo struct {
	Name   string
	Offset uint64
	Shape  []uint64
	Type   TensorType
}

// Valid meldet ob die Info einen Tensor beschreibt
func (ti TensorInfo) Valid() bool {
	return ti.Name != "" && ti.NumBytes() > 0
}

// checkShape prueft dass NumBytes ohne Ueberlauf in int passt
func (ti TensorInfo) checkShape() error {
	_, err := fs.Elements(ti.Shape, int(ti.Type.Size()))
	return err
}

// NumValues gibt die Anzahl der Elemente zurueck. Die Form muss vorher
// mit checkShape geprueft sein.
func (ti TensorInfo) NumValues() int64 {
	var numItems int64 = 1
	for _, dim := range ti.Shape {
		numItems *= int64(dim)
	}
	return numItems
}

// NumBytes gibt die Datengroesse in Bytes zurueck
func (ti TensorInfo) NumBytes() int64 {
	return ti.NumValues() * ti.Type.Size()
}
