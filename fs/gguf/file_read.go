// Package gguf - GGUF File Read Funktionen
//
// Dieses Modul enthaelt die Low-Level Lese-Funktionen fuer GGUF-Dateien:
// - readTensor: Liest Tensor-Metadaten
// - readKeyValue: Liest ein Key-Value Paar
// - valueReaders: Leser pro Werttyp, fuer Skalare und Arrays
// - readString/readArray: Strings und typisierte Arrays
package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxDims begrenzt die Dimensionen eines Tensors wie in GGML
const maxDims = 8

// maxLength begrenzt String- und Array-Laengen gegen beschaedigte Laengenfelder
const maxLength = 1 << 30

// readTensor liest die Metadaten eines einzelnen Tensors
func (f *File) readTensor() (TensorInfo, error) {
	name, err := readString(f)
	if err != nil {
		return TensorInfo{}, err
	}

	dims, err := read[uint32](f)
	if err != nil {
		return TensorInfo{}, err
	}

	if dims > maxDims {
		return TensorInfo{}, fmt.Errorf("%w tensor %s with %d dimensions", ErrUnsupported, name, dims)
	}

	// Form, Typ und Offset folgen direkt aufeinander
	shape, err := readSlice[uint64](f, uint64(dims))
	if err != nil {
		return TensorInfo{}, err
	}

	var tail struct {
		Type   uint32
		Offset uint64
	}
	if err := binary.Read(f.reader, binary.LittleEndian, &tail); err != nil {
		return TensorInfo{}, err
	}

	ti := TensorInfo{Name: name, Offset: tail.Offset, Shape: shape, Type: TensorType(tail.Type)}
	if err := ti.checkShape(); err != nil {
		return TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}

	return ti, nil
}

// readKeyValue liest ein einzelnes Key-Value Paar
func (f *File) readKeyValue() (KeyValue, error) {
	key, err := readString(f)
	if err != nil {
		return KeyValue{}, err
	}

	t, err := read[uint32](f)
	if err != nil {
		return KeyValue{}, err
	}

	var value any
	if t == typeArray {
		value, err = readArray(f)
	} else if r, ok := valueReaders[t]; ok {
		value, err = r.one(f)
	} else {
		err = fmt.Errorf("%w type %d", ErrUnsupported, t)
	}
	if err != nil {
		return KeyValue{}, fmt.Errorf("%s: %w", key, err)
	}

	return KeyValue{Key: key, Value: Value{value}}, nil
}

// =============================================================================
// Werttypen
// =============================================================================

// valueReader liest einen Wert oder n Werte eines GGUF-Typs
type valueReader struct {
	one  func(*File) (any, error)
	many func(*File, uint64) (any, error)
}

func scalar[T any]() valueReader {
	return valueReader{
		one:  func(f *File) (any, error) { return read[T](f) },
		many: func(f *File, n uint64) (any, error) { return readSlice[T](f, n) },
	}
}

var valueReaders = map[uint32]valueReader{
	typeUint8:   scalar[uint8](),
	typeInt8:    scalar[int8](),
	typeUint16:  scalar[uint16](),
	typeInt16:   scalar[int16](),
	typeUint32:  scalar[uint32](),
	typeInt32:   scalar[int32](),
	typeUint64:  scalar[uint64](),
	typeInt64:   scalar[int64](),
	typeFloat32: scalar[float32](),
	typeFloat64: scalar[float64](),
	typeBool:    scalar[bool](),
	typeString: {
		one:  func(f *File) (any, error) { return readString(f) },
		many: func(f *File, n uint64) (any, error) { return readStrings(f, n) },
	},
}

// read liest einen typisierten Wert aus dem Reader
func read[T any](f *File) (t T, err error) {
	err = binary.Read(f.reader, binary.LittleEndian, &t)
	return t, err
}

// readSlice liest n Werte fester Groesse am Stueck
func readSlice[T any](f *File, n uint64) ([]T, error) {
	s := make([]T, n)
	if err := binary.Read(f.reader, binary.LittleEndian, s); err != nil {
		return nil, err
	}
	return s, nil
}

// readLength liest ein Laengenfeld und prueft es gegen maxLength
func readLength(f *File, what string) (uint64, error) {
	n, err := read[uint64](f)
	if err != nil {
		return 0, err
	}

	if n > maxLength {
		return 0, fmt.Errorf("%w %s length %d", ErrUnsupported, what, n)
	}
	return n, nil
}

// readString liest einen String. Der Puffer f.bts wird wiederverwendet.
func readString(f *File) (string, error) {
	n, err := readLength(f, "string")
	if err != nil {
		return "", err
	}

	if int(n) > len(f.bts) {
		f.bts = make([]byte, n)
	}

	bts := f.bts[:n]
	if _, err := io.ReadFull(f.reader, bts); err != nil {
		return "", err
	}

	return string(bts), nil
}

func readStrings(f *File, n uint64) ([]string, error) {
	s := make([]string, n)
	for i := range s {
		e, err := readString(f)
		if err != nil {
			return nil, err
		}
		s[i] = e
	}
	return s, nil
}

// readArray liest Elementtyp, Laenge und Elemente eines Arrays
func readArray(f *File) (any, error) {
	t, err := read[uint32](f)
	if err != nil {
		return nil, err
	}

	n, err := readLength(f, "array")
	if err != nil {
		return nil, err
	}

	r, ok := valueReaders[t]
	if !ok {
		return nil, fmt.Errorf("%w array of type %d", ErrUnsupported, t)
	}

	return r.many(f, n)
}
