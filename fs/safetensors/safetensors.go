// Package safetensors - Safetensors Container lesen
//
// Dieses Modul enthaelt den Reader fuer Safetensors-Dateien:
// - File: Repraesentiert eine geoeffnete Safetensors-Datei
// - Open: Oeffnet die Datei und parst den JSON-Header
// - Names/TensorInfo/Tensor/TensorReader: Zugriff auf Tensors
//
// Layout: 8 Bytes Header-Laenge (uint64 LE), JSON-Header, Tensor-Daten.
// Der Header ist ein Objekt mit optionalem "__metadata__" (string -> string)
// und einem Eintrag pro Tensor mit dtype, shape und data_offsets.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/nnhost/nnhost/fs"
)

// ErrUnsupported wird bei nicht unterstuetzten Formaten zurueckgegeben
var ErrUnsupported = errors.New("unsupported")

// maxHeaderSize begrenzt die Header-Laenge (100 MiB)
const maxHeaderSize = 100 << 20

const metadataKey = "__metadata__"

// DType ist der Elementtyp eines Tensors im Safetensors-Format
type DType string

const (
	DTypeF16  DType = "F16"
	DTypeBF16 DType = "BF16"
	DTypeF32  DType = "F32"
	DTypeF64  DType = "F64"
	DTypeI32  DType = "I32"
	DTypeI64  DType = "I64"
	DTypeU8   DType = "U8"
	DTypeBool DType = "BOOL"
)

// Size gibt die Groesse eines Elements in Bytes zurueck, 0 fuer unbekannte Typen
func (d DType) Size() int {
	switch d {
	case DTypeU8, DTypeBool:
		return 1
	case DTypeF16, DTypeBF16:
		return 2
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF64, DTypeI64:
		return 8
	default:
		return 0
	}
}

// TensorInfo beschreibt einen Tensor im Header
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// shapeBytes gibt die Datengroesse laut Form und DType zurueck
func (ti TensorInfo) shapeBytes() (int64, error) {
	n, err := fs.Elements(ti.Shape, ti.DType.Size())
	if err != nil {
		return 0, err
	}
	return int64(n) * int64(ti.DType.Size()), nil
}

// NumBytes gibt die Datengroesse laut Offsets zurueck
func (ti TensorInfo) NumBytes() int64 {
	return ti.DataOffsets[1] - ti.DataOffsets[0]
}

// File ist eine geoeffnete Safetensors-Datei. Tensor-Zugriffe nutzen ReadAt
// und sind fuer nebenlaeufige Nutzung sicher.
type File struct {
	file       *os.File
	metadata   map[string]string
	tensors    *orderedmap.OrderedMap[string, TensorInfo]
	dataOffset int64
}

// Open oeffnet eine Safetensors-Datei und prueft den Header
func Open(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	f, err := parse(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return f, nil
}

func parse(file *os.File) (*File, error) {
	fi, err := file.Stat()
	if err != nil {
		return nil, err
	}

	var n uint64
	if err := binary.Read(file, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read header size: %w", err)
	}

	if n == 0 || n > maxHeaderSize || int64(n) > fi.Size()-8 {
		return nil, fmt.Errorf("%w header size %d", ErrUnsupported, n)
	}

	bts := make([]byte, n)
	if _, err := io.ReadFull(file, bts); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	raw := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(bts, raw); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	f := &File{
		file:       file,
		metadata:   make(map[string]string),
		tensors:    orderedmap.New[string, TensorInfo](),
		dataOffset: 8 + int64(n),
	}

	dataSize := fi.Size() - f.dataOffset
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == metadataKey {
			if err := json.Unmarshal(pair.Value, &f.metadata); err != nil {
				return nil, fmt.Errorf("parse metadata: %w", err)
			}
			continue
		}

		var ti TensorInfo
		if err := json.Unmarshal(pair.Value, &ti); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", pair.Key, err)
		}

		if err := ti.validate(dataSize); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", pair.Key, err)
		}

		f.tensors.Set(pair.Key, ti)
	}

	return f, nil
}

func (ti TensorInfo) validate(dataSize int64) error {
	if ti.DType.Size() == 0 {
		return fmt.Errorf("%w dtype %q", ErrUnsupported, ti.DType)
	}

	want, err := ti.shapeBytes()
	if err != nil {
		return fmt.Errorf("invalid shape: %w", err)
	}

	start, end := ti.DataOffsets[0], ti.DataOffsets[1]
	if start < 0 || end < start || end > dataSize {
		return fmt.Errorf("invalid data offsets [%d, %d] for %d data bytes", start, end, dataSize)
	}

	if ti.NumBytes() != want {
		return fmt.Errorf("data offsets [%d, %d] do not match %s%v (%d bytes)", start, end, ti.DType, ti.Shape, want)
	}

	return nil
}

// Close schliesst die Datei
func (f *File) Close() error {
	return f.file.Close()
}

// Metadata gibt den "__metadata__"-Eintrag zurueck
func (f *File) Metadata() map[string]string {
	return f.metadata
}

// Names gibt die Tensor-Namen in Header-Reihenfolge zurueck
func (f *File) Names() []string {
	names := make([]string, 0, f.tensors.Len())
	for pair := f.tensors.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// TensorInfo sucht die Tensor-Info nach Name
func (f *File) TensorInfo(name string) (TensorInfo, error) {
	ti, ok := f.tensors.Get(name)
	if !ok {
		return TensorInfo{}, fmt.Errorf("tensor %s not found", name)
	}
	return ti, nil
}

// TensorReader liefert Tensor-Info und einen Reader fuer die Tensor-Daten
func (f *File) TensorReader(name string) (TensorInfo, io.Reader, error) {
	ti, err := f.TensorInfo(name)
	if err != nil {
		return TensorInfo{}, nil, err
	}

	return ti, io.NewSectionReader(f.file, f.dataOffset+ti.DataOffsets[0], ti.NumBytes()), nil
}

// Tensor liest die Rohdaten eines Tensors
func (f *File) Tensor(name string) (TensorInfo, []byte, error) {
	ti, err := f.TensorInfo(name)
	if err != nil {
		return TensorInfo{}, nil, err
	}

	bts := make([]byte, ti.NumBytes())
	if _, err := f.file.ReadAt(bts, f.dataOffset+ti.DataOffsets[0]); err != nil {
		return TensorInfo{}, nil, fmt.Errorf("read tensor %s: %w", name, err)
	}

	return ti, bts, nil
}
