// Package safetensors - Safetensors Container schreiben
//
// Dieses Modul enthaelt Write und WriteFile. Tensors werden in der
// uebergebenen Reihenfolge geschrieben, der Header wird mit Leerzeichen
// auf 8 Bytes aufgefuellt.
package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// TensorData ist ein zu schreibender Tensor
type TensorData struct {
	Name  string
	DType DType
	Shape []int
	Data  []byte
}

// Write schreibt metadata und ts im Safetensors-Format nach w
func Write(w io.Writer, metadata map[string]string, ts []TensorData) error {
	header := orderedmap.New[string, any]()
	if len(metadata) > 0 {
		header.Set(metadataKey, metadata)
	}

	var offset int64
	for _, t := range ts {
		if t.Name == "" || t.Name == metadataKey {
			return fmt.Errorf("invalid tensor name %q", t.Name)
		}

		if _, present := header.Get(t.Name); present {
			return fmt.Errorf("duplicate tensor %s", t.Name)
		}

		ti := TensorInfo{DType: t.DType, Shape: t.Shape, DataOffsets: [2]int64{offset, offset + int64(len(t.Data))}}
		if ti.DType.Size() == 0 {
			return fmt.Errorf("tensor %s: %w dtype %q", t.Name, ErrUnsupported, t.DType)
		}

		if want, err := ti.shapeBytes(); err != nil {
			return fmt.Errorf("tensor %s: %w", t.Name, err)
		} else if want != int64(len(t.Data)) {
			return fmt.Errorf("tensor %s: %d bytes for %s%v", t.Name, len(t.Data), t.DType, t.Shape)
		}

		header.Set(t.Name, ti)
		offset += int64(len(t.Data))
	}

	bts, err := json.Marshal(header)
	if err != nil {
		return err
	}

	if pad := (8 - len(bts)%8) % 8; pad > 0 {
		bts = append(bts, bytes.Repeat([]byte{' '}, pad)...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(bts))); err != nil {
		return err
	}

	if _, err := w.Write(bts); err != nil {
		return err
	}

	for _, t := range ts {
		if _, err := w.Write(t.Data); err != nil {
			return err
		}
	}

	return nil
}

// WriteFile erstellt path und schreibt die Tensors hinein
func WriteFile(path string, metadata map[string]string, ts []TensorData) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Write(f, metadata, ts); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
