// cache.go - Aufloesung von Modell-Artefakten
// Dieses Modul loest Modell-Identifikatoren ueber Preload-Aliase,
// direkte Pfade und das Modell-Verzeichnis auf und erkennt das Encoding.
package ml

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/nnhost/nnhost/envconfig"
)

// ============================================================================
// Preload - Alias-Eintraege im Format alias:ENCODING:TARGET:pfad
// ============================================================================

// Preload bindet einen Alias an Artefakt, Encoding und Target.
type Preload struct {
	Alias    string
	Encoding GraphEncoding
	Target   ExecutionTarget
	Path     string
}

// ParsePreloads parst eine komma-separierte Liste von Preload-Eintraegen.
// Der Pfad ist das letzte Feld und darf selbst Doppelpunkte enthalten.
func ParsePreloads(s string) ([]Preload, error) {
	var preloads []Preload
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 4)
		if len(parts) != 4 || parts[0] == "" || parts[3] == "" {
			return nil, fmt.Errorf("invalid preload %q, expected alias:encoding:target:path", entry)
		}

		encoding, err := ParseGraphEncoding(parts[1])
		if err != nil {
			return nil, fmt.Errorf("preload %q: %w", parts[0], err)
		}

		target, err := ParseExecutionTarget(parts[2])
		if err != nil {
			return nil, fmt.Errorf("preload %q: %w", parts[0], err)
		}

		preloads = append(preloads, Preload{
			Alias:    parts[0],
			Encoding: encoding,
			Target:   target,
			Path:     parts[3],
		})
	}

	return preloads, nil
}

// ============================================================================
// Cache - Modell-Aufloesung
// ============================================================================

// modelSuffixes werden beim Suchen im Modell-Verzeichnis angehaengt.
var modelSuffixes = []string{"", ".safetensors", ".gguf"}

// Cache loest Modell-Identifikatoren in Dateipfade auf.
type Cache struct {
	dir      string
	preloads map[string]Preload
}

// NewCache erstellt einen Cache ueber dir mit den gegebenen Preloads.
func NewCache(dir string, preloads ...Preload) *Cache {
	c := &Cache{dir: dir, preloads: make(map[string]Preload, len(preloads))}
	for _, p := range preloads {
		c.preloads[p.Alias] = p
	}
	return c
}

// DefaultCache erstellt einen Cache aus NNHOST_MODELS und NNHOST_PRELOAD.
func DefaultCache() (*Cache, error) {
	preloads, err := ParsePreloads(envconfig.Preload())
	if err != nil {
		return nil, err
	}
	return NewCache(envconfig.Models(), preloads...), nil
}

// Lookup gibt den Preload-Eintrag eines Alias zurueck.
func (c *Cache) Lookup(alias string) (Preload, bool) {
	p, ok := c.preloads[alias]
	return p, ok
}

// Preloads gibt alle Preload-Eintraege nach Alias sortiert zurueck.
func (c *Cache) Preloads() []Preload {
	preloads := slices.Collect(maps.Values(c.preloads))
	slices.SortFunc(preloads, func(a, b Preload) int {
		return strings.Compare(a.Alias, b.Alias)
	})
	return preloads
}

// Resolve loest name in einen existierenden Dateipfad oder ein
// Shard-Verzeichnis auf.
// Reihenfolge: Preload-Alias, direkter Pfad, Modell-Verzeichnis.
func (c *Cache) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrModelNotFound)
	}

	if p, ok := c.preloads[name]; ok {
		if !isModel(p.Path) {
			return "", fmt.Errorf("%w: preload %q points to %s", ErrModelNotFound, name, p.Path)
		}
		return p.Path, nil
	}

	if isModel(name) {
		return name, nil
	}

	if c.dir != "" && !filepath.IsAbs(name) {
		for _, suffix := range modelSuffixes {
			path := filepath.Join(c.dir, name+suffix)
			if isModel(path) {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("%w: %s", ErrModelNotFound, name)
}

// shardFiles markieren ein Verzeichnis als Safetensors-Modell.
var shardFiles = []string{"model.safetensors.index.json", "model.safetensors"}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// isShardDir meldet ob path ein Verzeichnis mit Safetensors-Shards ist.
func isShardDir(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		return false
	}

	for _, name := range shardFiles {
		if isFile(filepath.Join(path, name)) {
			return true
		}
	}
	return false
}

func isModel(path string) bool {
	return isFile(path) || isShardDir(path)
}

// ============================================================================
// DetectEncoding - Encoding aus den ersten Bytes erkennen
// ============================================================================

// maxSafetensorsHeader begrenzt die plausible Header-Laenge (100 MiB).
const maxSafetensorsHeader = 100 << 20

// DetectEncoding erkennt das Encoding eines Artefakts anhand der Magic-Bytes.
// GGUF-Dateien beginnen mit "GGUF", Safetensors mit einer uint64-Headerlaenge
// gefolgt von einem JSON-Objekt. Zip-Archive sind PyTorch-Checkpoints.
// Shard-Verzeichnisse sind immer MLX.
func DetectEncoding(path string) (GraphEncoding, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		if isShardDir(path) {
			return EncodingMLX, nil
		}
		return 0, fmt.Errorf("%w: %s: directory without safetensors shards", ErrUnsupportedEncoding, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var head [9]byte
	n, err := io.ReadFull(f, head[:])
	if err != nil && n < 4 {
		return 0, fmt.Errorf("%w: %s: file too short", ErrUnsupportedEncoding, path)
	}

	if bytes.Equal(head[:4], []byte("GGUF")) {
		return EncodingGGML, nil
	}

	if bytes.Equal(head[:4], []byte("PK\x03\x04")) {
		return EncodingPyTorch, nil
	}

	if n == len(head) {
		size := binary.LittleEndian.Uint64(head[:8])
		if size > 0 && size <= maxSafetensorsHeader && head[8] == '{' {
			return EncodingMLX, nil
		}
	}

	return 0, fmt.Errorf("%w: %s: unrecognized file format", ErrUnsupportedEncoding, path)
}
