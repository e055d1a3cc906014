// Package fs enthaelt die Container-Formate fuer Modell-Artefakte.
//
// Config ist die gemeinsame Sicht auf die Metadaten eines Artefakts,
// unabhaengig davon ob sie aus GGUF-KV-Paaren oder aus dem Safetensors
// "__metadata__" stammen. Keys ohne Namensraum werden mit dem
// Architecture-Prefix gesucht, z.B. "block_count" -> "mnist_mlp.block_count".
package fs

import "strings"

type Config interface {
	Architecture() string
	String(string, ...string) string
	Uint(string, ...uint32) uint32
	Float(string, ...float32) float32
	Bool(string, ...bool) bool
	Strings(string, ...[]string) []string
}

// reservedPrefixes werden nie mit dem Architecture-Prefix versehen
var reservedPrefixes = []string{"general.", "tokenizer.", "nnhost."}

// Reserved meldet ob key in einem festen Namensraum liegt
func Reserved(key string) bool {
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Key ergaenzt den Architecture-Prefix, falls key keinen hat
func Key(arch, key string) string {
	if Reserved(key) || arch == "" || strings.HasPrefix(key, arch+".") {
		return key
	}
	return arch + "." + key
}
