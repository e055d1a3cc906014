// Package gguf - Lazy-Liste fuer KV-Paare und Tensor-Infos
//
// Dieses Modul enthaelt den lazy-Typ, der Eintraege erst beim Zugriff
// aus der Datei liest und bereits gelesene Eintraege zwischenspeichert.
package gguf

import (
	"encoding/binary"
	"fmt"
	"iter"
	"log/slog"
)

type lazy[T any] struct {
	count  uint64
	next   func() (T, bool)
	stop   func()
	values []T
	err    error

	// successFunc wird aufgerufen, nachdem alle Eintraege gelesen wurden
	successFunc func() error
}

func newLazy[T any](f *File, fn func() (T, error)) (*lazy[T], error) {
	it := lazy[T]{}
	if err := binary.Read(f.reader, binary.LittleEndian, &it.count); err != nil {
		return nil, err
	}

	if it.count > 1<<24 {
		return nil, fmt.Errorf("%w count %d", ErrUnsupported, it.count)
	}

	it.values = make([]T, 0, it.count)
	it.next, it.stop = iter.Pull(func(yield func(T) bool) {
		for i := range it.count {
			t, err := fn()
			if err != nil {
				slog.Error("error reading gguf entry", "index", i, "error", err)
				it.err = err
				return
			}

			it.values = append(it.values, t)
			if !yield(t) {
				return
			}
		}

		if it.successFunc != nil {
			it.err = it.successFunc()
		}
	})

	return &it, nil
}

// All iteriert ueber alle Eintraege und liest fehlende nach.
func (g *lazy[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := range int(g.count) {
			if i < len(g.values) {
				if !yield(i, g.values[i]) {
					return
				}
				continue
			}

			t, ok := g.next()
			if !ok || !yield(i, t) {
				return
			}
		}
	}
}

// rest liest alle verbleibenden Eintraege.
func (g *lazy[T]) rest() error {
	for {
		if _, ok := g.next(); !ok {
			return g.err
		}
	}
}
