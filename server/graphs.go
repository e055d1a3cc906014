// graphs.go - Cache der geladenen Graphen
// Jeder Graph wird pro (Name, Encoding, Target) genau einmal geladen und
// bis zum Herunterfahren gehalten.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nnhost/nnhost/envconfig"
	"github.com/nnhost/nnhost/ml"
)

type graphKey struct {
	name     string
	encoding ml.GraphEncoding
	target   ml.ExecutionTarget
}

func (k graphKey) String() string {
	return fmt.Sprintf("%s:%v:%v", k.name, k.encoding, k.target)
}

type graphCache struct {
	cache *ml.Cache
	group singleflight.Group

	mu     sync.Mutex
	graphs map[graphKey]*ml.Graph
	closed bool
}

func newGraphCache(cache *ml.Cache) *graphCache {
	return &graphCache{cache: cache, graphs: make(map[graphKey]*ml.Graph)}
}

func (gc *graphCache) get(key graphKey) (*ml.Graph, bool, error) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if gc.closed {
		return nil, false, &ml.Error{Op: "load", Slot: -1, Kind: ml.ErrGraphLoad, Err: ml.ErrClosed}
	}

	g, ok := gc.graphs[key]
	return g, ok, nil
}

// load gibt den Graphen fuer key zurueck und laedt ihn beim ersten Zugriff.
// Gleichzeitige Anfragen fuer denselben Schluessel teilen sich einen Ladevorgang.
func (gc *graphCache) load(ctx context.Context, key graphKey) (*ml.Graph, error) {
	if g, ok, err := gc.get(key); err != nil || ok {
		return g, err
	}

	v, err, _ := gc.group.Do(key.String(), func() (any, error) {
		if g, ok, err := gc.get(key); err != nil || ok {
			return g, err
		}

		// der Ladevorgang gehoert allen Wartenden, nicht nur dem ersten Aufrufer
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), envconfig.LoadTimeout())
		defer cancel()

		g, err := ml.Load(ctx, key.encoding, key.target, key.name, ml.WithCache(gc.cache))
		if err != nil {
			return nil, err
		}

		gc.mu.Lock()
		defer gc.mu.Unlock()

		if gc.closed {
			g.Close()
			return nil, &ml.Error{Op: "load", Slot: -1, Kind: ml.ErrGraphLoad, Err: ml.ErrClosed}
		}

		gc.graphs[key] = g
		return g, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*ml.Graph), nil
}

// key bildet den Cache-Schluessel. Fuer Preload-Aliase ersetzen die Werte
// des Eintrags ein fehlendes Encoding oder Target.
func (gc *graphCache) key(name, encoding, target string) (graphKey, error) {
	key := graphKey{name: name, encoding: ml.EncodingAutodetect, target: ml.TargetCPU}
	if p, ok := gc.cache.Lookup(name); ok {
		key.encoding, key.target = p.Encoding, p.Target
	}

	if encoding != "" {
		e, err := ml.ParseGraphEncoding(encoding)
		if err != nil {
			return graphKey{}, err
		}
		key.encoding = e
	}

	if target != "" {
		t, err := ml.ParseExecutionTarget(target)
		if err != nil {
			return graphKey{}, err
		}
		key.target = t
	}

	return key, nil
}

// preload laedt alle Preload-Aliase. Fehler werden nur protokolliert.
func (gc *graphCache) preload(ctx context.Context) {
	for _, p := range gc.cache.Preloads() {
		key := graphKey{name: p.Alias, encoding: p.Encoding, target: p.Target}
		if _, err := gc.load(ctx, key); err != nil {
			slog.Warn("failed to preload graph", "alias", p.Alias, "error", err)
		}
	}
}

func (gc *graphCache) closeAll() {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	gc.closed = true
	for key, g := range gc.graphs {
		g.Close()
		delete(gc.graphs, key)
	}
}
