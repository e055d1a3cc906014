// MODUL: params
// ZWECK: Geordnete Tabelle benannter Parameter (Gewichte und Biases)
// INPUT: Parameter aus Artefakten oder aus Init
// OUTPUT: Params mit Zugriff nach Name und stabiler Reihenfolge
// NEBENEFFEKTE: Update protokolliert unbekannte Namen via slog
// ABHAENGIGKEITEN: go-ordered-map (Reihenfolge), levenshtein (Namensvorschlaege)
// HINWEISE: Update ueberschreibt nur Parameter mit passender Form.

package nn

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/agnivade/levenshtein"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/nnhost/nnhost/fs"
)

// Param ist ein float32-Parameter in Zeilen-Reihenfolge.
type Param struct {
	Shape []int
	Data  []float32
}

// NewParam prueft, dass Data zur Form passt.
func NewParam(shape []int, data []float32) (*Param, error) {
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("invalid parameter shape %v", shape)
		}
	}

	n, err := fs.Elements(shape, 4)
	if err != nil {
		return nil, fmt.Errorf("parameter: %w", err)
	}

	if len(data) != n {
		return nil, fmt.Errorf("parameter shape %v needs %d values, got %d", shape, n, len(data))
	}

	return &Param{Shape: slices.Clone(shape), Data: data}, nil
}

// Params ist eine geordnete Tabelle benannter Parameter.
type Params struct {
	m *orderedmap.OrderedMap[string, *Param]
}

// NewParams erstellt eine leere Tabelle.
func NewParams() *Params {
	return &Params{m: orderedmap.New[string, *Param]()}
}

// Set fuegt einen Parameter hinzu oder ersetzt ihn.
func (p *Params) Set(name string, param *Param) {
	p.m.Set(name, param)
}

// Get sucht einen Parameter nach Name.
func (p *Params) Get(name string) (*Param, bool) {
	return p.m.Get(name)
}

// Len gibt die Anzahl der Parameter zurueck.
func (p *Params) Len() int {
	return p.m.Len()
}

// Names gibt die Namen in Einfuege-Reihenfolge zurueck.
func (p *Params) Names() []string {
	names := make([]string, 0, p.m.Len())
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// NumValues gibt die Gesamtzahl der Parameter-Werte zurueck.
func (p *Params) NumValues() int {
	var n int
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		n += len(pair.Value.Data)
	}
	return n
}

// Update uebernimmt Gewichte nach Name. Unbekannte Namen werden mit einem
// Vorschlag protokolliert und ignoriert. Abweichende Formen sind Fehler,
// ebenso Parameter, die in weights fehlen.
func (p *Params) Update(weights *Params) error {
	var errs []error
	for pair := weights.m.Oldest(); pair != nil; pair = pair.Next() {
		name, w := pair.Key, pair.Value
		current, ok := p.m.Get(name)
		if !ok {
			if suggestion := p.closest(name); suggestion != "" {
				slog.Warn("unknown parameter", "name", name, "did_you_mean", suggestion)
			} else {
				slog.Warn("unknown parameter", "name", name)
			}
			continue
		}

		if !slices.Equal(current.Shape, w.Shape) {
			errs = append(errs, fmt.Errorf("parameter %s: shape %v, weights have %v", name, current.Shape, w.Shape))
			continue
		}

		p.m.Set(name, w)
	}

	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := weights.m.Get(pair.Key); !ok {
			errs = append(errs, fmt.Errorf("parameter %s: missing in weights", pair.Key))
		}
	}

	return errors.Join(errs...)
}

// closest gibt den aehnlichsten bekannten Namen zurueck, wenn er nah genug ist.
func (p *Params) closest(name string) string {
	var best string
	score := math.MaxInt
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		if s := levenshtein.ComputeDistance(name, pair.Key); s < score {
			score = s
			best = pair.Key
		}
	}

	if score > max(3, len(name)/3) {
		return ""
	}
	return best
}
