package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/nnhost/nnhost/fs"
)

// Init erzeugt Parameter fuer alle Schichten der Definition. Gewichte mit
// Init "ones" werden mit 1 gefuellt, alle anderen normalverteilt. rms_norm
// beginnt ohne Angabe mit "ones". Gleiche Seeds liefern gleiche Parameter.
func Init(d Definition, seed uint64) (*Params, error) {
	shapes, err := d.ParamShapes()
	if err != nil {
		return nil, err
	}

	inits := make(map[string]string)
	for _, l := range d.Layers {
		kind := l.Init
		if kind == "" && l.Op == "rms_norm" {
			kind = "ones"
		}
		for _, name := range []string{l.Weight, l.Bias} {
			if name != "" {
				inits[name] = kind
			}
		}
	}

	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	params := NewParams()
	for pair := shapes.Oldest(); pair != nil; pair = pair.Next() {
		n, err := fs.Elements(pair.Value, 4)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", pair.Key, err)
		}

		data := make([]float32, n)
		switch inits[pair.Key] {
		case "ones":
			for i := range data {
				data[i] = 1
			}
		case "", "normal":
			for i := range data {
				data[i] = float32(r.NormFloat64())
			}
		default:
			return nil, fmt.Errorf("parameter %s: unknown init %q", pair.Key, inits[pair.Key])
		}

		param, err := NewParam(pair.Value, data)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", pair.Key, err)
		}
		params.Set(pair.Key, param)
	}

	return params, nil
}
