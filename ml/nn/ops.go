// MODUL: ops
// ZWECK: Schicht-Operationen des Graph-Programms (Formen und Kernels)
// INPUT: float32-Puffer in Zeilen-Reihenfolge plus Formen
// OUTPUT: Ergebnis-Puffer
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: gonum blas32 (Matrix-Multiplikation)
// HINWEISE: linear rechnet x·W + b mit W in der Form [in, out].
//           softmax und rms_norm normieren ueber die letzte Achse.
//           embedding liest Indizes und haengt die Achse [units] an.

package nn

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// arity gibt die Anzahl der Eingaben je Operation zurueck.
var arity = map[string]int{
	"linear":    1,
	"embedding": 1,
	"rms_norm":  1,
	"relu":      1,
	"sigmoid":   1,
	"silu":      1,
	"tanh":      1,
	"gelu":      1,
	"softmax":   1,
	"dropout":   1,
	"add":       2,
	"mul":       2,
}

// weighted meldet Operationen mit Gewicht. Nur linear hat zusaetzlich einen Bias.
func weighted(op string) bool {
	return op == "linear" || op == "embedding" || op == "rms_norm"
}

// defaultEps ist das epsilon von rms_norm ohne eigene Angabe.
const defaultEps = 1e-5

// Ops gibt die unterstuetzten Operationen sortiert zurueck.
func Ops() []string {
	ops := make([]string, 0, len(arity))
	for op := range arity {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// inferShape berechnet die Ausgabe-Form einer Schicht.
func inferShape(l resolved, in [][]int, units int) ([]int, error) {
	n, ok := arity[l.Op]
	if !ok {
		return nil, fmt.Errorf("layer %d: unknown op %q", l.index, l.Op)
	}

	if len(in) != n {
		return nil, fmt.Errorf("layer %d (%s): expects %d inputs, got %d", l.index, l.Op, n, len(in))
	}

	switch l.Op {
	case "linear":
		if len(in[0]) == 0 {
			return nil, fmt.Errorf("layer %d (linear): scalar input", l.index)
		}
		out := slices.Clone(in[0])
		out[len(out)-1] = units
		return out, nil
	case "embedding":
		return append(slices.Clone(in[0]), units), nil
	case "rms_norm":
		if len(in[0]) == 0 {
			return nil, fmt.Errorf("layer %d (rms_norm): scalar input", l.index)
		}
	case "add", "mul":
		if !slices.Equal(in[0], in[1]) {
			return nil, fmt.Errorf("layer %d (%s): shapes %v and %v differ", l.index, l.Op, in[0], in[1])
		}
	}

	return slices.Clone(in[0]), nil
}

// linear berechnet out = x·W (+ b) fuer x [rows, k] und W [k, n].
func linear(x []float32, rows, k int, w *Param, b *Param, out []float32) {
	n := w.Shape[1]
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: rows, Cols: k, Stride: k, Data: x},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: w.Data},
		0,
		blas32.General{Rows: rows, Cols: n, Stride: n, Data: out})

	if b != nil {
		for r := range rows {
			row := out[r*n : (r+1)*n]
			for j := range row {
				row[j] += b.Data[j]
			}
		}
	}
}

// embedding kopiert je Index die Zeile aus W [vocab, units]. Indizes werden
// gerundet, damit sie auch als Gleitkomma-Werte ankommen koennen.
func embedding(ids []float32, w *Param, out []float32) error {
	vocab, units := w.Shape[0], w.Shape[1]
	for i, v := range ids {
		id := math.Round(float64(v))
		if !(id >= 0 && id < float64(vocab)) {
			return fmt.Errorf("index %v at position %d out of range [0, %d)", v, i, vocab)
		}

		row := int(id) * units
		copy(out[i*units:(i+1)*units], w.Data[row:row+units])
	}
	return nil
}

// rmsNorm teilt jede Zeile durch ihren quadratischen Mittelwert und
// skaliert mit w.
func rmsNorm(x, w []float32, eps float32, out []float32) {
	n := len(w)
	for r := 0; r < len(x); r += n {
		row := x[r : r+n]

		var ss float64
		for _, v := range row {
			ss += float64(v) * float64(v)
		}

		scale := 1 / math.Sqrt(ss/float64(n)+float64(eps))
		for j, v := range row {
			out[r+j] = float32(float64(v)*scale) * w[j]
		}
	}
}

// unary wendet fn elementweise an.
func unary(x, out []float32, fn func(float32) float32) {
	for i, v := range x {
		out[i] = fn(v)
	}
}

func relu(v float32) float32 {
	return max(v, 0)
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

func silu(v float32) float32 {
	return v * sigmoid(v)
}

func tanh(v float32) float32 {
	return float32(math.Tanh(float64(v)))
}

// gelu nutzt die tanh-Naeherung.
func gelu(v float32) float32 {
	x := float64(v)
	return float32(0.5 * x * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(x+0.044715*x*x*x))))
}

// softmax normiert jede Zeile der Breite n.
func softmax(x, out []float32, n int) {
	for r := 0; r < len(x); r += n {
		row := x[r : r+n]
		m := slices.Max(row)

		var sum float64
		for j, v := range row {
			e := math.Exp(float64(v - m))
			out[r+j] = float32(e)
			sum += e
		}

		for j := range row {
			out[r+j] = float32(float64(out[r+j]) / sum)
		}
	}
}

func add(a, b, out []float32) {
	for i := range a {
		out[i] = a[i] + b[i]
	}
}

func mul(a, b, out []float32) {
	for i := range a {
		out[i] = a[i] * b[i]
	}
}
