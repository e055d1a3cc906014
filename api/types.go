// types.go - API-Typen (Anfragen, Antworten, Fehler, Tensoren)
// Enthaelt: StatusError, Tensor, InferRequest/-Response, GraphRequest/-Response
package api

import (
	"fmt"
	"time"

	"github.com/nnhost/nnhost/ml"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the nnhost server logs for details"
	}
}

// Tensor ist die JSON-Form eines Tensors. Data enthaelt die Elemente in
// Zeilen-Reihenfolge als Zahlen, unabhaengig vom Elementtyp.
type Tensor struct {
	Name  string    `json:"name,omitempty"`
	Type  ml.DType  `json:"type"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// FromTensor wandelt einen ml.Tensor in seine JSON-Form.
func FromTensor(name string, t ml.Tensor) Tensor {
	return Tensor{Name: name, Type: t.Type, Shape: t.Shape, Data: t.Floats()}
}

// Tensor wandelt die JSON-Form zurueck und prueft Form und Datenlaenge.
func (t Tensor) Tensor() (ml.Tensor, error) {
	if t.Type.Size() == 0 {
		return ml.Tensor{}, fmt.Errorf("%w: unknown element type %v", ml.ErrShapeMismatch, t.Type)
	}
	return ml.NewTensor(t.Type, t.Shape, ml.EncodeFloats(t.Type, t.Data))
}

// InferRequest describes a request sent by [Client.Infer].
type InferRequest struct {
	// Model is the alias, path or cached name of the model.
	Model string `json:"model"`

	// Encoding and Target select the engine. Empty means autodetect and
	// cpu.
	Encoding string `json:"encoding,omitempty"`
	Target   string `json:"target,omitempty"`

	// Inputs holds one tensor per input slot. If empty, the server binds
	// random inputs.
	Inputs []Tensor `json:"inputs,omitempty"`

	// Seed seeds the random inputs. If nil, the server draws a random seed.
	Seed *uint64 `json:"seed,omitempty"`
}

// InferResponse is the response returned by [Client.Infer].
type InferResponse struct {
	Model     string        `json:"model"`
	ContextID string        `json:"context"`
	Outputs   []Tensor      `json:"outputs"`
	Elapsed   time.Duration `json:"elapsed"`
}

// GraphRequest selects a graph for [Client.Graph].
type GraphRequest struct {
	Model    string `json:"model"`
	Encoding string `json:"encoding,omitempty"`
	Target   string `json:"target,omitempty"`
}

// GraphResponse describes a loaded graph.
type GraphResponse struct {
	Model     string       `json:"model"`
	Path      string       `json:"path"`
	Encoding  string       `json:"encoding"`
	Target    string       `json:"target"`
	Signature ml.Signature `json:"signature"`
}
