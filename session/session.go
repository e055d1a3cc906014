// Package session - Inferenz-Sitzung ueber dem Graph-Protokoll
//
// Dieses Modul enthaelt:
// - Run: Laden, Kontext erzeugen, Eingaben binden, Berechnen, Ausgaben abrufen
// - RunGraph: dasselbe auf einem bereits geladenen Graphen
// - StageError: Fehler mit der Stufe, in der er aufgetreten ist
//
// Eine Sitzung liefert entweder alle Ausgaben oder einen Fehler, nie einen
// Teil der Ausgaben. Alle Handles werden auf jedem Pfad freigegeben.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nnhost/nnhost/ml"
)

// ============================================================================
// Stufen und Fehler
// ============================================================================

// Stage benennt einen Schritt der Sitzung.
type Stage string

const (
	StageLoad     Stage = "load"
	StageContext  Stage = "context"
	StageBind     Stage = "bind"
	StageCompute  Stage = "compute"
	StageRetrieve Stage = "retrieve"
)

// StageError verpackt den Fehler eines Schritts.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf gibt die Stufe eines Sitzungsfehlers zurueck.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

func fail(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// ============================================================================
// Request / Result
// ============================================================================

// Request beschreibt eine Sitzung.
type Request struct {
	// Name ist Alias, Pfad oder Name im Modell-Verzeichnis
	Name     string
	Encoding ml.GraphEncoding
	Target   ml.ExecutionTarget

	// Inputs liefert einen Tensor pro Eingabe-Slot
	Inputs InputSource

	// Options werden an ml.Load weitergereicht
	Options []ml.LoadOption
}

// Result enthaelt die Ausgaben einer erfolgreichen Sitzung.
type Result struct {
	GraphID   string
	ContextID string
	Signature ml.Signature
	Inputs    []ml.Tensor
	Outputs   []ml.Tensor
	Elapsed   time.Duration
}

// ============================================================================
// Run
// ============================================================================

// Run laedt den Graphen aus req, fuehrt eine Inferenz aus und gibt den
// Graphen wieder frei.
func Run(ctx context.Context, req Request) (*Result, error) {
	g, err := ml.Load(ctx, req.Encoding, req.Target, req.Name, req.Options...)
	if err != nil {
		return nil, fail(StageLoad, err)
	}
	defer g.Close()

	return RunGraph(ctx, g, req.Inputs)
}

// RunGraph fuehrt eine Inferenz auf g aus. Jeder Aufruf nutzt einen eigenen
// ExecutionContext, daher ist RunGraph fuer nebenlaeufige Aufrufe auf
// demselben Graphen sicher, solange src es ist.
func RunGraph(ctx context.Context, g *ml.Graph, src InputSource) (*Result, error) {
	if src == nil {
		return nil, fail(StageBind, errors.New("no input source"))
	}

	c, err := g.NewContext()
	if err != nil {
		return nil, fail(StageContext, err)
	}
	defer c.Close()

	sig := g.Signature()
	r := Result{
		GraphID:   g.ID(),
		ContextID: c.ID(),
		Signature: sig,
		Inputs:    make([]ml.Tensor, len(sig.Inputs)),
		Outputs:   make([]ml.Tensor, len(sig.Outputs)),
	}

	for i, spec := range sig.Inputs {
		t, err := src.Tensor(i, spec)
		if err != nil {
			return nil, fail(StageBind, err)
		}

		if err := c.SetInput(i, t); err != nil {
			return nil, fail(StageBind, err)
		}
		r.Inputs[i] = t
	}

	start := time.Now()
	if err := c.Compute(ctx); err != nil {
		return nil, fail(StageCompute, err)
	}
	r.Elapsed = time.Since(start)

	for i := range sig.Outputs {
		t, err := c.Output(i)
		if err != nil {
			return nil, fail(StageRetrieve, err)
		}
		r.Outputs[i] = t
	}

	slog.Debug("session finished", "graph", r.GraphID, "context", r.ContextID, "elapsed", r.Elapsed)
	return &r, nil
}
