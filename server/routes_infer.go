// routes_infer.go - Handler fuer Inferenz und Graph-Signaturen
// Enthaelt: InferHandler, GraphHandler, statusFor
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nnhost/nnhost/api"
	"github.com/nnhost/nnhost/ml"
	"github.com/nnhost/nnhost/session"
)

// statusFor bildet eine Fehlerart auf einen HTTP-Status ab
func statusFor(err error) int {
	switch {
	case errors.Is(err, ml.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, ml.ErrGraphLoad):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ml.ErrInvalidSlot),
		errors.Is(err, ml.ErrShapeMismatch),
		errors.Is(err, ml.ErrBufferSize),
		errors.Is(err, ml.ErrUnsupportedEncoding),
		errors.Is(err, ml.ErrUnsupportedTarget):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// GraphHandler laedt den Graphen bei Bedarf und liefert seine Signatur
func (s *Server) GraphHandler(c *gin.Context) {
	key, err := s.graphs.key(c.Param("model"), c.Query("encoding"), c.Query("target"))
	if err != nil {
		abort(c, err)
		return
	}

	g, err := s.graphs.load(c.Request.Context(), key)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, api.GraphResponse{
		Model:     g.Name(),
		Path:      g.Path(),
		Encoding:  g.Encoding().String(),
		Target:    g.Target().String(),
		Signature: g.Signature(),
	})
}

// InferHandler fuehrt eine Inferenz mit den uebergebenen oder zufaelligen
// Eingaben aus
func (s *Server) InferHandler(c *gin.Context) {
	var req api.InferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Model == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}

	key, err := s.graphs.key(req.Model, req.Encoding, req.Target)
	if err != nil {
		abort(c, err)
		return
	}

	g, err := s.graphs.load(c.Request.Context(), key)
	if err != nil {
		abort(c, err)
		return
	}

	sig := g.Signature()

	seed := rand.Uint64()
	if req.Seed != nil {
		seed = *req.Seed
	}

	var src session.InputSource = session.NewRandomSource(seed)
	if len(req.Inputs) > 0 {
		if len(req.Inputs) != len(sig.Inputs) {
			abort(c, fmt.Errorf("%w: graph has %d inputs, got %d", ml.ErrInvalidSlot, len(sig.Inputs), len(req.Inputs)))
			return
		}

		fixed := make(session.FixedSource, len(req.Inputs))
		for i, in := range req.Inputs {
			t, err := in.Tensor()
			if err != nil {
				abort(c, fmt.Errorf("input %d: %w", i, err))
				return
			}
			fixed[i] = t
		}
		src = fixed
	}

	r, err := session.RunGraph(c.Request.Context(), g, src)
	if err != nil {
		abort(c, err)
		return
	}

	resp := api.InferResponse{
		Model:     req.Model,
		ContextID: r.ContextID,
		Outputs:   make([]api.Tensor, len(r.Outputs)),
		Elapsed:   r.Elapsed,
	}
	for i, t := range r.Outputs {
		resp.Outputs[i] = api.FromTensor(sig.Outputs[i].Name, t)
	}

	c.JSON(http.StatusOK, resp)
}
