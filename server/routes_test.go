package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/nnhost/nnhost/api"
	"github.com/nnhost/nnhost/convert"
	"github.com/nnhost/nnhost/ml"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setup schreibt das Referenz-Modell und erstellt einen Server darueber.
func setup(t *testing.T) (*Server, http.Handler, string) {
	t.Helper()

	dir := t.TempDir()
	m, err := convert.New(convert.KV{"general.architecture": "mnist_mlp", "general.name": "mnist"}, 1)
	require.NoError(t, err)

	path := filepath.Join(dir, "mnist.safetensors")
	require.NoError(t, convert.WriteModel(path, m, ml.EncodingMLX))

	s := New(nil, ml.NewCache(dir, ml.Preload{Alias: "digits", Encoding: ml.EncodingMLX, Target: ml.TargetCPU, Path: path}))
	t.Cleanup(func() { s.Close() })

	h, err := s.GenerateRoutes()
	require.NoError(t, err)
	return s, h, path
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch body := body.(type) {
	case nil:
	case string:
		buf.WriteString(body)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, &buf))
	return w
}

// TestVersion prueft die allgemeinen Routen
func TestVersion(t *testing.T) {
	_, h, _ := setup(t)

	w := do(t, h, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"version":"0.0.0"}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/", nil)
	require.Equal(t, "nnhost is running", w.Body.String())
}

// TestGraphHandler prueft Signatur-Abfrage und Fehlerstatus
func TestGraphHandler(t *testing.T) {
	_, h, path := setup(t)

	w := do(t, h, http.MethodGet, "/api/graphs/mnist", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.GraphResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "mlx", resp.Encoding)
	require.Equal(t, "cpu", resp.Target)
	require.Equal(t, path, resp.Path)

	want := ml.Signature{
		Inputs:  []ml.TensorSpec{{Name: "input", Type: ml.DTypeF32, Shape: []int{1, 784}}},
		Outputs: []ml.TensorSpec{{Name: "output", Type: ml.DTypeF32, Shape: []int{1, 10}}},
	}
	if diff := cmp.Diff(want, resp.Signature); diff != "" {
		t.Errorf("signatur stimmt nicht (-erwartet +bekommen):\n%s", diff)
	}

	// Pfade mit Schraegstrichen kommen escaped an
	w = do(t, h, http.MethodGet, "/api/graphs/"+url.PathEscape(path), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cases := []struct {
		path   string
		status int
	}{
		{"/api/graphs/missing", http.StatusNotFound},
		{"/api/graphs/mnist?encoding=onnx", http.StatusUnprocessableEntity},
		{"/api/graphs/mnist?encoding=bogus", http.StatusBadRequest},
		{"/api/graphs/mnist?target=gpu", http.StatusUnprocessableEntity},
		{"/api/graphs/mnist?target=fpga", http.StatusBadRequest},
	}

	for _, tt := range cases {
		t.Run(tt.path, func(t *testing.T) {
			w := do(t, h, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			require.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

// TestInferHandler prueft Inferenz mit Zufalls- und expliziten Eingaben
func TestInferHandler(t *testing.T) {
	_, h, _ := setup(t)

	infer := func(req api.InferRequest) api.InferResponse {
		w := do(t, h, http.MethodPost, "/api/infer", req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp api.InferResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	seed := func(v uint64) *uint64 { return &v }

	resp := infer(api.InferRequest{Model: "mnist", Seed: seed(5)})
	require.Len(t, resp.Outputs, 1)
	require.Equal(t, "output", resp.Outputs[0].Name)
	require.Equal(t, ml.DTypeF32, resp.Outputs[0].Type)
	require.Equal(t, []int{1, 10}, resp.Outputs[0].Shape)
	require.Len(t, resp.Outputs[0].Data, 10)
	require.NotEmpty(t, resp.ContextID)

	require.Equal(t, resp.Outputs, infer(api.InferRequest{Model: "mnist", Seed: seed(5)}).Outputs)

	// Preload-Alias liefert denselben Graphen
	require.Equal(t, resp.Outputs, infer(api.InferRequest{Model: "digits", Seed: seed(5)}).Outputs)

	// Seed 0 ist ein gewoehnlicher Seed, ohne Seed wird einer gezogen
	zero := infer(api.InferRequest{Model: "mnist", Seed: seed(0)})
	require.Equal(t, zero.Outputs, infer(api.InferRequest{Model: "mnist", Seed: seed(0)}).Outputs)
	require.NotEqual(t, zero.Outputs, infer(api.InferRequest{Model: "mnist"}).Outputs)
	require.NotEqual(t, infer(api.InferRequest{Model: "mnist"}).Outputs, infer(api.InferRequest{Model: "mnist"}).Outputs)

	zeros := api.Tensor{Type: ml.DTypeF32, Shape: []int{1, 784}, Data: make([]float32, 784)}
	a := infer(api.InferRequest{Model: "mnist", Inputs: []api.Tensor{zeros}})
	b := infer(api.InferRequest{Model: "mnist", Inputs: []api.Tensor{zeros}, Seed: seed(99)})
	require.Equal(t, a.Outputs, b.Outputs)
}

// TestInferErrors prueft die Abbildung der Fehlerarten auf HTTP-Status
func TestInferErrors(t *testing.T) {
	_, h, _ := setup(t)

	wrong := api.Tensor{Type: ml.DTypeF32, Shape: []int{1, 10}, Data: make([]float32, 10)}
	short := api.Tensor{Type: ml.DTypeF32, Shape: []int{1, 784}, Data: make([]float32, 3)}
	f16 := api.Tensor{Type: ml.DTypeF16, Shape: []int{1, 784}, Data: make([]float32, 784)}
	ok := api.Tensor{Type: ml.DTypeF32, Shape: []int{1, 784}, Data: make([]float32, 784)}

	cases := []struct {
		name   string
		body   any
		status int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"no model", api.InferRequest{}, http.StatusBadRequest},
		{"not found", api.InferRequest{Model: "missing"}, http.StatusNotFound},
		{"wrong shape", api.InferRequest{Model: "mnist", Inputs: []api.Tensor{wrong}}, http.StatusBadRequest},
		{"short data", api.InferRequest{Model: "mnist", Inputs: []api.Tensor{short}}, http.StatusBadRequest},
		{"wrong type", api.InferRequest{Model: "mnist", Inputs: []api.Tensor{f16}}, http.StatusBadRequest},
		{"too many inputs", api.InferRequest{Model: "mnist", Inputs: []api.Tensor{ok, ok}}, http.StatusBadRequest},
		{"unsupported target", api.InferRequest{Model: "mnist", Target: "tpu"}, http.StatusUnprocessableEntity},
		{"unknown encoding", api.InferRequest{Model: "mnist", Encoding: "caffe"}, http.StatusBadRequest},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/infer", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

// TestStatusFor prueft die Reihenfolge der Fehlerarten
func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&ml.Error{Op: "load", Slot: -1, Kind: ml.ErrGraphLoad, Err: ml.ErrModelNotFound}, http.StatusNotFound},
		{&ml.Error{Op: "load", Slot: -1, Kind: ml.ErrGraphLoad, Err: ml.ErrShapeMismatch}, http.StatusUnprocessableEntity},
		{&ml.Error{Op: "set_input", Slot: 0, Kind: ml.ErrInvalidSlot}, http.StatusBadRequest},
		{&ml.Error{Op: "get_output", Slot: 0, Kind: ml.ErrBufferSize}, http.StatusBadRequest},
		{&ml.Error{Op: "compute", Slot: -1, Kind: ml.ErrCompute}, http.StatusInternalServerError},
		{&ml.Error{Op: "create_context", Slot: -1, Kind: ml.ErrContextCreation}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range cases {
		if got := statusFor(tt.err); got != tt.status {
			t.Errorf("%v: erwartet %d, bekommen %d", tt.err, tt.status, got)
		}
	}
}

// TestGraphCache prueft dass jeder Schluessel genau einmal geladen wird
func TestGraphCache(t *testing.T) {
	s, _, _ := setup(t)

	key, err := s.graphs.key("mnist", "", "")
	require.NoError(t, err)
	require.Equal(t, graphKey{name: "mnist", encoding: ml.EncodingAutodetect, target: ml.TargetCPU}, key)

	alias, err := s.graphs.key("digits", "", "auto")
	require.NoError(t, err)
	require.Equal(t, graphKey{name: "digits", encoding: ml.EncodingMLX, target: ml.TargetAuto}, alias)

	var wg sync.WaitGroup
	graphs := make([]*ml.Graph, 8)
	for i := range graphs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := s.graphs.load(t.Context(), key)
			if err != nil {
				t.Error(err)
				return
			}
			graphs[i] = g
		}()
	}
	wg.Wait()

	for _, g := range graphs {
		require.Same(t, graphs[0], g)
	}

	s.graphs.preload(t.Context())
	require.Len(t, s.graphs.graphs, 2)

	s.graphs.closeAll()
	require.Empty(t, s.graphs.graphs)

	_, err = graphs[0].NewContext()
	require.ErrorIs(t, err, ml.ErrContextCreation)

	_, err = s.graphs.load(t.Context(), key)
	require.ErrorIs(t, err, ml.ErrGraphLoad)
	require.ErrorIs(t, err, ml.ErrClosed)
}

// TestAllowedHost prueft die Host-Pruefung fuer Loopback-Server
func TestAllowedHost(t *testing.T) {
	for _, host := range []string{"", "localhost", "LOCALHOST", "foo.localhost", "printer.local", "box.internal"} {
		if !allowedHost(host) {
			t.Errorf("%q: erwartet erlaubt", host)
		}
	}

	for _, host := range []string{"example.com", "localhost.example.com", "evil.localhost.com"} {
		if allowedHost(host) {
			t.Errorf("%q: erwartet verboten", host)
		}
	}

	s, _, _ := setup(t)
	s.addr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11500}
	h, err := s.GenerateRoutes()
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	r.Host = "example.com"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusForbidden, w.Code)

	r.Host = "127.0.0.1:11500"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
}

// TestClient prueft den API-Client gegen einen laufenden Server
func TestClient(t *testing.T) {
	_, h, _ := setup(t)

	srv := httptest.NewServer(h)
	defer srv.Close()

	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := api.NewClient(base, srv.Client())

	require.NoError(t, client.Heartbeat(t.Context()))

	v, err := client.Version(t.Context())
	require.NoError(t, err)
	require.Equal(t, "0.0.0", v)

	g, err := client.Graph(t.Context(), &api.GraphRequest{Model: "mnist", Encoding: "mlx"})
	require.NoError(t, err)
	require.Equal(t, []int{1, 784}, g.Signature.Inputs[0].Shape)

	seed := uint64(1)
	resp, err := client.Infer(t.Context(), &api.InferRequest{Model: "mnist", Seed: &seed})
	require.NoError(t, err)
	require.Len(t, resp.Outputs[0].Data, 10)

	_, err = client.Infer(t.Context(), &api.InferRequest{Model: "missing"})
	var serr api.StatusError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, http.StatusNotFound, serr.StatusCode)
	require.Contains(t, serr.ErrorMessage, "model not found")
}
