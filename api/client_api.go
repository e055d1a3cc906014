// Package api - API-Methoden des Clients.

package api

import (
	"context"
	"net/http"
	"net/url"
)

// Infer runs one inference on the server. Without inputs the server binds
// random inputs drawn from req.Seed.
func (c *Client) Infer(ctx context.Context, req *InferRequest) (*InferResponse, error) {
	var resp InferResponse
	if err := c.do(ctx, http.MethodPost, "/api/infer", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Graph loads model on the server if needed and returns its signature.
func (c *Client) Graph(ctx context.Context, req *GraphRequest) (*GraphResponse, error) {
	query := url.Values{}
	if req.Encoding != "" {
		query.Set("encoding", req.Encoding)
	}
	if req.Target != "" {
		query.Set("target", req.Target)
	}

	var resp GraphResponse
	if err := c.do(ctx, http.MethodGet, "/api/graphs/"+url.PathEscape(req.Model), query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat checks if the server has started and is responsive; if yes, it
// returns nil, otherwise an error.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodHead, "/", nil, nil, nil)
}

// Version returns the nnhost server version as a string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version struct {
		Version string `json:"version"`
	}

	if err := c.do(ctx, http.MethodGet, "/api/version", nil, nil, &version); err != nil {
		return "", err
	}

	return version.Version, nil
}
