package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type lookupRequest struct {
	Keys []string `json:"keys"`
}

type lookupResponse struct {
	Rows    [][]float64 `json:"rows"`
	Missing []string    `json:"missing,omitempty"`
}

type upsertRequest struct {
	Keys []string    `json:"keys"`
	Rows [][]float64 `json:"rows"`
}

// HTTPGateway talks to an embedding store over its HTTP endpoint.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPGateway{baseURL: baseURL, client: client}
}

func (g *HTTPGateway) Lookup(ctx context.Context, keys []string) ([][]float64, []string, error) {
	var res lookupResponse
	if err := g.post(ctx, "/lookup", lookupRequest{Keys: keys}, &res); err != nil {
		return nil, nil, err
	}

	return res.Rows, res.Missing, nil
}

func (g *HTTPGateway) Upsert(ctx context.Context, keys []string, rows [][]float64) error {
	return g.post(ctx, "/upsert", upsertRequest{Keys: keys, Rows: rows}, nil)
}

func (g *HTTPGateway) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach embedding store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding store returned error: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode embedding store response: %w", err)
	}

	return nil
}
