package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const checkPath = "/api/v1/availability/check"

// HTTPChecker calls the availability check endpoint of the bakery API.
type HTTPChecker struct {
	BaseURL *url.URL
	HTTP    *http.Client
	// Header is copied onto every request, e.g. X-User-Id.
	Header http.Header
}

// NewHTTPChecker creates a checker against baseURL
func NewHTTPChecker(baseURL string, httpClient *http.Client) (*HTTPChecker, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPChecker{BaseURL: u, HTTP: httpClient, Header: http.Header{}}, nil
}

type checkRequest struct {
	Items []Request `json:"items"`
}

type checkResponse struct {
	RealAvailability map[int64]int64 `json:"realAvailability"`
}

func (h *HTTPChecker) Check(ctx context.Context, items []Request) (map[int64]int64, error) {
	body, err := json.Marshal(checkRequest{Items: items})
	if err != nil {
		return nil, err
	}

	u := h.BaseURL.ResolveReference(&url.URL{Path: checkPath})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vv := range h.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("availability check returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode availability response: %w", err)
	}
	if out.RealAvailability == nil {
		out.RealAvailability = map[int64]int64{}
	}
	return out.RealAvailability, nil
}
