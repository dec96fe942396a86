// Package upstream queries the model-serving API the chat UI talks to.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is used when the configured base URL is blank.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultTimeout bounds one tags request.
	DefaultTimeout = 15 * time.Second

	// maxResponseSize caps the tags response body (4 MiB).
	maxResponseSize = 4 << 20

	tagsPath = "/api/tags"
)

// NormalizeBaseURL trims whitespace, falls back to DefaultBaseURL when the
// result is empty and strips trailing slashes.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		u = DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

// Model is one entry of the tags listing.
type Model struct {
	Name       string       `json:"name"`
	Size       int64        `json:"size"`
	ModifiedAt time.Time    `json:"modified_at"`
	Details    ModelDetails `json:"details"`
}

// ModelDetails carries the optional model metadata.
type ModelDetails struct {
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Client talks to the model-serving API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient returns a Client for baseURL. A zero timeout selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		baseURL:    NormalizeBaseURL(baseURL),
		logger:     logger.With("component", "upstream"),
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListModels returns the models the API serves, sorted by name. Entries
// without a name are dropped.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	url := c.baseURL + tagsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	var tags tagsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&tags); err != nil {
		return nil, fmt.Errorf("upstream: decode %s: %w", url, err)
	}

	models := make([]Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			models = append(models, m)
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	c.logger.Debug("models listed", "url", url, "count", len(models))
	return models, nil
}

// Probe reports whether the API answers a tags request.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
