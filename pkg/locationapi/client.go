// Package locationapi is the HTTP client for the backend location endpoints.
package locationapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/beautycita/geotrack/internal/model"
	"github.com/beautycita/geotrack/internal/resilience"
)

// Backend endpoint paths. Exported so queue consumers can label where a
// failed push was headed.
const (
	UpdatePath       = "/api/location/update"
	BookingTrackPath = "/api/location/booking-track"
)

// Client pushes location fixes to the backend.
type Client interface {
	// PushUpdate reports a periodic fix.
	PushUpdate(ctx context.Context, payload model.PushPayload) error

	// PushBookingTrack reports a fix tied to an active booking.
	PushBookingTrack(ctx context.Context, payload model.PushPayload) error
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *client) {
		c.token = token
	}
}

type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) PushUpdate(ctx context.Context, payload model.PushPayload) error {
	return c.post(ctx, UpdatePath, payload)
}

func (c *client) PushBookingTrack(ctx context.Context, payload model.PushPayload) error {
	return c.post(ctx, BookingTrackPath, payload)
}

func (c *client) post(ctx context.Context, path string, payload model.PushPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "locationapi: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "locationapi: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return eris.Wrapf(err, "locationapi: POST %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read a little of the body for the error message; servers vary.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = eris.New(fmt.Sprintf("locationapi: POST %s returned %d: %s", path, resp.StatusCode, snippet))
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(err, resp.StatusCode)
	}
	return err
}
