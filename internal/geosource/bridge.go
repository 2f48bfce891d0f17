package geosource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beautycita/geotrack/internal/model"
)

// HTTPBridge reads fixes from a platform bridge daemon: a small helper that
// owns the OS location APIs and exposes them over loopback HTTP.
//
//	GET /position    -> 200 {"latitude":..,"longitude":..,"accuracy":..,"timestamp":".."}
//	                    403 when the user denied location access
//	                    503 when no fix is available yet
//	GET /permission  -> 200 {"state":"granted"|"prompt"|"denied"}
type HTTPBridge struct {
	baseURL       string
	httpClient    *http.Client
	watchInterval time.Duration
}

// BridgeOption configures the HTTPBridge.
type BridgeOption func(*HTTPBridge)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) BridgeOption {
	return func(b *HTTPBridge) {
		b.httpClient = hc
	}
}

// WithRequestTimeout bounds each single-fix request.
func WithRequestTimeout(d time.Duration) BridgeOption {
	return func(b *HTTPBridge) {
		b.httpClient.Timeout = d
	}
}

// WithWatchInterval sets how often Watch polls the bridge.
func WithWatchInterval(d time.Duration) BridgeOption {
	return func(b *HTTPBridge) {
		b.watchInterval = d
	}
}

// NewHTTPBridge creates an HTTPBridge for the daemon at baseURL.
func NewHTTPBridge(baseURL string, opts ...BridgeOption) *HTTPBridge {
	b := &HTTPBridge{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		watchInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type bridgePosition struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

type bridgePermission struct {
	State string `json:"state"`
}

// Current fetches a single fix from the bridge.
func (b *HTTPBridge) Current(ctx context.Context) (model.Position, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/position", nil)
	if err != nil {
		return model.Position{}, eris.Wrap(err, "geosource: build position request")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		// A deadline on either the request context or the client maps to
		// the retryable timeout class.
		if ctx.Err() != nil || isTimeout(err) {
			return model.Position{}, ErrTimeout
		}
		return model.Position{}, eris.Wrap(err, "geosource: fetch position")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return model.Position{}, ErrPermissionDenied
	case http.StatusServiceUnavailable:
		return model.Position{}, ErrUnavailable
	default:
		return model.Position{}, eris.New(fmt.Sprintf("geosource: bridge returned %d", resp.StatusCode))
	}

	var pos bridgePosition
	if err := json.NewDecoder(resp.Body).Decode(&pos); err != nil {
		return model.Position{}, eris.Wrap(err, "geosource: decode position")
	}
	ts := pos.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return model.Position{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Accuracy:  pos.Accuracy,
		Timestamp: ts,
	}, nil
}

// Watch polls the bridge at the configured interval and streams the results.
func (b *HTTPBridge) Watch(ctx context.Context) (<-chan Sample, error) {
	out := make(chan Sample)
	go func() {
		defer close(out)
		ticker := time.NewTicker(b.watchInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			pos, err := b.Current(ctx)
			if err != nil {
				zap.L().Debug("geosource: watch sample failed", zap.Error(err))
			}
			sample := Sample{Position: pos, Err: err}
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Permission reads the platform permission state from the bridge.
func (b *HTTPBridge) Permission(ctx context.Context) (model.PermissionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/permission", nil)
	if err != nil {
		return "", eris.Wrap(err, "geosource: build permission request")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "geosource: fetch permission")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", eris.New(fmt.Sprintf("geosource: bridge returned %d", resp.StatusCode))
	}

	var perm bridgePermission
	if err := json.NewDecoder(resp.Body).Decode(&perm); err != nil {
		return "", eris.Wrap(err, "geosource: decode permission")
	}
	status := model.PermissionStatus(perm.State)
	if !status.Valid() {
		return "", eris.New(fmt.Sprintf("geosource: unknown permission state %q", perm.State))
	}
	return status, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if eris.As(err, &t) {
		return t.Timeout()
	}
	return false
}
