package nominatim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverse(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		gotQuery = map[string]string{
			"format":         r.URL.Query().Get("format"),
			"zoom":           r.URL.Query().Get("zoom"),
			"addressdetails": r.URL.Query().Get("addressdetails"),
		}
		w.Write([]byte(`{"display_name":"Zona Romántica, Puerto Vallarta, Jalisco, México"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(100))
	name, err := c.Reverse(context.Background(), 20.6077, -105.2404)
	require.NoError(t, err)
	assert.Equal(t, "Zona Romántica, Puerto Vallarta, Jalisco, México", name)
	assert.Equal(t, "json", gotQuery["format"])
	assert.Equal(t, "16", gotQuery["zoom"])
	assert.Equal(t, "1", gotQuery["addressdetails"])
}

func TestReverse_EmptyDisplayName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(100))
	_, err := c.Reverse(context.Background(), 1, 2)
	assert.Error(t, err)
}

func TestReverse_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(100))
	_, err := c.Reverse(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
