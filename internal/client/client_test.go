package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientErrorsAreSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"grant failed","details":"invalid MAC address \"junk\""}`))
	}))
	defer srv.Close()

	c := New(strings.TrimPrefix(srv.URL, "http://"))
	_, err := c.Grant("junk", 10, "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grant failed")
	assert.Contains(t, err.Error(), "invalid MAC")
}

func TestClientUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/usage", r.URL.Path)
		w.Write([]byte(`{"profiles":[{"profile":"kids","usage_today":30,"daily_limit":120,"remaining":90}]}`))
	}))
	defer srv.Close()

	c := New(strings.TrimPrefix(srv.URL, "http://"))
	usage, err := c.Usage()
	require.NoError(t, err)
	require.Len(t, usage.Profiles, 1)
	assert.Equal(t, 90, usage.Profiles[0].Remaining)
}

func TestClientUnreachable(t *testing.T) {
	c := New("127.0.0.1:1")
	assert.False(t, c.Healthy())
	_, err := c.State()
	assert.Error(t, err)
}
