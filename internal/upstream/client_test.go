package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"EUR":0.9}}`))
	}))
	defer srv.Close()

	var out struct {
		Base  string             `json:"base"`
		Rates map[string]float64 `json:"rates"`
	}
	c := NewClient(time.Second, 0)
	require.NoError(t, c.FetchJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, "USD", out.Base)
	assert.Equal(t, 0.9, out.Rates["EUR"])
}

func TestFetchJSONRetriesThenReportsStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(time.Second, 1)
	c.retryDelay = time.Millisecond

	var out map[string]any
	err := c.FetchJSON(context.Background(), srv.URL, &out)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, int32(2), hits.Load())
}
